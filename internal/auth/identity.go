package auth

import "context"

// Identity resolves who is making the current call. An empty id means no
// one is signed in.
type Identity interface {
	CurrentOwnerID(ctx context.Context) string
}

type claimsKey struct{}

func WithClaims(ctx context.Context, claims Claims) context.Context {
	return context.WithValue(ctx, claimsKey{}, claims)
}

func ClaimsFromContext(ctx context.Context) (Claims, bool) {
	claims, ok := ctx.Value(claimsKey{}).(Claims)
	return claims, ok
}

// ContextIdentity reads the owner from claims placed on the context by the
// HTTP layer.
type ContextIdentity struct{}

func (ContextIdentity) CurrentOwnerID(ctx context.Context) string {
	claims, ok := ClaimsFromContext(ctx)
	if !ok {
		return ""
	}
	return claims.Sub
}

// StaticIdentity always answers with the same owner.
type StaticIdentity string

func (s StaticIdentity) CurrentOwnerID(context.Context) string { return string(s) }
