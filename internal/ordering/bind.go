package ordering

import "context"

// Bound is a Service with the requester fixed, for callers that reorder on
// behalf of one signed-in user.
type Bound struct {
	service     *Service
	requesterID string
}

func Bind(service *Service, requesterID string) Bound {
	return Bound{service: service, requesterID: requesterID}
}

func (b Bound) Reorder(ctx context.Context, scope Scope, entries []Entry) error {
	return b.service.Reorder(ctx, scope, entries, b.requesterID)
}
