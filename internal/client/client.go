// Package client talks to the bookmark API over HTTP. It implements the
// reorder contract used by dragctl and the create contract used by
// optimistic, so both can run against a remote server.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"shelfmark/api/internal/optimistic"
	"shelfmark/api/internal/ordering"
	"shelfmark/api/internal/store"
)

const defaultTimeout = 10 * time.Second

// APIError is a non-2xx response. It unwraps to the matching ordering
// sentinel so callers can use errors.Is without knowing the transport.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api %d %s: %s", e.Status, e.Code, e.Message)
}

func (e *APIError) Unwrap() error {
	switch e.Status {
	case http.StatusUnauthorized:
		return ordering.ErrUnauthorized
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return ordering.ErrValidation
	case http.StatusForbidden:
		return ordering.ErrForbidden
	case http.StatusNotFound:
		return ordering.ErrNotFound
	}
	if e.Status >= http.StatusInternalServerError {
		return ordering.ErrPersistenceFault
	}
	return nil
}

type Client struct {
	baseURL url.URL
	http    *http.Client

	mu    sync.RWMutex
	token string
}

func New(baseURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	return &Client{baseURL: *parsed, http: httpClient}, nil
}

func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

type Session struct {
	Token        string    `json:"token"`
	RefreshToken string    `json:"refreshToken"`
	UserID       string    `json:"userId"`
	UserName     string    `json:"userName"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

// SignUp creates an account and keeps its access token for later calls.
func (c *Client) SignUp(ctx context.Context, email, password, displayName string) (Session, error) {
	var session Session
	body := map[string]string{"email": email, "password": password, "displayName": displayName}
	if err := c.do(ctx, http.MethodPost, "/api/auth/signup", body, &session); err != nil {
		return Session{}, err
	}
	c.SetToken(session.Token)
	return session, nil
}

func (c *Client) SignIn(ctx context.Context, email, password string) (Session, error) {
	var session Session
	body := map[string]string{"email": email, "password": password}
	if err := c.do(ctx, http.MethodPost, "/api/auth/signin", body, &session); err != nil {
		return Session{}, err
	}
	c.SetToken(session.Token)
	return session, nil
}

func (c *Client) Collections(ctx context.Context) ([]store.Entity, error) {
	var payload struct {
		Collections []store.Entity `json:"collections"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/collections", nil, &payload); err != nil {
		return nil, err
	}
	return payload.Collections, nil
}

// TreeNode mirrors the tree endpoint's nested payload.
type TreeNode struct {
	store.Entity
	Children []TreeNode `json:"children,omitempty"`
}

func (c *Client) Tree(ctx context.Context, collectionID string) (TreeNode, error) {
	var node TreeNode
	if err := c.do(ctx, http.MethodGet, "/api/collections/"+url.PathEscape(collectionID), nil, &node); err != nil {
		return TreeNode{}, err
	}
	return node, nil
}

// Snapshot fetches every collection with its descendants as one optimistic
// tree.
func (c *Client) Snapshot(ctx context.Context) (optimistic.Tree, error) {
	collections, err := c.Collections(ctx)
	if err != nil {
		return optimistic.Tree{}, err
	}
	var entities []store.Entity
	for _, col := range collections {
		node, err := c.Tree(ctx, col.ID)
		if err != nil {
			return optimistic.Tree{}, fmt.Errorf("tree %s: %w", col.ID, err)
		}
		entities = flatten(node, entities)
	}
	return optimistic.Build(entities), nil
}

func flatten(node TreeNode, out []store.Entity) []store.Entity {
	out = append(out, node.Entity)
	for _, child := range node.Children {
		out = flatten(child, out)
	}
	return out
}

// Create issues the create request for kind under parentID.
func (c *Client) Create(ctx context.Context, kind store.Kind, parentID string, fields optimistic.Fields) (store.Entity, error) {
	path, err := createPath(kind, parentID)
	if err != nil {
		return store.Entity{}, err
	}
	body := map[string]string{"description": fields.Description}
	if kind == store.KindItem {
		body["title"] = fields.Name
		body["url"] = fields.URL
	} else {
		body["name"] = fields.Name
	}
	var created store.Entity
	if err := c.do(ctx, http.MethodPost, path, body, &created); err != nil {
		return store.Entity{}, err
	}
	return created, nil
}

// Reorder posts one batch. A persistence fault comes back as
// *ordering.FaultError carrying the server's failed ids.
func (c *Client) Reorder(ctx context.Context, scope ordering.Scope, entries []ordering.Entry) error {
	path, err := reorderPath(scope)
	if err != nil {
		return err
	}
	body := map[string]any{"entries": entries}
	var result struct {
		Success bool `json:"success"`
	}
	err = c.do(ctx, http.MethodPost, path, body, &result)
	var fault *faultResponse
	if errors.As(err, &fault) {
		return &ordering.FaultError{FailedIDs: fault.FailedIDs, Partial: fault.Partial, Err: fault.APIError}
	}
	if err != nil {
		return err
	}
	if !result.Success {
		return &APIError{Status: http.StatusOK, Code: "UNEXPECTED", Message: "reorder did not report success"}
	}
	return nil
}

func (c *Client) Delete(ctx context.Context, kind store.Kind, id string) error {
	segment, ok := segments[kind]
	if !ok {
		return fmt.Errorf("unknown kind %q", kind)
	}
	return c.do(ctx, http.MethodDelete, "/api/"+segment+"/"+url.PathEscape(id), nil, nil)
}

var segments = map[store.Kind]string{
	store.KindCollection:  "collections",
	store.KindCategory:    "categories",
	store.KindSubcategory: "subcategories",
	store.KindItem:        "items",
}

func createPath(kind store.Kind, parentID string) (string, error) {
	if kind == store.KindCollection {
		return "/api/collections", nil
	}
	parentKind, ok := kind.Parent()
	if !ok {
		return "", fmt.Errorf("unknown kind %q", kind)
	}
	return "/api/" + segments[parentKind] + "/" + url.PathEscape(parentID) + "/" + segments[kind], nil
}

func reorderPath(scope ordering.Scope) (string, error) {
	if scope.Kind == store.KindCollection {
		return "/api/collections/reorder", nil
	}
	path, err := createPath(scope.Kind, scope.ParentID)
	if err != nil {
		return "", err
	}
	return path + "/reorder", nil
}

type faultResponse struct {
	*APIError
	FailedIDs []string
	Partial   bool
}

func (f *faultResponse) Unwrap() error { return f.APIError }

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	reqURL := c.baseURL
	reqURL.Path = strings.TrimRight(reqURL.Path, "/") + path
	req, err := http.NewRequestWithContext(ctx, method, reqURL.String(), reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.mu.RLock()
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	c.mu.RUnlock()

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	var payload struct {
		Code    string `json:"code"`
		Error   string `json:"error"`
		Details struct {
			FailedIDs []string `json:"failedIds"`
			Partial   bool     `json:"partial"`
		} `json:"details"`
	}
	data, _ := io.ReadAll(resp.Body)
	apiErr := &APIError{Status: resp.StatusCode, Code: "HTTP_ERROR", Message: strings.TrimSpace(string(data))}
	if json.Unmarshal(data, &payload) == nil && payload.Code != "" {
		apiErr.Code = payload.Code
		apiErr.Message = payload.Error
	}
	if apiErr.Code == "PERSISTENCE_FAULT" {
		return &faultResponse{APIError: apiErr, FailedIDs: payload.Details.FailedIDs, Partial: payload.Details.Partial}
	}
	return apiErr
}
