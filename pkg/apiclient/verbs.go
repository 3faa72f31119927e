package apiclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
)

// Get reads with the configured read retry budget.
func (d *Dispatcher) Get(ctx context.Context, path string, query url.Values) (*Response, error) {
	return d.Dispatch(ctx, Descriptor{URL: path, Method: http.MethodGet, Query: query, RetryBudget: d.readRetries, Auth: true})
}

// ReadRetries returns the retry budget Get applies.
func (d *Dispatcher) ReadRetries() int { return d.readRetries }

// Post sends body as JSON. It is never retried.
func (d *Dispatcher) Post(ctx context.Context, path string, body any) (*Response, error) {
	return d.Dispatch(ctx, Descriptor{URL: path, Method: http.MethodPost, Body: body, Auth: true})
}

// Put replaces the resource at path. It is never retried.
func (d *Dispatcher) Put(ctx context.Context, path string, body any) (*Response, error) {
	return d.Dispatch(ctx, Descriptor{URL: path, Method: http.MethodPut, Body: body, Auth: true})
}

// Patch partially updates the resource at path. It is never retried.
func (d *Dispatcher) Patch(ctx context.Context, path string, body any) (*Response, error) {
	return d.Dispatch(ctx, Descriptor{URL: path, Method: http.MethodPatch, Body: body, Auth: true})
}

// Delete removes the resource at path. It is never retried.
func (d *Dispatcher) Delete(ctx context.Context, path string) (*Response, error) {
	return d.Dispatch(ctx, Descriptor{URL: path, Method: http.MethodDelete, Auth: true})
}

// Do dispatches desc and decodes the response body into T.
func Do[T any](ctx context.Context, d *Dispatcher, desc Descriptor) (T, error) {
	resp, err := d.Dispatch(ctx, desc)
	if err != nil {
		var zero T
		return zero, err
	}
	return DecodeJSON[T](resp)
}

// DecodeJSON decodes resp.Body into T. An empty body yields the zero value.
func DecodeJSON[T any](resp *Response) (T, error) {
	var v T
	if resp == nil || len(resp.Body) == 0 {
		return v, nil
	}

	if err := json.Unmarshal(resp.Body, &v); err != nil {
		return v, fmt.Errorf("failed to decode response: %w", err)
	}
	return v, nil
}
