// Package transport is the REST-like collaborator contract the core consumes
// for manifests and asset metadata. Every call is fallible and asynchronous;
// the core never assumes a healthy back-end.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net/url"
)

// Client is the narrow interface the core depends on.
type Client interface {
	// FetchJSON GETs path (with optional query params) and decodes the JSON
	// response into out.
	FetchJSON(ctx context.Context, path string, params url.Values, out any) error
	// PostJSON POSTs body as JSON and decodes the response into out. A nil
	// out discards the response body.
	PostJSON(ctx context.Context, path string, body any, out any) error
	// DeleteResource issues a DELETE for path.
	DeleteResource(ctx context.Context, path string) error
}

// Error carries the non-success status of a failed call.
type Error struct {
	Status int
	Path   string
}

func (e *Error) Error() string {
	return fmt.Sprintf("transport: %s returned status %d", e.Path, e.Status)
}

// StatusOf extracts the transport status from err, or 0 when err is not a
// transport error.
func StatusOf(err error) int {
	var te *Error
	if errors.As(err, &te) {
		return te.Status
	}
	return 0
}
