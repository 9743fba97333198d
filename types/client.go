package types

import (
	"context"
)

// Fetcher performs one backend call and decodes the envelope data into out.
type Fetcher interface {
	Do(ctx context.Context, req *Request, out interface{}) error
}

type Request struct {
	Method  string
	Path    string
	Query   map[string]string
	Body    interface{}
	Headers map[string]string
}
