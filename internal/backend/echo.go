package backend

import (
	"context"
	"fmt"
)

// Func adapts a function to the Backend interface. Tests use it to script
// agent behavior.
type Func func(ctx context.Context, req Request) (Response, error)

// Send calls f.
func (f Func) Send(ctx context.Context, req Request) (Response, error) {
	return f(ctx, req)
}

// Close is a no-op.
func (f Func) Close() error { return nil }

// Echo returns a backend that answers with the prompt it was given. It is
// the fallback when no provider keys are configured.
func Echo() Func {
	return func(ctx context.Context, req Request) (Response, error) {
		if err := ctx.Err(); err != nil {
			return Response{}, err
		}
		return Response{
			Content: fmt.Sprintf("[%s] %s", req.Model, req.Prompt()),
			Model:   req.Model,
		}, nil
	}
}
