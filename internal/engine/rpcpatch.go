package engine

import (
	"context"

	"github.com/mailsched/mailsched/internal/rpc"
)

// interceptingCaller is the patch installed on a host *rpc.Client. It
// remembers the caller it replaced; nil means the client's built-in one.
type interceptingCaller struct {
	interceptor *Interceptor
	client      *rpc.Client
	original    rpc.Caller
}

func (c *interceptingCaller) base() rpc.Caller {
	if c.original != nil {
		return c.original
	}
	return c.client.Direct()
}

// Call implements rpc.Caller.
func (c *interceptingCaller) Call(ctx context.Context, method string, args map[string]any) (*rpc.Response, error) {
	rw, err := c.interceptor.tryIntercept(Call{
		Surface: SurfaceRPC,
		Method:  method,
		HasBody: args != nil,
		Payload: func() (map[string]any, error) { return args, nil },
	})
	if err != nil {
		return nil, err
	}
	if rw == nil {
		return c.base().Call(ctx, method, args)
	}

	return runRewrite(ctx, c.interceptor, SurfaceRPC, rw, func(ctx context.Context) (*rpc.Response, error) {
		return c.base().Call(ctx, rw.Method, rw.Payload)
	})
}
