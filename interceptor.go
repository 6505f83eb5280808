package sambung

import "context"

// RequestInterceptor transforms call options before the call executes. Each
// interceptor receives the previous value and returns a possibly-modified
// copy; returning an error aborts the call and propagates unmodified.
type RequestInterceptor func(ctx context.Context, opts CallOptions) (CallOptions, error)

// ResponseInterceptor transforms a successful response before it is returned.
// Errors propagate unmodified.
type ResponseInterceptor func(ctx context.Context, resp *CallResponse) (*CallResponse, error)

func applyRequestInterceptors(ctx context.Context, chain []RequestInterceptor, opts CallOptions) (CallOptions, error) {
	for _, ic := range chain {
		next, err := ic(ctx, opts)
		if err != nil {
			return opts, err
		}
		opts = next
	}
	return opts, nil
}

func applyResponseInterceptors(ctx context.Context, chain []ResponseInterceptor, resp *CallResponse) (*CallResponse, error) {
	for _, ic := range chain {
		next, err := ic(ctx, resp)
		if err != nil {
			return nil, err
		}
		resp = next
	}
	return resp, nil
}
