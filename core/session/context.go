package session

import "context"

type ctxKey int

const (
	skipAuthKey ctxKey = iota + 1
	retriedKey
)

// WithoutAuth marks requests made with ctx as anonymous: the transport neither attaches a token nor refreshes.
func WithoutAuth(ctx context.Context) context.Context {
	return context.WithValue(ctx, skipAuthKey, true)
}

// withRetried marks requests made with ctx as already retried: a 401 is returned as is.
func withRetried(ctx context.Context) context.Context {
	return context.WithValue(ctx, retriedKey, true)
}

func skipsAuth(ctx context.Context) bool {
	v, _ := ctx.Value(skipAuthKey).(bool)
	return v
}

func isRetried(ctx context.Context) bool {
	v, _ := ctx.Value(retriedKey).(bool)
	return v
}
