package auth

import "context"

// keyContextKey 是上下文中存储 Key 的键类型。
type keyContextKey struct{}

// WithKey 将通过鉴权的 API Key 信息存储到上下文中。
func WithKey(ctx context.Context, key *Key) context.Context {
	if key == nil {
		return ctx
	}
	return context.WithValue(ctx, keyContextKey{}, key)
}

// KeyFromContext 从上下文中提取通过鉴权的 API Key 信息。
func KeyFromContext(ctx context.Context) *Key {
	if ctx == nil {
		return nil
	}
	if key, ok := ctx.Value(keyContextKey{}).(*Key); ok {
		return key
	}
	return nil
}
