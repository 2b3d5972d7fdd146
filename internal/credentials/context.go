package credentials

import "context"

type bundleKey struct{}

// WithBundle returns a copy of ctx carrying b.
func WithBundle(ctx context.Context, b *Bundle) context.Context {
	return context.WithValue(ctx, bundleKey{}, b)
}

// FromContext returns the bundle attached by WithBundle.
func FromContext(ctx context.Context) (*Bundle, bool) {
	b, ok := ctx.Value(bundleKey{}).(*Bundle)
	return b, ok && b != nil
}
