package chat

import "time"

// DefaultMaxContentLength bounds message text in runes.
const DefaultMaxContentLength = 4000

type options struct {
	now              func() time.Time
	maxContentLength int
}

// Option configures the chat components.
type Option func(*options)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithMaxContentLength overrides DefaultMaxContentLength. Zero disables the limit.
func WithMaxContentLength(n int) Option {
	return func(o *options) { o.maxContentLength = n }
}

func buildOptions(opts []Option) options {
	o := options{
		now:              func() time.Time { return time.Now().UTC() },
		maxContentLength: DefaultMaxContentLength,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
