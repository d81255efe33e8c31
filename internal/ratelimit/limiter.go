package ratelimit

import "context"

// Limiter bounds how many gateway sends may start per second for a key.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
	Wait(ctx context.Context, key string) error
}

// Unlimited admits every call. Used when throttling is switched off.
type Unlimited struct{}

func (Unlimited) Allow(context.Context, string) (bool, error) { return true, nil }

func (Unlimited) Wait(ctx context.Context, _ string) error {
	return ctx.Err()
}
