// Package ratelimit defines the send pacing port shared by all runs of the process.
package ratelimit

import "context"

// RateLimiter paces sends per destination chat.
type RateLimiter interface {
	Allow(ctx context.Context, destination string) (bool, error)
	Wait(ctx context.Context, destination string) error
}
