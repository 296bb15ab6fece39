package messenger

import (
	"context"
	"fmt"

	"github.com/kursadbilgin/course-relay/internal/observability"
	"github.com/kursadbilgin/course-relay/internal/ratelimit"
)

var _ Messenger = (*PacedMessenger)(nil)

// PacedMessenger waits for a send slot on the target chat before every call.
type PacedMessenger struct {
	next    Messenger
	limiter ratelimit.RateLimiter
	metrics *observability.Metrics
}

func NewPacedMessenger(next Messenger, limiter ratelimit.RateLimiter) (*PacedMessenger, error) {
	if next == nil {
		return nil, fmt.Errorf("messenger is required")
	}
	if limiter == nil {
		return nil, fmt.Errorf("rate limiter is required")
	}
	return &PacedMessenger{next: next, limiter: limiter}, nil
}

func (p *PacedMessenger) SetMetrics(metrics *observability.Metrics) {
	if p == nil {
		return
	}
	p.metrics = metrics
}

func (p *PacedMessenger) SendDocument(ctx context.Context, chat string, path string, caption string, thread int64) (int64, error) {
	if err := p.acquire(ctx, chat); err != nil {
		return 0, err
	}
	return p.next.SendDocument(ctx, chat, path, caption, thread)
}

func (p *PacedMessenger) SendVideo(ctx context.Context, chat string, video VideoUpload, thread int64) (int64, error) {
	if err := p.acquire(ctx, chat); err != nil {
		return 0, err
	}
	return p.next.SendVideo(ctx, chat, video, thread)
}

func (p *PacedMessenger) SendLinkCard(ctx context.Context, chat string, urls []string, caption string, thread int64) (int64, error) {
	if err := p.acquire(ctx, chat); err != nil {
		return 0, err
	}
	return p.next.SendLinkCard(ctx, chat, urls, caption, thread)
}

func (p *PacedMessenger) SendText(ctx context.Context, chat string, text string, thread int64) (int64, error) {
	if err := p.acquire(ctx, chat); err != nil {
		return 0, err
	}
	return p.next.SendText(ctx, chat, text, thread)
}

// CopyMessage is paced on the receiving chat.
func (p *PacedMessenger) CopyMessage(ctx context.Context, fromChat string, messageID int64, toChat string, thread int64) (int64, error) {
	if err := p.acquire(ctx, toChat); err != nil {
		return 0, err
	}
	return p.next.CopyMessage(ctx, fromChat, messageID, toChat, thread)
}

func (p *PacedMessenger) CreateTopic(ctx context.Context, chat string, name string) (int64, error) {
	if err := p.acquire(ctx, chat); err != nil {
		return 0, err
	}
	return p.next.CreateTopic(ctx, chat, name)
}

func (p *PacedMessenger) acquire(ctx context.Context, chat string) error {
	allowed, err := p.limiter.Allow(ctx, chat)
	if err != nil {
		return fmt.Errorf("send limiter: %w", err)
	}
	if allowed {
		return nil
	}

	p.metrics.IncRateLimitWait()
	if err := p.limiter.Wait(ctx, chat); err != nil {
		return fmt.Errorf("send limiter: %w", err)
	}
	return nil
}
