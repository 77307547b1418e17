package app

import (
	"context"
	"time"

	"noob2root-bot/internal/domain"
)

// Waiter is a subscription armed before the prompt that it waits on is sent,
// so a quick reply cannot slip between the prompt and the wait.
type Waiter struct {
	sub Subscription
}

// Expect subscribes to scopeID right away.
func Expect(p Platform, scopeID string, match MatchFunc) *Waiter {
	return &Waiter{sub: p.Subscribe(scopeID, match)}
}

// Wait returns the first matching message or domain.ErrAwaitTimeout.
// The subscription is cancelled once Wait returns.
func (w *Waiter) Wait(ctx context.Context, timeout time.Duration) (domain.Message, error) {
	defer w.sub.Cancel()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case msg, ok := <-w.sub.Messages():
		if !ok {
			return domain.Message{}, domain.ErrAwaitTimeout
		}
		return msg, nil
	case <-timer.C:
		return domain.Message{}, domain.ErrAwaitTimeout
	case <-ctx.Done():
		return domain.Message{}, ctx.Err()
	}
}

// Await subscribes and waits in one step.
func Await(ctx context.Context, p Platform, scopeID string, match MatchFunc, timeout time.Duration) (domain.Message, error) {
	return Expect(p, scopeID, match).Wait(ctx, timeout)
}
