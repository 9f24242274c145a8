package server

import (
	"time"

	"VaultLedger/internal/event"

	"golang.org/x/time/rate"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// CommandLimiter throttles operator commands that drive venue traffic
// (rebalance, seed). A nil limiter allows everything.
type CommandLimiter struct {
	limiters map[event.CommandKind]*rate.Limiter
}

// NewCommandLimiter allows one rebalance per rebalanceEvery and one seed per
// seedEvery, each with a burst of one.
func NewCommandLimiter(rebalanceEvery, seedEvery time.Duration) *CommandLimiter {
	return &CommandLimiter{
		limiters: map[event.CommandKind]*rate.Limiter{
			event.CommandKindRebalance:     rate.NewLimiter(rate.Every(rebalanceEvery), 1),
			event.CommandKindSeedPrincipal: rate.NewLimiter(rate.Every(seedEvery), 1),
		},
	}
}

// Allow returns a ResourceExhausted status when kind is over its rate.
func (l *CommandLimiter) Allow(kind event.CommandKind) error {
	if l == nil {
		return nil
	}
	lim, ok := l.limiters[kind]
	if !ok {
		return nil
	}
	r := lim.Reserve()
	if !r.OK() {
		return status.Errorf(codes.ResourceExhausted, "%s rate limit exceeded", kind)
	}
	if delay := r.Delay(); delay > 0 {
		r.Cancel()
		retry := int(delay.Seconds())
		if retry < 1 {
			retry = 1
		}
		return status.Errorf(codes.ResourceExhausted, "%s rate limit exceeded, retry in %ds", kind, retry)
	}
	return nil
}
