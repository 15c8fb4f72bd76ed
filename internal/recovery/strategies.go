// File: internal/recovery/strategies.go
package recovery

import (
	"context"
	"fmt"
	"time"

	"github.com/jsodeh/sabi/api/schemas"
)

// Generic strategies for the categories that have no dedicated domain module
// (network, user_interface, user_input). They cannot re-run the failed
// operation, so their job is bounded waiting plus an honest report of what the
// caller should do next.

// delayedRetry waits once and recommends re-running the original operation.
// It has no way to verify that the condition cleared, so it reports a
// non-success advisory and leaves the ledger entry standing.
type delayedRetry struct {
	delay time.Duration
}

func (s delayedRetry) Execute(ctx context.Context, serr *schemas.SystemError) (schemas.RecoveryResult, error) {
	if err := sleepCtx(ctx, s.delay); err != nil {
		return schemas.RecoveryResult{}, err
	}
	return schemas.RecoveryResult{
		Success:     false,
		Message:     "waited out the transient condition; retry unverified",
		Adaptations: []string{fmt.Sprintf("Waited %s before retry", s.delay)},
	}, nil
}

// backoffLadder sleeps through a fixed, capped delay ladder, ending early as
// soon as the probe confirms recovery. Without a confirming probe the ladder
// reports failure, so the caller's retry budget keeps counting.
type backoffLadder struct {
	delays []time.Duration
	// probe is consulted between rungs; returning true ends the ladder
	// successfully.
	probe func(ctx context.Context) bool
}

func (s backoffLadder) Execute(ctx context.Context, serr *schemas.SystemError) (schemas.RecoveryResult, error) {
	applied := make([]string, 0, len(s.delays))
	for _, d := range s.delays {
		if err := sleepCtx(ctx, d); err != nil {
			return schemas.RecoveryResult{Adaptations: applied}, err
		}
		applied = append(applied, fmt.Sprintf("Backed off %s", d))
		if s.probe != nil && s.probe(ctx) {
			return schemas.RecoveryResult{
				Success:     true,
				Message:     "connectivity restored during backoff",
				Adaptations: applied,
			}, nil
		}
	}
	return schemas.RecoveryResult{
		Success:     false,
		Message:     "connectivity not confirmed within backoff window",
		Adaptations: applied,
	}, nil
}

// userIntervention surfaces the failure to the user instead of retrying.
type userIntervention struct{}

func (userIntervention) Execute(_ context.Context, serr *schemas.SystemError) (schemas.RecoveryResult, error) {
	msg := serr.UserMessage
	if msg == "" {
		msg = "user action required"
	}
	return schemas.RecoveryResult{
		Success:     false,
		Message:     msg,
		Adaptations: []string{"Escalated to user intervention"},
	}, nil
}

// gracefulDegradation accepts a reduced-functionality outcome so the session
// can continue without the failed capability.
type gracefulDegradation struct{}

func (gracefulDegradation) Execute(_ context.Context, serr *schemas.SystemError) (schemas.RecoveryResult, error) {
	return schemas.RecoveryResult{
		Success:     true,
		Message:     "continuing with reduced functionality",
		Adaptations: []string{fmt.Sprintf("Degraded %s capability for this step", serr.Category)},
	}, nil
}

// sleepCtx is a bounded, cancellable sleep.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
