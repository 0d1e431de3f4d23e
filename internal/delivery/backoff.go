package delivery

import (
	"math"
	"time"

	"github.com/JakeFAU/polmsg-collector/internal/ingest"
)

// Backoff computes base * 2^attempt, capped at Max.
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

// Delay returns the wait after the zero-based attempt.
func (b Backoff) Delay(attempt int) time.Duration {
	if b.Base <= 0 {
		return 0
	}
	if attempt < 0 {
		attempt = 0
	}
	d := b.Base
	for i := 0; i < attempt; i++ {
		if b.Max > 0 && d >= b.Max {
			break
		}
		if d > math.MaxInt64/2 {
			break
		}
		d *= 2
	}
	if b.Max > 0 && d > b.Max {
		return b.Max
	}
	return d
}

// StepOutcome is where the retry machine goes after an attempt.
type StepOutcome string

// Retry machine outcomes.
const (
	StepDone   StepOutcome = "done"
	StepRetry  StepOutcome = "retry"
	StepGiveUp StepOutcome = "give_up"
)

// Step is one transition of the retry machine.
type Step struct {
	// Attempt is the zero-based attempt that just finished.
	Attempt int
	Outcome StepOutcome
	Class   ingest.DeliveryClass
	// Delay is the wait before the next attempt, or the cooldown after giving up on a rate limit.
	Delay time.Duration
}

// Policy is the retry machine. It performs no I/O.
type Policy struct {
	MaxRetries int
	Backoff    Backoff
	// RateLimitDelay is used when a rate-limit signal carries no Retry-After.
	RateLimitDelay time.Duration
}

// Next decides what follows attempt given its error. A batch is attempted at
// most MaxRetries+1 times.
func (p Policy) Next(attempt int, err error) Step {
	step := Step{Attempt: attempt}
	if err == nil {
		step.Outcome = StepDone
		return step
	}
	step.Class = Classify(err)
	step.Delay = p.Backoff.Delay(attempt)
	if step.Class == ingest.DeliveryRateLimited {
		wait := retryAfter(err)
		if wait <= 0 {
			wait = p.RateLimitDelay
		}
		if wait > step.Delay {
			step.Delay = wait
		}
	}
	switch {
	case step.Class == ingest.DeliveryTerminal:
		step.Outcome = StepGiveUp
		step.Delay = 0
	case attempt >= p.MaxRetries:
		step.Outcome = StepGiveUp
		if step.Class != ingest.DeliveryRateLimited {
			step.Delay = 0
		}
	default:
		step.Outcome = StepRetry
	}
	return step
}
