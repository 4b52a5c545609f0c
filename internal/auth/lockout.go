package auth

import "time"

// LockoutPolicy decides when repeated failures lock an account.
//
// With ExtendOnAttempt unset the lock is a fixed window measured from the
// failure that crossed the threshold. With it set, each failed attempt made
// during the lock pushes LockoutUntil to now+Duration.
type LockoutPolicy struct {
	MaxAttempts     int
	Duration        time.Duration
	ExtendOnAttempt bool
}

func (p LockoutPolicy) normalized() LockoutPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = defaultMaxAttempts
	}
	if p.Duration <= 0 {
		p.Duration = defaultLockWindow
	}
	return p
}

func (p LockoutPolicy) Reached(attempts int) bool {
	return attempts >= p.normalized().MaxAttempts
}

// Apply returns the state after one more failure, given the stored counter
// and lock. Stores call it while holding the row so the increment is atomic.
func (p LockoutPolicy) Apply(prevAttempts int, current *time.Time, now time.Time) FailedLogin {
	p = p.normalized()

	if current != nil && current.After(now) {
		out := FailedLogin{Attempts: prevAttempts, LockoutUntil: current}
		if p.ExtendOnAttempt {
			until := now.Add(p.Duration)
			out.Attempts = prevAttempts + 1
			out.LockoutUntil = &until
		}
		return out
	}

	attempts := prevAttempts + 1
	if current != nil {
		// the previous lock has elapsed; this failure opens a new window
		attempts = 1
	}

	out := FailedLogin{Attempts: attempts}
	if p.Reached(attempts) {
		until := now.Add(p.Duration)
		out.LockoutUntil = &until
		out.Locked = true
	}
	return out
}
