package auth

import "time"

// AttemptState is the per-credential failure bookkeeping persisted alongside
// a password hash.
type AttemptState struct {
	Attempts    int       `json:"login_attempts"`
	LastFailure time.Time `json:"last_failure,omitempty"`
	LockedUntil time.Time `json:"locked_until,omitempty"`
}

// LockoutPolicy decides whether a credential check may proceed. A zero
// MaxAttempts disables locking; attempts still count.
type LockoutPolicy struct {
	MaxAttempts int
	Window      time.Duration
	Cooldown    time.Duration
}

// DefaultLockoutPolicy allows five failures per fifteen minutes.
func DefaultLockoutPolicy() LockoutPolicy {
	return LockoutPolicy{MaxAttempts: 5, Window: 15 * time.Minute, Cooldown: 15 * time.Minute}
}

// Admit is evaluated before the secret is compared. It returns the state to
// use for the check (expired locks and stale failures are cleared) or
// ErrLocked while the cool-down is running.
func (p LockoutPolicy) Admit(s AttemptState, now time.Time) (AttemptState, error) {
	if !s.LockedUntil.IsZero() {
		if now.Before(s.LockedUntil) {
			return s, ErrLocked
		}
		return AttemptState{}, nil
	}
	if p.Window > 0 && !s.LastFailure.IsZero() && now.Sub(s.LastFailure) > p.Window {
		return AttemptState{}, nil
	}
	return s, nil
}

// Fail records a rejected secret.
func (p LockoutPolicy) Fail(s AttemptState, now time.Time) AttemptState {
	s.Attempts++
	s.LastFailure = now
	if p.MaxAttempts > 0 && s.Attempts >= p.MaxAttempts {
		s.LockedUntil = now.Add(p.Cooldown)
	}
	return s
}

// Succeed clears the failure bookkeeping.
func (p LockoutPolicy) Succeed() AttemptState { return AttemptState{} }
