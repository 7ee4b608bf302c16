// Package clock abstracts wall-clock time so scheduling logic is testable.
package clock

import "time"

type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// System returns a Clock backed by the real wall clock (UTC).
func System() Clock { return systemClock{} }
