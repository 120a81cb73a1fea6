package core

import "time"

// Clock abstracts the time source so transition timestamps and
// printing-time accounting are testable.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func SystemClock() Clock { return systemClock{} }
