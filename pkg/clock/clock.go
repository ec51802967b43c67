package clock

import "time"

// Clock lets services and workers take time as a dependency.
type Clock interface {
	Now() time.Time
}

type system struct{}

func System() Clock { return system{} }

func (system) Now() time.Time { return time.Now().UTC() }

type Fixed time.Time

func (f Fixed) Now() time.Time { return time.Time(f).UTC() }
