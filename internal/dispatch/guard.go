package dispatch

import "sync/atomic"

// Guard is a single permit that marks a submission as in flight
type Guard struct {
	inFlight atomic.Bool
}

// TryAcquire takes the permit. It returns false if a submission is already in flight.
func (g *Guard) TryAcquire() bool {
	return g.inFlight.CompareAndSwap(false, true)
}

// Release returns the permit
func (g *Guard) Release() {
	g.inFlight.Store(false)
}

// InFlight reports whether the permit is held
func (g *Guard) InFlight() bool {
	return g.inFlight.Load()
}
