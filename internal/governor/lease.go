package governor

import "sync"

// Lease is one held permit. Its lifetime is HELD until the first Release
// call; further calls are no-ops, so a deferred Release is always safe even
// when an explicit early release already happened.
type Lease struct {
	once    sync.Once
	release func()
}

func newLease(release func()) *Lease {
	return &Lease{release: release}
}

// Release returns the permit. Idempotent.
func (l *Lease) Release() {
	l.once.Do(l.release)
}
