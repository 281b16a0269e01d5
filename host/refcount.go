package host

import "sync/atomic"

// refcount counts references to an Interface. The release function runs
// exactly once, when the count drops to zero.
type refcount struct {
	n       atomic.Int32
	release func()
}

func newRefcount(release func()) *refcount {
	r := &refcount{release: release}
	r.n.Store(1)
	return r
}

// tryGet takes a reference unless the count already reached zero.
func (r *refcount) tryGet() bool {
	for {
		n := r.n.Load()
		if n <= 0 {
			return false
		}
		if r.n.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

// put drops a reference and releases on the final one. It reports whether
// the release ran.
func (r *refcount) put() bool {
	n := r.n.Add(-1)
	if n < 0 {
		panic("host: refcount underflow")
	}
	if n == 0 {
		r.release()
		return true
	}
	return false
}

func (r *refcount) load() int32 {
	return r.n.Load()
}
