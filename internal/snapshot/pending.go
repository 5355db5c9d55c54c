package snapshot

import "sync"

// PendingSnapshotPackage is the single slot between the hash verifier and
// the archive writer. A newer package replaces an unconsumed older one,
// except that an incremental package never replaces a full one: the
// incremental is dropped instead, since a full archive is the base every
// later incremental needs.
type PendingSnapshotPackage struct {
	mu    sync.Mutex
	pkg   *SnapshotPackage
	ready chan struct{}
}

func NewPendingSnapshotPackage() *PendingSnapshotPackage {
	return &PendingSnapshotPackage{ready: make(chan struct{}, 1)}
}

// Offer stores pkg. It returns the package that lost the slot, either the
// replaced one or pkg itself, so the caller can clean up its staging
// directory. The result is nil when the slot was empty.
func (p *PendingSnapshotPackage) Offer(pkg *SnapshotPackage) (dropped *SnapshotPackage) {
	p.mu.Lock()
	defer p.mu.Unlock()

	old := p.pkg
	if old != nil && old.Kind == PackageFull && pkg.Kind == PackageIncremental {
		return pkg
	}
	if old != nil {
		pkg.Superseded = old.Superseded + 1
	}
	p.pkg = pkg
	select {
	case p.ready <- struct{}{}:
	default:
	}
	return old
}

// Take removes and returns the pending package, or nil.
func (p *PendingSnapshotPackage) Take() *SnapshotPackage {
	p.mu.Lock()
	defer p.mu.Unlock()

	pkg := p.pkg
	p.pkg = nil
	return pkg
}

// Peek returns the pending package without removing it.
func (p *PendingSnapshotPackage) Peek() *SnapshotPackage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pkg
}

// Ready is signalled after every Offer that stored a package. A signal may
// be stale; Take returns nil in that case.
func (p *PendingSnapshotPackage) Ready() <-chan struct{} {
	return p.ready
}
