package classifier

import (
	"container/list"
	"sync"
)

// DefaultAdaptiveCapacity is the adaptive-tier capacity analysis.h hard-codes
// (fingerprint_prevalence{100000}).
const DefaultAdaptiveCapacity = 100000

// Prevalence is the two-tier fingerprint prevalence membership test (spec
// section 4.7): a static, read-only "known" set plus a mutex-guarded
// adaptive LRU that grows with observed traffic.
type Prevalence struct {
	known map[string]struct{} // populated only during load, read-only afterward

	mu       sync.RWMutex
	adaptive map[string]*list.Element
	order    *list.List
	capacity int
}

// NewPrevalence constructs an empty Prevalence with the given adaptive-tier
// capacity.
func NewPrevalence(capacity int) *Prevalence {
	if capacity <= 0 {
		capacity = DefaultAdaptiveCapacity
	}
	return &Prevalence{
		known:    make(map[string]struct{}),
		adaptive: make(map[string]*list.Element),
		order:    list.New(),
		capacity: capacity,
	}
}

// InitialAdd seeds the static known set; only called while loading
// fp_prevalence_tls.txt, never concurrently with Contains/Update.
func (p *Prevalence) InitialAdd(fp string) {
	p.known[fp] = struct{}{}
}

// Contains checks the known set first, then the adaptive set under a
// shared lock.
func (p *Prevalence) Contains(fp string) bool {
	if _, ok := p.known[fp]; ok {
		return true
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.adaptive[fp]
	return ok
}

// snapshotAdaptive returns a point-in-time copy of the adaptive tier's
// membership, for persistence by classifier/snapshot.go. The static known
// set is excluded: it is reloaded from the resource archive on every
// start and would only bloat the snapshot file.
func (p *Prevalence) snapshotAdaptive() map[string]struct{} {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]struct{}, len(p.adaptive))
	for fp := range p.adaptive {
		out[fp] = struct{}{}
	}
	return out
}

// Update records an observation of fp in the adaptive LRU: move to the
// tail if already present, else append; evict the head if over capacity.
// No-op for fingerprints already in the static known set.
func (p *Prevalence) Update(fp string) {
	if _, ok := p.known[fp]; ok {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if el, ok := p.adaptive[fp]; ok {
		p.order.MoveToBack(el)
		return
	}
	el := p.order.PushBack(fp)
	p.adaptive[fp] = el
	if len(p.adaptive) > p.capacity {
		front := p.order.Front()
		if front != nil {
			p.order.Remove(front)
			delete(p.adaptive, front.Value.(string))
		}
	}
}
