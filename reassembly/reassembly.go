// Package reassembly implements the TCP reassembler state machine (spec
// section 4.4), grounded on pkt_proc.h's `tcp_reassembler` member and the
// IDLE -> PENDING -> COMPLETE/REAPED state diagram. A flow with no entry is
// IDLE; CopyPacket creates a PENDING entry on first contact and completes
// it once the target length is reached; Reap surfaces one TTL-expired
// partial per call, matching `reassembler->reap(ts)` in pkt_proc.cc.
package reassembly

import (
	"github.com/gravwell/netfpd/internal/flowkey"
)

// DefaultCapacity matches mercury's default reassembler size.
const DefaultCapacity = 65536

// DefaultTTLSeconds is the packet-timestamp-driven expiry window for a
// pending partial, per spec section 5 ("seconds granularity, driven by
// packet timestamps, not wall clock").
const DefaultTTLSeconds = 30

type segment struct {
	key      flowkey.Key
	expected int
	nextSeq  uint32
	buf      []byte
	lastTS   int64
}

// Reassembler holds all PENDING segment buffers for one worker's flows.
type Reassembler struct {
	capacity int
	ttl      int64
	entries  map[flowkey.Key]*segment
	// order preserves insertion order so Reap and overflow-eviction have a
	// deterministic oldest-first candidate without an extra heap.
	order []flowkey.Key
}

// New returns a reassembler with the given fixed capacity and TTL (in
// whatever timestamp unit the caller's packet timestamps use; mercury uses
// seconds).
func New(capacity int, ttlSeconds int64) *Reassembler {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if ttlSeconds <= 0 {
		ttlSeconds = DefaultTTLSeconds
	}
	return &Reassembler{
		capacity: capacity,
		ttl:      ttlSeconds,
		entries:  make(map[flowkey.Key]*segment, capacity),
	}
}

// Len reports the number of pending partials.
func (r *Reassembler) Len() int {
	return len(r.entries)
}

// CopyPacket appends payload for flow k, seen at sequence seq and
// timestamp ts, to any in-progress reassembly, creating one if k is IDLE.
// needed is the additional_bytes_needed reported by the handshake parser
// on its first partial parse; it is only consulted on the IDLE->PENDING
// transition (subsequent calls grow the target only if the buffer's own
// length tracking requires it -- here we take the caller's first estimate
// as authoritative, matching the reference's single-shot target).
//
// Returns complete=true and the reassembled buffer when the append brings
// the segment to or past its target length; the entry is removed from the
// table in that case. Out-of-order segments (seq != expected next) are
// dropped; the only stored state they alter is the entry's last-seen
// timestamp, which is refreshed to ts.
func (r *Reassembler) CopyPacket(k flowkey.Key, ts int64, seq uint32, payload []byte, needed int) (buf []byte, complete bool) {
	s, ok := r.entries[k]
	if !ok {
		if r.capacity > 0 && len(r.entries) >= r.capacity {
			r.reapOldestPending()
		}
		s = &segment{
			key:      k,
			expected: len(payload) + needed,
			nextSeq:  seq + uint32(len(payload)),
			buf:      append([]byte(nil), payload...),
			lastTS:   ts,
		}
		r.entries[k] = s
		r.order = append(r.order, k)
		if len(s.buf) >= s.expected {
			return r.finish(k)
		}
		return nil, false
	}

	s.lastTS = ts
	if seq != s.nextSeq {
		// out of order; drop the segment, keep waiting
		return nil, false
	}
	s.buf = append(s.buf, payload...)
	s.nextSeq = seq + uint32(len(payload))
	if len(s.buf) >= s.expected {
		return r.finish(k)
	}
	return nil, false
}

// CheckPacket is the fast path: if k has a pending reassembly and this
// segment completes it, the completed buffer is returned and the entry is
// removed atomically. It never creates a new pending entry (use
// CopyPacket for that).
func (r *Reassembler) CheckPacket(k flowkey.Key, ts int64, seq uint32, payload []byte) (buf []byte, complete bool) {
	s, ok := r.entries[k]
	if !ok {
		return nil, false
	}
	s.lastTS = ts
	if seq != s.nextSeq {
		return nil, false
	}
	s.buf = append(s.buf, payload...)
	s.nextSeq = seq + uint32(len(payload))
	if len(s.buf) >= s.expected {
		return r.finish(k)
	}
	return nil, false
}

// RemoveSegment discards any pending reassembly for k without returning
// its contents (the any->IDLE transition on explicit removal).
func (r *Reassembler) RemoveSegment(k flowkey.Key) {
	if _, ok := r.entries[k]; !ok {
		return
	}
	delete(r.entries, k)
	r.removeFromOrder(k)
}

// Reap surfaces and removes one pending partial older than the configured
// TTL relative to now, or ok=false if none qualify. Mercury calls this
// once per reassembler touch so TTL expiry is deterministic regardless of
// which code path drove the touch.
func (r *Reassembler) Reap(now int64) (k flowkey.Key, buf []byte, ok bool) {
	for _, cand := range r.order {
		s, present := r.entries[cand]
		if !present {
			continue
		}
		if now-s.lastTS > r.ttl {
			delete(r.entries, cand)
			r.removeFromOrder(cand)
			return cand, s.buf, true
		}
	}
	return flowkey.Key{}, nil, false
}

// reapOldestPending evicts the single oldest (first-inserted) pending
// entry to make room, used when CopyPacket would otherwise exceed
// capacity on an IDLE->PENDING transition.
func (r *Reassembler) reapOldestPending() {
	if len(r.order) == 0 {
		return
	}
	oldest := r.order[0]
	delete(r.entries, oldest)
	r.order = r.order[1:]
}

func (r *Reassembler) finish(k flowkey.Key) ([]byte, bool) {
	s := r.entries[k]
	delete(r.entries, k)
	r.removeFromOrder(k)
	return s.buf, true
}

func (r *Reassembler) removeFromOrder(k flowkey.Key) {
	for i, cand := range r.order {
		if cand == k {
			r.order = append(r.order[:i], r.order[i+1:]...)
			return
		}
	}
}
