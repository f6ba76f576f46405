package flowtable

import (
	"container/list"

	"github.com/gravwell/netfpd/internal/flowkey"
)

// TCPFlowEntry is the per-flow state the TCP flow table tracks: the
// initial sequence number observed on the SYN, its timestamp, and whether
// the first data-bearing segment has already been reported.
type TCPFlowEntry struct {
	SynSeq   uint32
	SynTS    int64
	SeenData bool
}

type tcpEntry struct {
	key   flowkey.Key
	state TCPFlowEntry
}

// TCPTable maps a flow key to TCPFlowEntry, with the same fixed-capacity
// LRU eviction policy as IPTable.
type TCPTable struct {
	capacity int
	entries  map[flowkey.Key]*list.Element
	order    *list.List
}

// NewTCPTable returns a TCP flow table with the given fixed capacity.
func NewTCPTable(capacity int) *TCPTable {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &TCPTable{
		capacity: capacity,
		entries:  make(map[flowkey.Key]*list.Element, capacity),
		order:    list.New(),
	}
}

// SynPacket records the initial sequence number seen on a SYN (or
// SYN+ACK) for k, overwriting any prior entry for that flow.
func (t *TCPTable) SynPacket(k flowkey.Key, ts int64, seq uint32) {
	if el, ok := t.entries[k]; ok {
		t.order.MoveToFront(el)
		el.Value.(*tcpEntry).state = TCPFlowEntry{SynSeq: seq, SynTS: ts}
		return
	}
	if t.order.Len() >= t.capacity {
		t.evictOldest()
	}
	el := t.order.PushFront(&tcpEntry{key: k, state: TCPFlowEntry{SynSeq: seq, SynTS: ts}})
	t.entries[k] = el
}

// IsFirstDataPacket returns true exactly once per flow: the first time a
// data-bearing segment arrives whose sequence number equals SynSeq+1. If
// k has no recorded SYN, it returns false without marking anything (a
// mid-stream capture with no observed handshake never reports "first").
func (t *TCPTable) IsFirstDataPacket(k flowkey.Key, ts int64, seq uint32) bool {
	el, ok := t.entries[k]
	if !ok {
		return false
	}
	t.order.MoveToFront(el)
	e := el.Value.(*tcpEntry)
	if e.state.SeenData {
		return false
	}
	if seq != e.state.SynSeq+1 {
		return false
	}
	e.state.SeenData = true
	return true
}

func (t *TCPTable) evictOldest() {
	oldest := t.order.Back()
	if oldest == nil {
		return
	}
	t.order.Remove(oldest)
	delete(t.entries, oldest.Value.(*tcpEntry).key)
}

// Len reports the number of live entries.
func (t *TCPTable) Len() int {
	return t.order.Len()
}
