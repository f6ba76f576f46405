// Package flowtable implements the fixed-capacity, LRU-evicted IP and TCP
// flow tables (spec section 3/4.3), grounded on pkt_proc.h's
// `flow_table ip_flow_table{65536}` / `flow_table_tcp tcp_flow_table{65536}`
// construction. Each packet-processor worker owns one of each; no locking
// is required since a single worker sees every packet of a given flow.
package flowtable

import (
	"container/list"

	"github.com/gravwell/netfpd/internal/flowkey"
)

// DefaultCapacity matches mercury's default flow table size.
const DefaultCapacity = 65536

// IPTable maps a flow key to its first-seen timestamp, evicting the
// least-recently-touched entry once Capacity is exceeded.
type IPTable struct {
	capacity int
	entries  map[flowkey.Key]*list.Element
	order    *list.List // front = most recently used
}

type ipEntry struct {
	key       flowkey.Key
	firstSeen int64
}

// NewIPTable returns an IP flow table with the given fixed capacity.
func NewIPTable(capacity int) *IPTable {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &IPTable{
		capacity: capacity,
		entries:  make(map[flowkey.Key]*list.Element, capacity),
		order:    list.New(),
	}
}

// FlowIsNew inserts k with first-seen timestamp ts if absent and returns
// true; if k is already present it returns false and does not update the
// stored timestamp (mercury's flow_is_new semantics -- the table answers
// "have I seen this flow before", not "refresh its last-seen time").
func (t *IPTable) FlowIsNew(k flowkey.Key, ts int64) bool {
	if el, ok := t.entries[k]; ok {
		t.order.MoveToFront(el)
		return false
	}
	if t.order.Len() >= t.capacity {
		t.evictOldest()
	}
	el := t.order.PushFront(&ipEntry{key: k, firstSeen: ts})
	t.entries[k] = el
	return true
}

func (t *IPTable) evictOldest() {
	oldest := t.order.Back()
	if oldest == nil {
		return
	}
	t.order.Remove(oldest)
	delete(t.entries, oldest.Value.(*ipEntry).key)
}

// Len reports the number of live entries.
func (t *IPTable) Len() int {
	return t.order.Len()
}
