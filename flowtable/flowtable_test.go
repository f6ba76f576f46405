package flowtable

import (
	"testing"

	"github.com/gravwell/netfpd/internal/flowkey"
)

func key(n uint32) flowkey.Key {
	return flowkey.NewV4(n, n+1, 1234, 443, 6)
}

func TestFlowIsNewOnceUntilEviction(t *testing.T) {
	tbl := NewIPTable(10)
	k := key(1)
	if !tbl.FlowIsNew(k, 100) {
		t.Fatalf("expected first sighting to be new")
	}
	if tbl.FlowIsNew(k, 200) {
		t.Fatalf("expected second sighting to not be new")
	}
}

func TestIPTableCapacityEviction(t *testing.T) {
	tbl := NewIPTable(2)
	tbl.FlowIsNew(key(1), 0)
	tbl.FlowIsNew(key(2), 0)
	tbl.FlowIsNew(key(3), 0) // evicts key(1)
	if tbl.Len() != 2 {
		t.Fatalf("expected capacity-bounded length 2, got %d", tbl.Len())
	}
	if !tbl.FlowIsNew(key(1), 0) {
		t.Fatalf("expected key(1) to have been evicted and thus seen as new again")
	}
}

func TestIsFirstDataPacketOnceAndInOrder(t *testing.T) {
	tbl := NewTCPTable(10)
	k := key(1)
	tbl.SynPacket(k, 0, 1000)
	if !tbl.IsFirstDataPacket(k, 1, 1001) {
		t.Fatalf("expected seq syn+1 to be the first data packet")
	}
	if tbl.IsFirstDataPacket(k, 2, 2000) {
		t.Fatalf("expected only one first-data report per flow")
	}
}

func TestIsFirstDataPacketRequiresSynSeqPlusOne(t *testing.T) {
	tbl := NewTCPTable(10)
	k := key(1)
	tbl.SynPacket(k, 0, 1000)
	if tbl.IsFirstDataPacket(k, 1, 5000) {
		t.Fatalf("expected non-matching sequence to not be treated as first data")
	}
}

func TestIsFirstDataPacketWithoutSynIsFalse(t *testing.T) {
	tbl := NewTCPTable(10)
	if tbl.IsFirstDataPacket(key(1), 0, 1001) {
		t.Fatalf("expected no SYN on record to mean not-first-data")
	}
}
