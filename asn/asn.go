// Package asn implements the subnet/ASN longest-prefix-match table
// (spec addr.h's get_asn_info/addr_init contract), backed by an nradix
// patricia trie rather than the hand-rolled sorted-prefix array mercury
// uses -- nradix gives the same descending-mask-length longest-prefix
// semantics with O(32) lookup and is a teacher dependency already present
// in go.mod for exactly this purpose.
package asn

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"

	"github.com/asergeyev/nradix"
)

// Table is an immutable-after-Build subnet-to-ASN longest-prefix-match
// table. The zero value is not usable; construct with NewTable.
type Table struct {
	tree *nradix.Tree
	// built is set by Finalize (process_final in the reference); lookups
	// before Finalize still work against nradix directly, but Finalize
	// mirrors the init-then-freeze lifecycle the rest of the engine
	// depends on for the "immutable after initialisation" invariant.
	built bool
}

// NewTable returns an empty table ready to be populated with Add or Load.
func NewTable() *Table {
	return &Table{tree: nradix.NewTree(0)}
}

// Add inserts a single prefix/mask-length/asn triple.
func (t *Table) Add(prefixV4 string, maskLen int, asnVal uint32) error {
	if t.built {
		return fmt.Errorf("asn: table is finalized, cannot Add")
	}
	cidr := fmt.Sprintf("%s/%d", prefixV4, maskLen)
	return t.tree.AddCIDR(cidr, asnVal)
}

// Load parses lines of the form "ip\tprefix_len\tasn" (mercury's pyasn.db
// text format) from r, adding each as a prefix/mask/asn triple. Malformed
// lines are skipped, matching the reference's tolerant line-oriented load.
func (t *Table) Load(r io.Reader) error {
	if t.built {
		return fmt.Errorf("asn: table is finalized, cannot Load")
	}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 3 {
			continue
		}
		ip := net.ParseIP(fields[0])
		if ip == nil || ip.To4() == nil {
			continue
		}
		maskLen, err := strconv.Atoi(fields[1])
		if err != nil || maskLen < 0 || maskLen > 32 {
			continue
		}
		asnVal, err := strconv.ParseUint(fields[2], 10, 32)
		if err != nil {
			continue
		}
		if err := t.Add(fields[0], maskLen, uint32(asnVal)); err != nil {
			continue
		}
	}
	return sc.Err()
}

// Finalize freezes the table (process_final in the reference). After
// Finalize, Add and Load return an error; Lookup is safe for concurrent
// readers.
func (t *Table) Finalize() {
	t.built = true
}

// Lookup performs a longest-prefix match on ipStr, returning the
// associated ASN, or 0 ("unknown") on miss or parse failure.
func (t *Table) Lookup(ipStr string) uint32 {
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return 0
	}
	v4 := ip.To4()
	if v4 == nil {
		return 0
	}
	val, err := t.tree.FindCIDR(fmt.Sprintf("%s/32", v4.String()))
	if err != nil || val == nil {
		return 0
	}
	asnVal, ok := val.(uint32)
	if !ok {
		return 0
	}
	return asnVal
}
