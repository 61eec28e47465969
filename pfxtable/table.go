// Prefix table fed by the ROA importer and consumed by the
// route-validation engine.

package pfxtable

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/cloudflare/gortr/prefixfile"
	"github.com/kentik/patricia"
	"github.com/kentik/patricia/int64_tree"

	"github.com/bgpsec/roafetch/config"
)

// Record is one validated ROA payload entry.
type Record struct {
	ASN       uint32
	Prefix    *net.IPNet
	MinLength uint8
	MaxLength uint8
}

func (r *Record) GetASN() uint32 {
	return r.ASN
}

func (r *Record) GetPrefix() *net.IPNet {
	return r.Prefix
}

func (r *Record) GetMaxLen() int {
	return int(r.MaxLength)
}

func (r *Record) String() string {
	return fmt.Sprintf("AS%d,%s,%d,%d", r.ASN, r.Prefix.String(), r.MinLength, r.MaxLength)
}

// Table stores records in patricia trees for prefix lookups. Inserts
// take the table lock, so one table may be shared by several builders
// (unified cross-scope validation).
type Table struct {
	mu      sync.Mutex
	records []*Record
	keys    map[string]struct{}
	t4      *int64_tree.TreeV4
	t6      *int64_tree.TreeV6
}

func NewTable() *Table {
	return &Table{
		records: make([]*Record, 0),
		keys:    make(map[string]struct{}),
		t4:      int64_tree.NewTreeV4(),
		t6:      int64_tree.NewTreeV6(),
	}
}

// Insert adds a record. Re-inserting an identical record is a no-op,
// the table never holds duplicate decision paths. Returns whether the
// record was new.
func (t *Table) Insert(r *Record) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	k := r.String()
	if _, present := t.keys[k]; present {
		return false
	}
	t.keys[k] = struct{}{}

	i := int64(len(t.records))
	t.records = append(t.records, r)

	ip4, ip6, _ := patricia.ParseFromIPAddr(r.Prefix)
	if ip4 != nil {
		t.t4.Add(*ip4, i, nil)
	} else if ip6 != nil {
		t.t6.Add(*ip6, i, nil)
	}
	return true
}

func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.records)
}

func (t *Table) Records() []*Record {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*Record, len(t.records))
	copy(out, t.records)
	return out
}

// Matching returns the records whose prefix covers the given prefix.
func (t *Table) Matching(prefix *net.IPNet) ([]*Record, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	matching := make([]*Record, 0)
	filter := func(payload int64) bool {
		matching = append(matching, t.records[payload])
		return true
	}

	ip4, ip6, err := patricia.ParseFromIPAddr(prefix)
	if err != nil {
		return matching, err
	}
	if ip4 != nil {
		t.t4.FindTagsWithFilter(*ip4, filter)
	} else if ip6 != nil {
		t.t6.FindTagsWithFilter(*ip6, filter)
	}
	return matching, nil
}

// ToROAList exports the table in the GoRTR prefix file format.
func (t *Table) ToROAList() *prefixfile.ROAList {
	records := t.Records()

	roalist := &prefixfile.ROAList{
		Data: make([]prefixfile.ROAJson, 0, len(records)),
	}
	for _, r := range records {
		roalist.Data = append(roalist.Data, prefixfile.ROAJson{
			ASN:    fmt.Sprintf("AS%v", r.ASN),
			Prefix: r.Prefix.String(),
			Length: r.MaxLength,
		})
	}
	roalist.Metadata = prefixfile.MetaData{
		Counts:    len(roalist.Data),
		Generated: int(time.Now().Unix()),
	}
	return roalist
}

// AddRecord parses and validates one ROA record and inserts it into
// the target table. The address family is inferred from the syntax.
func AddRecord(asn uint32, address string, minLen, maxLen uint8, table *Table) error {
	if table == nil {
		return config.NewError(config.ERROR_MISUSE, address, "nil prefix table")
	}

	ip := net.ParseIP(address)
	if ip == nil {
		return config.NewError(config.ERROR_INVALID_ADDRESS, address, "unparseable IP address")
	}

	bits := 128
	if ip.To4() != nil {
		bits = 32
		ip = ip.To4()
	}

	if minLen > maxLen || int(maxLen) > bits {
		return config.NewError(config.ERROR_INVALID_LENGTH, address, "invalid length bounds %d..%d for /%d family", minLen, maxLen, bits)
	}

	mask := net.CIDRMask(int(minLen), bits)
	record := &Record{
		ASN:       asn,
		Prefix:    &net.IPNet{IP: ip.Mask(mask), Mask: mask},
		MinLength: minLen,
		MaxLength: maxLen,
	}
	table.Insert(record)
	return nil
}
