package pfxtable

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/bgpsec/roafetch/config"
)

func TestAddRecord(t *testing.T) {
	table := NewTable()

	assert.Nil(t, AddRecord(65001, "10.0.0.0", 16, 24, table))
	assert.Nil(t, AddRecord(65002, "2001:db8::", 32, 48, table))
	assert.Equal(t, 2, table.Len())

	records := table.Records()
	assert.Equal(t, "10.0.0.0/16", records[0].Prefix.String())
	assert.Equal(t, uint32(65001), records[0].GetASN())
	assert.Equal(t, 24, records[0].GetMaxLen())
	assert.Equal(t, "2001:db8::/32", records[1].Prefix.String())
}

func TestAddRecordInvalid(t *testing.T) {
	table := NewTable()

	tests := []struct {
		name    string
		address string
		minLen  uint8
		maxLen  uint8
		kind    int
	}{
		{"Unparseable address", "not-an-ip", 16, 24, config.ERROR_INVALID_ADDRESS},
		{"Min above max", "10.0.0.0", 24, 16, config.ERROR_INVALID_LENGTH},
		{"Max beyond v4 family", "10.0.0.0", 16, 33, config.ERROR_INVALID_LENGTH},
		{"Max beyond v6 family", "2001:db8::", 32, 129, config.ERROR_INVALID_LENGTH},
	}

	for _, test := range tests {
		err := AddRecord(65001, test.address, test.minLen, test.maxLen, table)
		assert.Equal(t, test.kind, config.Kind(err), test.name)
	}
	assert.Equal(t, 0, table.Len())

	err := AddRecord(65001, "10.0.0.0", 16, 24, nil)
	assert.Equal(t, config.ERROR_MISUSE, config.Kind(err))
}

// Inserting the same record twice leaves exactly one entry.
func TestInsertIdempotent(t *testing.T) {
	table := NewTable()

	assert.Nil(t, AddRecord(65001, "10.0.0.0", 16, 24, table))
	assert.Nil(t, AddRecord(65001, "10.0.0.0", 16, 24, table))
	assert.Equal(t, 1, table.Len())

	// Different bounds are a distinct decision path.
	assert.Nil(t, AddRecord(65001, "10.0.0.0", 16, 22, table))
	assert.Equal(t, 2, table.Len())
}

func TestMatching(t *testing.T) {
	table := NewTable()
	assert.Nil(t, AddRecord(65001, "10.0.0.0", 16, 24, table))
	assert.Nil(t, AddRecord(65002, "10.0.0.0", 22, 23, table))
	assert.Nil(t, AddRecord(65003, "192.168.0.0", 16, 24, table))

	_, prefix, _ := net.ParseCIDR("10.0.0.0/24")
	matching, err := table.Matching(prefix)
	assert.Nil(t, err)
	assert.Equal(t, 2, len(matching))

	_, prefix, _ = net.ParseCIDR("172.16.0.0/12")
	matching, err = table.Matching(prefix)
	assert.Nil(t, err)
	assert.Equal(t, 0, len(matching))
}

func TestToROAList(t *testing.T) {
	table := NewTable()
	assert.Nil(t, AddRecord(65001, "10.0.0.0", 16, 24, table))

	roalist := table.ToROAList()
	assert.Equal(t, 1, len(roalist.Data))
	assert.Equal(t, 1, roalist.Metadata.Counts)
	assert.Equal(t, "10.0.0.0/16", roalist.Data[0].Prefix)
	assert.Equal(t, uint8(24), roalist.Data[0].Length)
	assert.Equal(t, uint32(65001), roalist.Data[0].GetASN())
}
