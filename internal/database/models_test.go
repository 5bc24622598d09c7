package database

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
)

func TestAddressToString(t *testing.T) {
	addr := common.HexToAddress("0x742d35Cc6634C0532925a3b844Bc9e7595f0bEb3")
	assert.Equal(t, "0x742d35cc6634c0532925a3b844bc9e7595f0beb3", AddressToString(addr))
}

func TestBigIntToNumeric(t *testing.T) {
	tests := []struct {
		name  string
		value *big.Int
		want  string
	}{
		{name: "nil value", value: nil, want: "0"},
		{name: "zero value", value: big.NewInt(0), want: "0"},
		{name: "positive value", value: big.NewInt(1000000), want: "1000000"},
		{
			name:  "beyond uint64",
			value: new(big.Int).Mul(big.NewInt(1e18), big.NewInt(1000)),
			want:  "1000000000000000000000",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, BigIntToNumeric(tt.value))
		})
	}
}

func TestEventIDIsLowercase(t *testing.T) {
	id := NewEventID(common.HexToHash("0xABCDEF"), 7)
	assert.Equal(t, "0x0000000000000000000000000000000000000000000000000000000000abcdef-7", id.String())
}

func TestCandleKey(t *testing.T) {
	c := &Candle{PairID: "0xpair", Interval: 60, BucketStart: 1200}
	assert.Equal(t, CandleKey{PairID: "0xpair", Interval: 60, BucketStart: 1200}, c.Key())
	assert.Equal(t, "0xpair-60-1200", c.Key().String())
}
