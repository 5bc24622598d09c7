package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

type rpcRequest struct {
	ID     json.RawMessage   `json:"id"`
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

// newTestNode serves eth_chainId and answers eth_call with result.
func newTestNode(t *testing.T, result []byte, seenBlock *string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		var res interface{}
		switch req.Method {
		case "eth_chainId":
			res = "0x1"
		case "eth_call":
			if seenBlock != nil && len(req.Params) > 1 {
				_ = json.Unmarshal(req.Params[1], seenBlock)
			}
			res = hexutil.Encode(result)
		default:
			res = nil
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"result":  res,
		})
	}))
}

func TestClientCallPacksAndUnpacks(t *testing.T) {
	supplyABI := mustParseABI(`[{"inputs":[],"name":"getCirculatingSupply","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"}]`)
	want := big.NewInt(500_000)
	encoded, err := supplyABI.Methods["getCirculatingSupply"].Outputs.Pack(want)
	require.NoError(t, err)

	var seenBlock string
	node := newTestNode(t, encoded, &seenBlock)
	defer node.Close()

	client, err := NewClient(node.URL, 1, testLogger())
	require.NoError(t, err)
	defer client.Close()

	out, err := client.Call(context.Background(), common.HexToAddress("0x01"), supplyABI, "getCirculatingSupply", big.NewInt(42))
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, 0, want.Cmp(out[0].(*big.Int)))
	assert.Equal(t, "0x2a", seenBlock)
}

func TestClientCallRejectsUnknownMethod(t *testing.T) {
	node := newTestNode(t, nil, nil)
	defer node.Close()

	client, err := NewClient(node.URL, 1, testLogger())
	require.NoError(t, err)
	defer client.Close()

	_, err = client.Call(context.Background(), common.HexToAddress("0x01"), erc20ABI, "missing", nil)
	assert.Error(t, err)
}

type fakeCaller struct {
	results map[string][]interface{}
	errs    map[string]error
}

func (f *fakeCaller) Call(_ context.Context, _ common.Address, _ abi.ABI, method string, _ *big.Int, _ ...interface{}) ([]interface{}, error) {
	if err, ok := f.errs[method]; ok {
		return nil, err
	}
	if out, ok := f.results[method]; ok {
		return out, nil
	}
	return nil, errors.New("execution reverted")
}

func TestReadTokenMetadata(t *testing.T) {
	reader := NewERC20Reader(&fakeCaller{results: map[string][]interface{}{
		"name":     {"Collateral USD"},
		"symbol":   {"cUSD"},
		"decimals": {uint8(6)},
	}})

	meta, err := reader.ReadTokenMetadata(context.Background(), "0x00000000000000000000000000000000000000aa")
	require.NoError(t, err)
	assert.Equal(t, "Collateral USD", meta.Name)
	assert.Equal(t, "cUSD", meta.Symbol)
	assert.Equal(t, int32(6), meta.Decimals)
}

func TestReadTokenMetadataBytes32Fallback(t *testing.T) {
	var sym [32]byte
	copy(sym[:], "MKR")
	reader := NewERC20Reader(&fakeCaller{results: map[string][]interface{}{
		"SYMBOL":   {sym},
		"decimals": {uint8(18)},
	}})

	meta, err := reader.ReadTokenMetadata(context.Background(), "0x00000000000000000000000000000000000000aa")
	require.NoError(t, err)
	assert.Equal(t, "MKR", meta.Symbol)
	assert.Empty(t, meta.Name)
	assert.Equal(t, int32(18), meta.Decimals)
}

func TestReadTokenMetadataNothingReadable(t *testing.T) {
	reader := NewERC20Reader(&fakeCaller{})

	_, err := reader.ReadTokenMetadata(context.Background(), "0x00000000000000000000000000000000000000aa")
	assert.Error(t, err)

	_, err = reader.ReadTokenMetadata(context.Background(), "not-an-address")
	assert.Error(t, err)
}
