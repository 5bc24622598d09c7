package rpc

import (
	"context"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// ERC20 ABI with bytes32 fallbacks for name/symbol
const erc20ABIString = `[
	{"constant":true,"inputs":[],"name":"name","outputs":[{"name":"","type":"string"}],"type":"function"},
	{"constant":true,"inputs":[],"name":"symbol","outputs":[{"name":"","type":"string"}],"type":"function"},
	{"constant":true,"inputs":[],"name":"decimals","outputs":[{"name":"","type":"uint8"}],"type":"function"},
	{"constant":true,"inputs":[],"name":"NAME","outputs":[{"name":"","type":"bytes32"}],"type":"function"},
	{"constant":true,"inputs":[],"name":"SYMBOL","outputs":[{"name":"","type":"bytes32"}],"type":"function"}
]`

var erc20ABI = mustParseABI(erc20ABIString)

func mustParseABI(s string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(s))
	if err != nil {
		panic(fmt.Sprintf("invalid ABI: %v", err))
	}
	return parsed
}

// TokenMetadata is what can be read from an ERC-20 contract. Fields that
// could not be read are left empty (Decimals is -1).
type TokenMetadata struct {
	Name     string
	Symbol   string
	Decimals int32
}

// TokenMetadataReader reads ERC-20 metadata for token registration.
type TokenMetadataReader interface {
	ReadTokenMetadata(ctx context.Context, address string) (*TokenMetadata, error)
}

// ERC20Reader implements TokenMetadataReader on top of a ContractCaller.
type ERC20Reader struct {
	caller ContractCaller
}

func NewERC20Reader(caller ContractCaller) *ERC20Reader {
	return &ERC20Reader{caller: caller}
}

// ReadTokenMetadata reads name, symbol and decimals at the latest block.
// Individual call failures are tolerated; an error is returned only when
// nothing could be read at all.
func (r *ERC20Reader) ReadTokenMetadata(ctx context.Context, address string) (*TokenMetadata, error) {
	if !common.IsHexAddress(address) {
		return nil, fmt.Errorf("invalid token address %q", address)
	}
	token := common.HexToAddress(address)
	meta := &TokenMetadata{Decimals: -1}

	var firstErr error
	keep := func(err error) {
		if firstErr == nil {
			firstErr = err
		}
	}

	meta.Name = r.readText(ctx, token, "name", "NAME", keep)
	meta.Symbol = r.readText(ctx, token, "symbol", "SYMBOL", keep)

	if out, err := r.caller.Call(ctx, token, erc20ABI, "decimals", nil); err != nil {
		keep(err)
	} else if dec, ok := out[0].(uint8); ok {
		meta.Decimals = int32(dec)
	}

	if meta.Name == "" && meta.Symbol == "" && meta.Decimals < 0 {
		return nil, fmt.Errorf("failed to read token metadata for %s: %w", address, firstErr)
	}
	return meta, nil
}

// readText calls a string getter and falls back to its bytes32 variant.
func (r *ERC20Reader) readText(ctx context.Context, token common.Address, method, fallback string, keep func(error)) string {
	out, err := r.caller.Call(ctx, token, erc20ABI, method, nil)
	if err == nil {
		if s, ok := out[0].(string); ok && s != "" {
			return s
		}
	} else {
		keep(err)
	}

	out, err = r.caller.Call(ctx, token, erc20ABI, fallback, nil)
	if err != nil {
		return ""
	}
	if b32, ok := out[0].([32]byte); ok {
		return strings.TrimRight(string(b32[:]), "\x00")
	}
	return ""
}
