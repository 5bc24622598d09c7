// Package pricing derives the collateral-per-LMKT price of an event.
package pricing

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/lmkt/candle-indexer/internal/candles"
	"github.com/lmkt/candle-indexer/internal/rpc"
)

// ErrPriceUnavailable means the on-chain state needed for a price could not
// be read. It is distinct from a zero price, which is a valid value.
var ErrPriceUnavailable = errors.New("price unavailable")

const (
	MethodTotalCollateral   = "getTotalCollateralValue"
	MethodCirculatingSupply = "getCirculatingSupply"
)

const treasuryViewsABI = `[
	{"inputs":[],"name":"getTotalCollateralValue","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
	{"inputs":[],"name":"getCirculatingSupply","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"}
]`

var treasuryABI = func() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(treasuryViewsABI))
	if err != nil {
		panic(fmt.Sprintf("invalid treasury ABI: %v", err))
	}
	return parsed
}()

// Request describes the price inputs of one event. When Embedded is set the
// event carried TotalCollateral and CirculatingSupply itself; otherwise both
// are read from the treasury at Block.
type Request struct {
	Block              uint64
	CollateralDecimals int32
	LMKTDecimals       int32

	Embedded          bool
	TotalCollateral   *big.Int
	CirculatingSupply *big.Int
}

// Resolver prices events as total collateral divided by circulating supply.
type Resolver struct {
	caller   rpc.ContractCaller
	treasury common.Address
	policy   RetryPolicy
	logger   zerolog.Logger
}

func NewResolver(caller rpc.ContractCaller, treasury common.Address, policy RetryPolicy, logger zerolog.Logger) *Resolver {
	return &Resolver{
		caller:   caller,
		treasury: treasury,
		policy:   policy,
		logger:   logger.With().Str("component", "pricing").Logger(),
	}
}

// Resolve returns the event's price. Degenerate inputs such as a zero supply
// give 0 with no error. On-chain reads that fail on every attempt return an
// error wrapping ErrPriceUnavailable.
func (r *Resolver) Resolve(ctx context.Context, req Request) (float64, error) {
	if req.Embedded {
		return candles.Ratio(req.TotalCollateral, req.CollateralDecimals, req.CirculatingSupply, req.LMKTDecimals), nil
	}

	collateral, err := r.read(ctx, MethodTotalCollateral, req.Block)
	if err != nil {
		return 0, err
	}
	supply, err := r.read(ctx, MethodCirculatingSupply, req.Block)
	if err != nil {
		return 0, err
	}

	price := candles.Ratio(collateral, req.CollateralDecimals, supply, req.LMKTDecimals)
	r.logger.Debug().
		Uint64("block", req.Block).
		Str("collateral", collateral.String()).
		Str("supply", supply.String()).
		Float64("price", price).
		Msg("Resolved on-chain price")
	return price, nil
}

func (r *Resolver) read(ctx context.Context, method string, block uint64) (*big.Int, error) {
	attempt := 0
	value, err := Retry(ctx, r.policy, func(ctx context.Context) (*big.Int, error) {
		attempt++
		out, err := r.caller.Call(ctx, r.treasury, treasuryABI, method, new(big.Int).SetUint64(block))
		if err == nil {
			err = checkUint(out)
		}
		if err != nil {
			r.logger.Warn().
				Err(err).
				Str("method", method).
				Uint64("block", block).
				Int("attempt", attempt).
				Int("max_attempts", r.policy.MaxAttempts).
				Msg("On-chain read failed")
			return nil, err
		}
		return out[0].(*big.Int), nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s at block %d: %w", ErrPriceUnavailable, method, block, err)
	}
	return value, nil
}

func checkUint(out []interface{}) error {
	if len(out) != 1 {
		return fmt.Errorf("expected 1 output, got %d", len(out))
	}
	if v, ok := out[0].(*big.Int); !ok || v == nil {
		return fmt.Errorf("unexpected output type %T", out[0])
	}
	return nil
}
