package rpc

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
)

// maxBatchSize caps the calls sent in one JSON-RPC batch.
const maxBatchSize = 100

// rawHeader holds the only header fields we need. Decoding raw JSON instead
// of types.Header keeps nodes with non-standard header fields usable.
type rawHeader struct {
	Number    hexutil.Uint64 `json:"number"`
	Timestamp hexutil.Uint64 `json:"timestamp"`
}

// GetBlockTimestamps returns the header time in Unix seconds of every block
// in numbers, fetched with batched eth_getBlockByNumber calls.
func (c *Client) GetBlockTimestamps(ctx context.Context, numbers []uint64) (map[uint64]int64, error) {
	out := make(map[uint64]int64, len(numbers))

	for start := 0; start < len(numbers); start += maxBatchSize {
		end := start + maxBatchSize
		if end > len(numbers) {
			end = len(numbers)
		}
		chunk := numbers[start:end]

		headers := make([]*rawHeader, len(chunk))
		batch := make([]rpc.BatchElem, len(chunk))
		for i, n := range chunk {
			batch[i] = rpc.BatchElem{
				Method: "eth_getBlockByNumber",
				Args:   []interface{}{hexutil.EncodeUint64(n), false},
				Result: &headers[i],
			}
		}

		if err := c.batchCall(ctx, batch); err != nil {
			return nil, fmt.Errorf("failed to fetch headers %d-%d: %w", chunk[0], chunk[len(chunk)-1], err)
		}

		for i, elem := range batch {
			if elem.Error != nil {
				return nil, fmt.Errorf("failed to get header %d: %w", chunk[i], elem.Error)
			}
			if headers[i] == nil {
				return nil, fmt.Errorf("header %d not found", chunk[i])
			}
			out[chunk[i]] = int64(headers[i].Timestamp)
		}
	}

	c.logger.Debug().
		Int("blocks", len(numbers)).
		Msg("Fetched block timestamps")

	return out, nil
}

func (c *Client) batchCall(ctx context.Context, batch []rpc.BatchElem) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	return c.client.Client().BatchCallContext(ctx, batch)
}
