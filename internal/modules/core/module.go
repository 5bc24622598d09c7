package core

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/core/types"
)

// ErrMalformedEvent marks a log that matched a known signature but could not
// be decoded into a complete event. Hosts skip such logs instead of retrying.
var ErrMalformedEvent = errors.New("malformed event")

// Module handles the logs matching its filters. Logs are delivered in block
// order per pair; redelivery of an already handled log must be a no-op.
type Module interface {
	// Name returns the unique name of the module
	Name() string

	// EventFilters returns the logs this module wants to receive
	EventFilters() []EventFilter

	// PartitionKey groups logs that must be handled in order. Logs with
	// different keys may be handled concurrently.
	PartitionKey(log *types.Log) string

	// HandleEvent processes a single log. timestamp is the block time in
	// Unix seconds.
	HandleEvent(ctx context.Context, log *types.Log, timestamp int64) error
}

// EventFilter defines what events a module wants to receive
type EventFilter struct {
	// Address is the contract address to watch
	Address string

	// Topic0 is the event signature hash
	Topic0 string
}
