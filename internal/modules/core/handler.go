package core

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// ParsedEvent represents a decoded event log
type ParsedEvent struct {
	// Raw log data
	Log *types.Log

	// Event information
	EventName string
	Address   common.Address

	// Parsed event data
	Args map[string]interface{}

	// Transaction context
	TransactionHash common.Hash
	BlockNumber     uint64
	LogIndex        uint
}

// AddressArg returns the named address argument.
func (e *ParsedEvent) AddressArg(name string) (common.Address, error) {
	v, ok := e.Args[name]
	if !ok {
		return common.Address{}, ErrInvalidEvent{Reason: fmt.Sprintf("%s: missing %s", e.EventName, name)}
	}
	addr, ok := v.(common.Address)
	if !ok {
		return common.Address{}, ErrInvalidEvent{Reason: fmt.Sprintf("%s: %s is %T, not an address", e.EventName, name, v)}
	}
	return addr, nil
}

// BigArg returns the named integer argument.
func (e *ParsedEvent) BigArg(name string) (*big.Int, error) {
	v, ok := e.Args[name]
	if !ok {
		return nil, ErrInvalidEvent{Reason: fmt.Sprintf("%s: missing %s", e.EventName, name)}
	}
	n, ok := v.(*big.Int)
	if !ok || n == nil {
		return nil, ErrInvalidEvent{Reason: fmt.Sprintf("%s: %s is %T, not an integer", e.EventName, name, v)}
	}
	return n, nil
}

// BoolArg returns the named boolean argument.
func (e *ParsedEvent) BoolArg(name string) (bool, error) {
	v, ok := e.Args[name]
	if !ok {
		return false, ErrInvalidEvent{Reason: fmt.Sprintf("%s: missing %s", e.EventName, name)}
	}
	b, ok := v.(bool)
	if !ok {
		return false, ErrInvalidEvent{Reason: fmt.Sprintf("%s: %s is %T, not a bool", e.EventName, name, v)}
	}
	return b, nil
}

// EventParser handles parsing of event logs using ABI definitions
type EventParser struct {
	events map[common.Hash]abi.Event // topic0 -> event
}

// NewEventParser creates a new event parser
func NewEventParser() *EventParser {
	return &EventParser{
		events: make(map[common.Hash]abi.Event),
	}
}

// AddABI indexes every event of contractABI by its topic hash
func (p *EventParser) AddABI(contractABI abi.ABI) {
	for _, event := range contractABI.Events {
		p.events[event.ID] = event
	}
}

// ParseEvent parses a log into a ParsedEvent. Every ABI input must be
// present: a log with too few topics or short data is rejected rather than
// decoded with holes.
func (p *EventParser) ParseEvent(log *types.Log) (*ParsedEvent, error) {
	if len(log.Topics) == 0 {
		return nil, ErrInvalidEvent{Reason: "no topics in log"}
	}

	eventABI, exists := p.events[log.Topics[0]]
	if !exists {
		return nil, ErrUnknownEvent{Topic: log.Topics[0].Hex()}
	}

	args := make(map[string]interface{})

	indexed := make(abi.Arguments, 0)
	nonIndexed := make(abi.Arguments, 0)
	for _, input := range eventABI.Inputs {
		if input.Indexed {
			indexed = append(indexed, input)
		} else {
			nonIndexed = append(nonIndexed, input)
		}
	}

	// Parse indexed parameters (topics[1:])
	if len(log.Topics)-1 < len(indexed) {
		return nil, ErrInvalidEvent{Reason: fmt.Sprintf("%s has insufficient topics: expected %d, got %d",
			eventABI.Name, len(indexed)+1, len(log.Topics))}
	}
	for i, input := range indexed {
		args[input.Name] = parseIndexedArg(log.Topics[i+1], input.Type)
	}

	// Parse non-indexed parameters (data field)
	if len(nonIndexed) > 0 {
		if len(log.Data) == 0 {
			return nil, ErrInvalidEvent{Reason: fmt.Sprintf("%s has no data", eventABI.Name)}
		}
		values, err := nonIndexed.Unpack(log.Data)
		if err != nil {
			return nil, ErrEventParsing{Event: eventABI.Name, Err: err}
		}
		for i, input := range nonIndexed {
			args[input.Name] = values[i]
		}
	}

	return &ParsedEvent{
		Log:             log,
		EventName:       eventABI.Name,
		Address:         log.Address,
		Args:            args,
		TransactionHash: log.TxHash,
		BlockNumber:     log.BlockNumber,
		LogIndex:        log.Index,
	}, nil
}

// parseIndexedArg converts a topic hash to the appropriate Go type
func parseIndexedArg(topic common.Hash, argType abi.Type) interface{} {
	switch argType.T {
	case abi.AddressTy:
		return common.BytesToAddress(topic.Bytes())
	case abi.IntTy, abi.UintTy:
		return new(big.Int).SetBytes(topic.Bytes())
	case abi.BoolTy:
		return topic.Big().Sign() != 0
	case abi.BytesTy, abi.FixedBytesTy:
		return topic.Bytes()
	default:
		// For complex types, return the raw hash
		return topic.Hex()
	}
}

// MustParseABI parses a JSON ABI definition and panics if it is invalid.
// Only used for ABI constants compiled into the binary.
func MustParseABI(definition string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(definition))
	if err != nil {
		panic(fmt.Sprintf("invalid ABI: %v", err))
	}
	return parsed
}

// Error types
type ErrInvalidEvent struct {
	Reason string
}

func (e ErrInvalidEvent) Error() string {
	return "invalid event: " + e.Reason
}

type ErrUnknownEvent struct {
	Topic string
}

func (e ErrUnknownEvent) Error() string {
	return "unknown event topic: " + e.Topic
}

type ErrEventParsing struct {
	Event string
	Err   error
}

func (e ErrEventParsing) Error() string {
	return "failed to parse event " + e.Event + ": " + e.Err.Error()
}

func (e ErrEventParsing) Unwrap() error {
	return e.Err
}
