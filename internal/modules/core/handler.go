package core

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// ParsedEvent represents a decoded event log
type ParsedEvent struct {
	Log *types.Log

	EventName string
	Address   common.Address
	Args      map[string]interface{}

	TransactionHash common.Hash
	BlockNumber     uint64
	LogIndex        uint
}

// Uint returns a uint argument or an ErrInvalidEvent.
func (e *ParsedEvent) Uint(name string) (*big.Int, error) {
	v, ok := e.Args[name].(*big.Int)
	if !ok {
		return nil, ErrInvalidEvent{Reason: fmt.Sprintf("%s: missing uint arg %q", e.EventName, name)}
	}
	return v, nil
}

// Addr returns an address argument or an ErrInvalidEvent.
func (e *ParsedEvent) Addr(name string) (common.Address, error) {
	v, ok := e.Args[name].(common.Address)
	if !ok {
		return common.Address{}, ErrInvalidEvent{Reason: fmt.Sprintf("%s: missing address arg %q", e.EventName, name)}
	}
	return v, nil
}

// EventParser decodes logs whose topic0 it knows.
type EventParser struct {
	events map[common.Hash]*abi.Event
}

func NewEventParser() *EventParser {
	return &EventParser{events: make(map[common.Hash]*abi.Event)}
}

// AddABI indexes every event of the ABI by topic.
func (p *EventParser) AddABI(contractABI *abi.ABI) {
	for name := range contractABI.Events {
		event := contractABI.Events[name]
		p.events[event.ID] = &event
	}
}

// AddEvent indexes a single event.
func (p *EventParser) AddEvent(event *abi.Event) {
	p.events[event.ID] = event
}

// ParseEvent parses a log into a ParsedEvent
func (p *EventParser) ParseEvent(log *types.Log) (*ParsedEvent, error) {
	if len(log.Topics) == 0 {
		return nil, ErrInvalidEvent{Reason: "no topics in log"}
	}

	eventABI, exists := p.events[log.Topics[0]]
	if !exists {
		return nil, ErrUnknownEvent{Topic: log.Topics[0].Hex()}
	}

	args := make(map[string]interface{})

	var indexed, nonIndexed abi.Arguments
	for _, input := range eventABI.Inputs {
		if input.Indexed {
			indexed = append(indexed, input)
		} else {
			nonIndexed = append(nonIndexed, input)
		}
	}

	if len(log.Topics)-1 != len(indexed) {
		return nil, ErrInvalidEvent{Reason: fmt.Sprintf("%s: expected %d indexed topics, got %d",
			eventABI.Name, len(indexed), len(log.Topics)-1)}
	}
	for i, input := range indexed {
		args[input.Name] = parseIndexedArg(log.Topics[i+1], input.Type)
	}

	if len(nonIndexed) > 0 {
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
		return topic.Hex()
	}
}

// ParseEventSignature parses a human-readable event signature such as
// "Graduated(address indexed pool, uint256 tokenAmount, uint256 ethAmount)".
// Unnamed parameters are called arg0, arg1, ...
func ParseEventSignature(sig string) (*abi.Event, error) {
	open := strings.Index(sig, "(")
	if open <= 0 || !strings.HasSuffix(sig, ")") {
		return nil, ErrInvalidEventSignature{Signature: sig}
	}

	name := strings.TrimSpace(sig[:open])
	params := strings.TrimSpace(sig[open+1 : len(sig)-1])

	var inputs abi.Arguments
	if params != "" {
		for i, param := range strings.Split(params, ",") {
			fields := strings.Fields(param)
			if len(fields) == 0 {
				return nil, ErrInvalidEventSignature{Signature: sig}
			}

			arg := abi.Argument{Name: fmt.Sprintf("arg%d", i)}
			typ, err := abi.NewType(fields[0], "", nil)
			if err != nil {
				return nil, ErrInvalidEventSignature{Signature: sig}
			}
			arg.Type = typ

			rest := fields[1:]
			if len(rest) > 0 && rest[0] == "indexed" {
				arg.Indexed = true
				rest = rest[1:]
			}
			if len(rest) > 0 {
				arg.Name = rest[0]
			}
			inputs = append(inputs, arg)
		}
	}

	event := abi.NewEvent(name, name, false, inputs)
	return &event, nil
}

// ErrMissingCompanion marks a graduation whose required companion logs are
// absent. The transaction is skipped as a whole.
var ErrMissingCompanion = errors.New("graduation companion log missing")

// ErrMalformed marks a log or transaction that can never be processed.
var ErrMalformed = errors.New("malformed input")

// Error types
type ErrInvalidEvent struct {
	Reason string
}

func (e ErrInvalidEvent) Error() string {
	return "invalid event: " + e.Reason
}

func (e ErrInvalidEvent) Unwrap() error { return ErrMalformed }

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

func (e ErrEventParsing) Unwrap() []error { return []error{ErrMalformed, e.Err} }

type ErrInvalidEventSignature struct {
	Signature string
}

func (e ErrInvalidEventSignature) Error() string {
	return "invalid event signature: " + e.Signature
}
