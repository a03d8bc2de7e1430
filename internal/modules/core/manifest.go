package core

import (
	"encoding/hex"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Manifest describes the launchpad contract surface the indexer relies on.
// Signatures are canonical Solidity signatures; selectors and topics are
// derived from them.
type Manifest struct {
	Name        string            `yaml:"name"`
	Version     string            `yaml:"version"`
	Description string            `yaml:"description,omitempty"`
	Selectors   SelectorSet       `yaml:"selectors"`
	Views       ViewSet           `yaml:"views"`
	Events      EventSet          `yaml:"events"`
	Context     map[string]string `yaml:"context,omitempty"`
}

// SelectorSet names the functions whose calldata selector classifies every
// Transfer log of the transaction outright.
type SelectorSet struct {
	BuyAndLock string `yaml:"buyAndLock"`
	Claim      string `yaml:"claim"`
	Unlock     string `yaml:"unlock"`
}

// ViewSet names the read-only functions called on the token contract.
type ViewSet struct {
	SellPrice    string `yaml:"sellPrice"`
	CurrentPrice string `yaml:"currentPrice"`
	Creator      string `yaml:"creator"`
}

// EventSet holds event signatures with parameter names, e.g.
// "Graduated(address indexed pool, uint256 tokenAmount, uint256 ethAmount)".
type EventSet struct {
	Graduated string `yaml:"graduated"`
}

// Selector is a 4-byte function selector.
type Selector [4]byte

func (s Selector) String() string {
	return "0x" + hex.EncodeToString(s[:])
}

func (s Selector) Bytes() []byte {
	return s[:]
}

// SelectorOf returns keccak256(signature)[:4].
func SelectorOf(signature string) Selector {
	var s Selector
	copy(s[:], crypto.Keccak256([]byte(strings.ReplaceAll(signature, " ", "")))[:4])
	return s
}

// Resolved is the manifest with every signature turned into its selector or
// event definition.
type Resolved struct {
	Manifest *Manifest

	BuyAndLock Selector
	Claim      Selector
	Unlock     Selector

	SellPrice    Selector
	CurrentPrice Selector
	Creator      Selector

	Graduated *abi.Event
}

// GraduatedTopic is topic0 of the graduation event.
func (r *Resolved) GraduatedTopic() common.Hash {
	return r.Graduated.ID
}

// Resolve derives selectors and parses the event definitions.
func (m *Manifest) Resolve() (*Resolved, error) {
	if err := m.ValidateManifest(); err != nil {
		return nil, err
	}

	graduated, err := ParseEventSignature(m.Events.Graduated)
	if err != nil {
		return nil, ErrInvalidManifest{Field: "events.graduated", Reason: err.Error()}
	}

	return &Resolved{
		Manifest:     m,
		BuyAndLock:   SelectorOf(m.Selectors.BuyAndLock),
		Claim:        SelectorOf(m.Selectors.Claim),
		Unlock:       SelectorOf(m.Selectors.Unlock),
		SellPrice:    SelectorOf(m.Views.SellPrice),
		CurrentPrice: SelectorOf(m.Views.CurrentPrice),
		Creator:      SelectorOf(m.Views.Creator),
		Graduated:    graduated,
	}, nil
}

// ValidateManifest validates a manifest structure
func (m *Manifest) ValidateManifest() error {
	if m.Name == "" {
		return ErrInvalidManifest{Field: "name", Reason: "name is required"}
	}

	if m.Version == "" {
		return ErrInvalidManifest{Field: "version", Reason: "version is required"}
	}

	required := map[string]string{
		"selectors.buyAndLock": m.Selectors.BuyAndLock,
		"selectors.claim":      m.Selectors.Claim,
		"selectors.unlock":     m.Selectors.Unlock,
		"views.sellPrice":      m.Views.SellPrice,
		"views.currentPrice":   m.Views.CurrentPrice,
		"views.creator":        m.Views.Creator,
		"events.graduated":     m.Events.Graduated,
	}
	for field, sig := range required {
		if sig == "" {
			return ErrInvalidManifest{Field: field, Reason: "signature is required"}
		}
		if !strings.Contains(sig, "(") || !strings.HasSuffix(sig, ")") {
			return ErrInvalidManifest{Field: field, Reason: "not a function signature: " + sig}
		}
	}

	return nil
}

// ErrInvalidManifest is returned when a manifest is invalid
type ErrInvalidManifest struct {
	Field  string
	Reason string
}

func (e ErrInvalidManifest) Error() string {
	return "invalid manifest field " + e.Field + ": " + e.Reason
}
