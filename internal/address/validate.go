// Package address checks settle addresses against the grammar of their network.
package address

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mr-tron/base58"
)

type Family string

const (
	FamilyEVM      Family = "evm"
	FamilySolana   Family = "solana"
	FamilyBitcoin  Family = "bitcoin"
	FamilyTron     Family = "tron"
	FamilyLitecoin Family = "litecoin"
	FamilyDoge     Family = "doge"
	FamilyUnknown  Family = ""
)

var ErrEmpty = errors.New("address is empty")

var networks = map[string]Family{
	"ethereum":  FamilyEVM,
	"eth":       FamilyEVM,
	"arbitrum":  FamilyEVM,
	"base":      FamilyEVM,
	"polygon":   FamilyEVM,
	"matic":     FamilyEVM,
	"optimism":  FamilyEVM,
	"bsc":       FamilyEVM,
	"avax":      FamilyEVM,
	"avalanche": FamilyEVM,
	"solana":    FamilySolana,
	"sol":       FamilySolana,
	"bitcoin":   FamilyBitcoin,
	"btc":       FamilyBitcoin,
	"tron":      FamilyTron,
	"trx":       FamilyTron,
	"litecoin":  FamilyLitecoin,
	"ltc":       FamilyLitecoin,
	"doge":      FamilyDoge,
	"dogecoin":  FamilyDoge,
}

// FamilyOf maps a network name to its address family. Unknown networks map to FamilyUnknown.
func FamilyOf(network string) Family {
	return networks[strings.ToLower(strings.TrimSpace(network))]
}

// Validator is the settle address check the order engine depends on.
type Validator interface {
	Validate(network, addr string) error
}

// Grammar validates addresses by network family.
type Grammar struct{}

func (Grammar) Validate(network, addr string) error { return Validate(network, addr) }

// Validate returns nil when addr is well formed for network. Networks with no
// known grammar accept any non-empty address without whitespace.
func Validate(network, addr string) error {
	if addr == "" {
		return ErrEmpty
	}
	if strings.ContainsAny(addr, " \t\r\n") {
		return errors.New("address contains whitespace")
	}

	switch FamilyOf(network) {
	case FamilyEVM:
		return validateEVM(addr)
	case FamilySolana:
		return validateSolana(addr)
	case FamilyBitcoin:
		return validateUTXO(addr, "bc", 0x00, 0x05)
	case FamilyLitecoin:
		return validateUTXO(addr, "ltc", 0x30, 0x32, 0x05)
	case FamilyDoge:
		return validateUTXO(addr, "", 0x1e, 0x16)
	case FamilyTron:
		return validateTron(addr)
	}
	return nil
}

func validateEVM(addr string) error {
	if !strings.HasPrefix(addr, "0x") || !common.IsHexAddress(addr) {
		return errors.New("not a 0x-prefixed 20-byte hex address")
	}
	body := addr[2:]
	if body == strings.ToLower(body) || body == strings.ToUpper(body) {
		return nil
	}
	if common.HexToAddress(addr).Hex() != addr {
		return errors.New("EIP-55 checksum mismatch")
	}
	return nil
}

// Program-derived addresses are off-curve, so only the encoding and length are checked.
func validateSolana(addr string) error {
	raw, err := base58.Decode(addr)
	if err != nil {
		return fmt.Errorf("invalid base58: %w", err)
	}
	if len(raw) != 32 {
		return fmt.Errorf("expected 32 bytes, got %d", len(raw))
	}
	return nil
}

func validateTron(addr string) error {
	if !strings.HasPrefix(addr, "T") {
		return errors.New("tron address must start with T")
	}
	payload, err := decodeCheck(addr)
	if err != nil {
		return err
	}
	if len(payload) != 21 || payload[0] != 0x41 {
		return errors.New("not a tron account address")
	}
	return nil
}

func validateUTXO(addr, hrp string, versions ...byte) error {
	if hrp != "" && strings.HasPrefix(strings.ToLower(addr), hrp+"1") {
		return validateBech32(addr, hrp)
	}
	payload, err := decodeCheck(addr)
	if err != nil {
		return err
	}
	if len(payload) != 21 {
		return fmt.Errorf("expected 21-byte payload, got %d", len(payload))
	}
	if bytes.IndexByte(versions, payload[0]) < 0 {
		return fmt.Errorf("unexpected version byte 0x%02x", payload[0])
	}
	return nil
}

// decodeCheck decodes base58check and returns the payload without its checksum.
func decodeCheck(addr string) ([]byte, error) {
	raw, err := base58.Decode(addr)
	if err != nil {
		return nil, fmt.Errorf("invalid base58: %w", err)
	}
	if len(raw) < 5 {
		return nil, errors.New("address too short")
	}
	payload, sum := raw[:len(raw)-4], raw[len(raw)-4:]
	first := sha256.Sum256(payload)
	second := sha256.Sum256(first[:])
	if !bytes.Equal(second[:4], sum) {
		return nil, errors.New("checksum mismatch")
	}
	return payload, nil
}
