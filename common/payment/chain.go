// Package payment satisfies 402 payment challenges: it signs an
// authorization over the challenge's canonical message, settles the
// amount on-chain as an ERC-20 transfer, and retries the original call
// with the proof attached.
package payment

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"

	"github.com/paidflow/orchestrator/common/models"
)

// Receipt is the confirmation of a broadcast transaction.
type Receipt struct {
	Status      int
	BlockNumber int64
}

// ERC-20 methods the coordinator invokes on the stablecoin contract.
const (
	MethodTransfer  = "transfer"
	MethodApprove   = "approve"
	MethodAllowance = "allowance"
	MethodBalanceOf = "balanceOf"
)

// ChainClient is the narrow signing/RPC abstraction the coordinator
// depends on. The production implementation lives in an external
// signer library; SimChain below covers tests and local runs.
type ChainClient interface {
	// SignerAddress is the wallet address of the configured signer.
	SignerAddress() string
	// SignMessage signs a canonical text message.
	SignMessage(ctx context.Context, text string) (string, error)
	// CallContract submits a state-changing contract call and returns
	// the transaction hash.
	CallContract(ctx context.Context, contract, method string, args ...interface{}) (string, error)
	// WaitForReceipt blocks until the transaction confirms.
	WaitForReceipt(ctx context.Context, txHash string) (*Receipt, error)
	// ReadContract performs a read-only contract call.
	ReadContract(ctx context.Context, contract, method string, args ...interface{}) (interface{}, error)
	// RecoverSigner recovers the address that signed a message.
	RecoverSigner(ctx context.Context, message, signature string) (string, error)
}

// Transfer is one settled SimChain transfer, kept for assertions.
type Transfer struct {
	Contract string
	From     string
	To       string
	Value    models.Atomic
	TxHash   string
}

// SimChain is an in-process ChainClient: deterministic signatures,
// instant confirmations, and a transfer log. It backs tests and local
// development without a node.
type SimChain struct {
	mu         sync.Mutex
	signer     string
	balances   map[string]map[string]models.Atomic
	allowances map[string]map[string]models.Atomic
	receipts   map[string]*Receipt
	transfers  []Transfer
	block      int64
	seq        int
}

// NewSimChain creates a simulator whose signer is the given address.
func NewSimChain(signer string) *SimChain {
	return &SimChain{
		signer:     signer,
		balances:   make(map[string]map[string]models.Atomic),
		allowances: make(map[string]map[string]models.Atomic),
		receipts:   make(map[string]*Receipt),
	}
}

// Fund credits an address on a token contract.
func (s *SimChain) Fund(contract, addr string, amount models.Atomic) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.balances[contract] == nil {
		s.balances[contract] = make(map[string]models.Atomic)
	}
	s.balances[contract][addr] += amount
}

// Transfers returns the settled transfer log.
func (s *SimChain) Transfers() []Transfer {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Transfer, len(s.transfers))
	copy(out, s.transfers)
	return out
}

func (s *SimChain) SignerAddress() string { return s.signer }

// SignMessage produces "sim:<signer>:<sha256(message)>" so the signer
// is recoverable without key material.
func (s *SimChain) SignMessage(_ context.Context, text string) (string, error) {
	sum := sha256.Sum256([]byte(s.signer + "|" + text))
	return "sim:" + s.signer + ":" + hex.EncodeToString(sum[:]), nil
}

func (s *SimChain) RecoverSigner(_ context.Context, message, signature string) (string, error) {
	parts := strings.SplitN(signature, ":", 3)
	if len(parts) != 3 || parts[0] != "sim" {
		return "", fmt.Errorf("malformed signature")
	}
	sum := sha256.Sum256([]byte(parts[1] + "|" + message))
	if hex.EncodeToString(sum[:]) != parts[2] {
		return "", fmt.Errorf("signature does not match message")
	}
	return parts[1], nil
}

func (s *SimChain) CallContract(_ context.Context, contract, method string, args ...interface{}) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	s.block++
	txHash := fmt.Sprintf("0xsim%06d", s.seq)

	switch method {
	case MethodTransfer:
		to, value, err := addrAmountArgs(args)
		if err != nil {
			return "", fmt.Errorf("transfer: %w", err)
		}
		if s.balances[contract] == nil {
			s.balances[contract] = make(map[string]models.Atomic)
		}
		if s.balances[contract][s.signer] < value {
			s.receipts[txHash] = &Receipt{Status: 0, BlockNumber: s.block}
			return txHash, nil
		}
		s.balances[contract][s.signer] -= value
		s.balances[contract][to] += value
		s.transfers = append(s.transfers, Transfer{
			Contract: contract, From: s.signer, To: to, Value: value, TxHash: txHash,
		})
	case MethodApprove:
		spender, value, err := addrAmountArgs(args)
		if err != nil {
			return "", fmt.Errorf("approve: %w", err)
		}
		if s.allowances[contract] == nil {
			s.allowances[contract] = make(map[string]models.Atomic)
		}
		s.allowances[contract][s.signer+"|"+spender] = value
	default:
		return "", fmt.Errorf("unsupported contract method %q", method)
	}

	s.receipts[txHash] = &Receipt{Status: 1, BlockNumber: s.block}
	return txHash, nil
}

func (s *SimChain) WaitForReceipt(_ context.Context, txHash string) (*Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	receipt, ok := s.receipts[txHash]
	if !ok {
		return nil, fmt.Errorf("unknown transaction %s", txHash)
	}
	return receipt, nil
}

func (s *SimChain) ReadContract(_ context.Context, contract, method string, args ...interface{}) (interface{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch method {
	case MethodAllowance:
		if len(args) != 2 {
			return nil, fmt.Errorf("allowance expects owner, spender")
		}
		owner, _ := args[0].(string)
		spender, _ := args[1].(string)
		return s.allowances[contract][owner+"|"+spender], nil
	case MethodBalanceOf:
		if len(args) != 1 {
			return nil, fmt.Errorf("balanceOf expects one address")
		}
		addr, _ := args[0].(string)
		return s.balances[contract][addr], nil
	default:
		return nil, fmt.Errorf("unsupported read method %q", method)
	}
}

func addrAmountArgs(args []interface{}) (string, models.Atomic, error) {
	if len(args) != 2 {
		return "", 0, fmt.Errorf("expected address, amount")
	}
	addr, ok := args[0].(string)
	if !ok {
		return "", 0, fmt.Errorf("address must be a string")
	}
	amount, ok := args[1].(models.Atomic)
	if !ok {
		return "", 0, fmt.Errorf("amount must be atomic")
	}
	return addr, amount, nil
}
