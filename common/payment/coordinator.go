package payment

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/paidflow/orchestrator/common/agentcall"
	"github.com/paidflow/orchestrator/common/models"
)

// Error is a payment failure: a 402 challenge that could not be
// satisfied. The engine treats it as non-retriable.
type Error struct {
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return "payment failed: " + e.Reason + ": " + e.Err.Error()
	}
	return "payment failed: " + e.Reason
}

func (e *Error) Unwrap() error { return e.Err }

// Metadata keys attached to the retried request message.
const (
	MetaPaymentProvided     = "paymentProvided"
	MetaPaymentProof        = "paymentProof"
	MetaPaymentRequirements = "paymentRequirements"
	MetaTransactionHash     = "transactionHash"
	MetaNetwork             = "network"
	MetaPayer               = "payer"
)

// Logger is the narrow logging interface the coordinator uses.
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
}

// Invoker is the slice of the agent caller the coordinator wraps.
type Invoker interface {
	Call(ctx context.Context, endpointBase string, inputs map[string]interface{}, opts agentcall.CallOptions) (*agentcall.Result, error)
}

// Key identifies the node invocation a settlement belongs to. At most
// one transfer ever happens per key, unless the agent issues a fresh
// challenge with different requirements.
type Key struct {
	RunID  uuid.UUID
	NodeID string
}

// Config bounds the coordinator's spending.
type Config struct {
	// Network is the settlement network (base or base-sepolia).
	Network string
	// MaxPaymentAtomic caps a single challenge; requirements above it
	// are rejected.
	MaxPaymentAtomic models.Atomic
}

// Coordinator wraps an agent caller so 402 challenges are transparently
// paid and retried with proof.
type Coordinator struct {
	caller Invoker
	chain  ChainClient
	cfg    Config
	logger Logger

	mu      sync.Mutex
	settled map[Key]*models.PaymentProof
}

// NewCoordinator creates a coordinator. chain must not be nil; callers
// without a configured signer should not construct a coordinator at
// all (paywalled agents then fail with a payment error in the engine).
func NewCoordinator(caller Invoker, chain ChainClient, cfg Config, logger Logger) *Coordinator {
	return &Coordinator{
		caller:  caller,
		chain:   chain,
		cfg:     cfg,
		logger:  logger,
		settled: make(map[Key]*models.PaymentProof),
	}
}

// CallPaid performs the unpaid call first and, on a payment challenge,
// settles it and retries with proof. limit bounds the challenge amount
// accepted on this call (the caller's remaining budget); challenges
// above it or the configured cap are rejected before any transfer. The
// returned proof is non-nil whenever an on-chain transfer backed the
// response.
func (c *Coordinator) CallPaid(ctx context.Context, key Key, endpointBase string, inputs map[string]interface{}, opts agentcall.CallOptions, limit models.Atomic) (*agentcall.Result, *models.PaymentProof, error) {
	res, err := c.caller.Call(ctx, endpointBase, inputs, opts)
	if err != nil {
		return nil, nil, err
	}
	if res.Kind != agentcall.ResultPaymentRequired {
		return res, nil, nil
	}

	if len(res.Challenge.Accepts) == 0 {
		return nil, nil, &Error{Reason: "challenge carries no payment requirements"}
	}
	req := res.Challenge.Accepts[0]
	if req.Scheme != models.SchemeExact {
		return nil, nil, &Error{Reason: fmt.Sprintf("unrecognized payment scheme %q", req.Scheme)}
	}
	if req.MaxAmountRequired > limit {
		return nil, nil, &Error{Reason: fmt.Sprintf("requirement %s exceeds remaining budget %s", req.MaxAmountRequired, limit)}
	}
	if c.cfg.MaxPaymentAtomic > 0 && req.MaxAmountRequired > c.cfg.MaxPaymentAtomic {
		return nil, nil, &Error{Reason: fmt.Sprintf("requirement %s exceeds per-call cap %s", req.MaxAmountRequired, c.cfg.MaxPaymentAtomic)}
	}

	proof, err := c.settleOnce(ctx, key, req)
	if err != nil {
		return nil, nil, err
	}

	retryOpts := opts
	retryOpts.Metadata = mergeMetadata(opts.Metadata, map[string]interface{}{
		MetaPaymentProvided:     true,
		MetaPaymentProof:        proof.Authorization,
		MetaPaymentRequirements: proof.Requirement,
		MetaTransactionHash:     proof.TxHash,
		MetaNetwork:             proof.Network,
		MetaPayer:               proof.Payer,
	})

	retry, err := c.caller.Call(ctx, endpointBase, inputs, retryOpts)
	if err != nil {
		// The transfer happened; the proof must survive so a node retry
		// reuses it instead of paying again.
		return nil, proof, err
	}
	if retry.Kind == agentcall.ResultPaymentRequired {
		return nil, proof, &Error{Reason: "agent rejected payment proof"}
	}
	return retry, proof, nil
}

// settleOnce returns the recorded proof when this key already paid for
// equivalent requirements; otherwise it signs, transfers, and records.
func (c *Coordinator) settleOnce(ctx context.Context, key Key, req models.PaymentRequirement) (*models.PaymentProof, error) {
	c.mu.Lock()
	if prior, ok := c.settled[key]; ok && prior.Requirement == req {
		c.mu.Unlock()
		if c.logger != nil {
			c.logger.Info("reusing recorded payment proof",
				"run_id", key.RunID, "node_id", key.NodeID, "tx_hash", prior.TxHash)
		}
		return prior, nil
	}
	c.mu.Unlock()

	auth, err := c.authorize(ctx, req)
	if err != nil {
		return nil, err
	}

	if err := c.ensureAllowance(ctx, req, auth.Value); err != nil {
		return nil, err
	}

	txHash, err := c.chain.CallContract(ctx, req.Asset, MethodTransfer, req.PayTo, auth.Value)
	if err != nil {
		return nil, &Error{Reason: "transfer submission failed", Err: err}
	}
	receipt, err := c.chain.WaitForReceipt(ctx, txHash)
	if err != nil {
		return nil, &Error{Reason: "transfer confirmation failed", Err: err}
	}
	if receipt.Status != 1 {
		return nil, &Error{Reason: fmt.Sprintf("transfer %s reverted", txHash)}
	}

	proof := &models.PaymentProof{
		Authorization: *auth,
		Requirement:   req,
		TxHash:        txHash,
		Network:       req.Network,
		Payer:         auth.From,
	}

	c.mu.Lock()
	c.settled[key] = proof
	c.mu.Unlock()

	if c.logger != nil {
		c.logger.Info("payment settled",
			"run_id", key.RunID, "node_id", key.NodeID,
			"amount", auth.Value, "network", req.Network,
			"tx_hash", txHash, "block", receipt.BlockNumber)
	}
	return proof, nil
}

// authorize signs the canonical challenge message with a fresh nonce
// and validity window.
func (c *Coordinator) authorize(ctx context.Context, req models.PaymentRequirement) (*models.PaymentAuthorization, error) {
	from := c.chain.SignerAddress()
	now := time.Now().Unix()

	nonce := make([]byte, 32)
	if _, err := rand.Read(nonce); err != nil {
		return nil, &Error{Reason: "nonce generation failed", Err: err}
	}

	message := CanonicalMessage(req.Network, req.Asset, from, req.PayTo, req.MaxAmountRequired)
	signature, err := c.chain.SignMessage(ctx, message)
	if err != nil {
		return nil, &Error{Reason: "signing failed", Err: err}
	}

	return &models.PaymentAuthorization{
		From:        from,
		To:          req.PayTo,
		Value:       req.MaxAmountRequired,
		ValidAfter:  now,
		ValidBefore: now + req.MaxTimeoutSeconds,
		Nonce:       hex.EncodeToString(nonce),
		Message:     message,
		Signature:   signature,
	}, nil
}

// ensureAllowance reads the current allowance and, when short, approves
// 110% of the value and waits for confirmation.
func (c *Coordinator) ensureAllowance(ctx context.Context, req models.PaymentRequirement, value models.Atomic) error {
	raw, err := c.chain.ReadContract(ctx, req.Asset, MethodAllowance, c.chain.SignerAddress(), req.PayTo)
	if err != nil {
		return &Error{Reason: "allowance read failed", Err: err}
	}
	current, ok := raw.(models.Atomic)
	if !ok {
		return &Error{Reason: fmt.Sprintf("allowance read returned %T", raw)}
	}
	if current >= value {
		return nil
	}

	headroom := value + value/10
	txHash, err := c.chain.CallContract(ctx, req.Asset, MethodApprove, req.PayTo, headroom)
	if err != nil {
		return &Error{Reason: "approval submission failed", Err: err}
	}
	receipt, err := c.chain.WaitForReceipt(ctx, txHash)
	if err != nil {
		return &Error{Reason: "approval confirmation failed", Err: err}
	}
	if receipt.Status != 1 {
		return &Error{Reason: fmt.Sprintf("approval %s reverted", txHash)}
	}
	return nil
}

// CanonicalMessage is the exact text both sides sign and verify.
func CanonicalMessage(network, asset, from, to string, value models.Atomic) string {
	return fmt.Sprintf("Chain ID: %s\nContract: %s\nUser: %s\nReceiver: %s\nAmount: %s\n",
		network, asset, from, to, value)
}

// IsPaymentError reports whether err is (or wraps) a payment failure.
func IsPaymentError(err error) bool {
	var pe *Error
	return errors.As(err, &pe)
}

func mergeMetadata(base, extra map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}
