package payment

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paidflow/orchestrator/common/agentcall"
	"github.com/paidflow/orchestrator/common/models"
)

const (
	signerAddr   = "0xsigner"
	merchantAddr = "0xmerchant"
	usdcContract = "0xusdc"
)

func testRequirement(amount models.Atomic) models.PaymentRequirement {
	return models.PaymentRequirement{
		Scheme:            models.SchemeExact,
		Network:           "base-sepolia",
		Asset:             usdcContract,
		PayTo:             merchantAddr,
		MaxAmountRequired: amount,
		MaxTimeoutSeconds: 300,
	}
}

// paidAgent returns 402 until a request arrives with paymentProvided
// metadata, then answers "ok". It counts paid requests.
func paidAgent(t *testing.T, requirement models.PaymentRequirement, paidCalls *atomic.Int64) *httptest.Server {
	t.Helper()
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == agentcall.AgentCardPath {
			json.NewEncoder(w).Encode(agentcall.AgentCard{Name: "paid", URL: srv.URL})
			return
		}
		var req struct {
			ID     json.RawMessage `json:"id"`
			Params struct {
				Message struct {
					Metadata map[string]interface{} `json:"metadata"`
				} `json:"message"`
			} `json:"params"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		if provided, _ := req.Params.Message.Metadata[MetaPaymentProvided].(bool); !provided {
			json.NewEncoder(w).Encode(map[string]interface{}{
				"jsonrpc": "2.0",
				"id":      req.ID,
				"error": map[string]interface{}{
					"code":    402,
					"message": "payment required",
					"data":    models.PaymentChallenge{Accepts: []models.PaymentRequirement{requirement}},
				},
			})
			return
		}
		paidCalls.Add(1)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"result": map[string]interface{}{
				"kind": "message", "messageId": "m1", "role": "agent",
				"parts": []map[string]interface{}{{"kind": "text", "text": "ok"}},
			},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestCallPaid_NoChallengePassesThrough(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == agentcall.AgentCardPath {
			json.NewEncoder(w).Encode(agentcall.AgentCard{Name: "free", URL: srv.URL})
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"jsonrpc": "2.0", "id": 1,
			"result": map[string]interface{}{
				"kind": "message", "messageId": "m", "role": "agent",
				"parts": []map[string]interface{}{{"kind": "text", "text": "free lunch"}},
			},
		})
	}))
	defer srv.Close()

	chain := NewSimChain(signerAddr)
	coord := NewCoordinator(agentcall.New(nil), chain, Config{Network: "base-sepolia", MaxPaymentAtomic: 1000}, nil)

	res, proof, err := coord.CallPaid(context.Background(), Key{RunID: uuid.New(), NodeID: "a"}, srv.URL, nil, agentcall.CallOptions{}, 1000)
	require.NoError(t, err)
	assert.Nil(t, proof)
	assert.Equal(t, "free lunch", agentcall.ExtractOutput(res))
	assert.Empty(t, chain.Transfers())
}

func TestCallPaid_SettlesChallengeAndRetries(t *testing.T) {
	requirement := testRequirement(100)
	var paidCalls atomic.Int64
	srv := paidAgent(t, requirement, &paidCalls)

	chain := NewSimChain(signerAddr)
	chain.Fund(usdcContract, signerAddr, 1000)
	coord := NewCoordinator(agentcall.New(nil), chain, Config{Network: "base-sepolia", MaxPaymentAtomic: 1000}, nil)

	res, proof, err := coord.CallPaid(context.Background(), Key{RunID: uuid.New(), NodeID: "n1"}, srv.URL, map[string]interface{}{"q": "?"}, agentcall.CallOptions{}, 1000)
	require.NoError(t, err)
	assert.Equal(t, "ok", agentcall.ExtractOutput(res))
	require.NotNil(t, proof)

	// Exactly one on-chain transfer of the required amount.
	transfers := chain.Transfers()
	require.Len(t, transfers, 1)
	assert.Equal(t, merchantAddr, transfers[0].To)
	assert.EqualValues(t, 100, transfers[0].Value)
	assert.Equal(t, transfers[0].TxHash, proof.TxHash)
	assert.Equal(t, "base-sepolia", proof.Network)
	assert.Equal(t, signerAddr, proof.Payer)
	assert.EqualValues(t, 1, paidCalls.Load())

	// The authorization verifies server-side.
	assert.NoError(t, VerifyProof(context.Background(), chain, requirement, proof))
}

func TestCallPaid_AmountOverCapRejected(t *testing.T) {
	var paidCalls atomic.Int64
	srv := paidAgent(t, testRequirement(5000), &paidCalls)

	chain := NewSimChain(signerAddr)
	chain.Fund(usdcContract, signerAddr, 100000)
	coord := NewCoordinator(agentcall.New(nil), chain, Config{Network: "base-sepolia", MaxPaymentAtomic: 1000}, nil)

	_, _, err := coord.CallPaid(context.Background(), Key{RunID: uuid.New(), NodeID: "n1"}, srv.URL, nil, agentcall.CallOptions{}, 100_000)
	require.Error(t, err)
	assert.True(t, IsPaymentError(err))
	assert.Empty(t, chain.Transfers())
}

// A challenge above the caller's remaining budget is rejected before
// any money moves, even when it clears the per-call cap.
func TestCallPaid_AmountOverBudgetRejected(t *testing.T) {
	var paidCalls atomic.Int64
	srv := paidAgent(t, testRequirement(500), &paidCalls)

	chain := NewSimChain(signerAddr)
	chain.Fund(usdcContract, signerAddr, 100000)
	coord := NewCoordinator(agentcall.New(nil), chain, Config{Network: "base-sepolia", MaxPaymentAtomic: 1000}, nil)

	_, _, err := coord.CallPaid(context.Background(), Key{RunID: uuid.New(), NodeID: "n1"}, srv.URL, nil, agentcall.CallOptions{}, 300)
	require.Error(t, err)
	assert.True(t, IsPaymentError(err))
	assert.Contains(t, err.Error(), "remaining budget")
	assert.Empty(t, chain.Transfers())
	assert.EqualValues(t, 0, paidCalls.Load())
}

func TestCallPaid_UnknownSchemeRejected(t *testing.T) {
	requirement := testRequirement(10)
	requirement.Scheme = "subscription-pass"
	var paidCalls atomic.Int64
	srv := paidAgent(t, requirement, &paidCalls)

	chain := NewSimChain(signerAddr)
	chain.Fund(usdcContract, signerAddr, 1000)
	coord := NewCoordinator(agentcall.New(nil), chain, Config{MaxPaymentAtomic: 1000}, nil)

	_, _, err := coord.CallPaid(context.Background(), Key{RunID: uuid.New(), NodeID: "n1"}, srv.URL, nil, agentcall.CallOptions{}, 1000)
	require.Error(t, err)
	assert.True(t, IsPaymentError(err))
}

// The same node never pays twice for the same challenge.
func TestCallPaid_SettlementIdempotentPerNode(t *testing.T) {
	requirement := testRequirement(100)
	var paidCalls atomic.Int64
	srv := paidAgent(t, requirement, &paidCalls)

	chain := NewSimChain(signerAddr)
	chain.Fund(usdcContract, signerAddr, 1000)
	coord := NewCoordinator(agentcall.New(nil), chain, Config{Network: "base-sepolia", MaxPaymentAtomic: 1000}, nil)

	key := Key{RunID: uuid.New(), NodeID: "n1"}
	_, first, err := coord.CallPaid(context.Background(), key, srv.URL, nil, agentcall.CallOptions{}, 1000)
	require.NoError(t, err)

	_, second, err := coord.CallPaid(context.Background(), key, srv.URL, nil, agentcall.CallOptions{}, 1000)
	require.NoError(t, err)

	assert.Equal(t, first.TxHash, second.TxHash)
	assert.Len(t, chain.Transfers(), 1)
}

func TestCallPaid_InsufficientOnChainFunds(t *testing.T) {
	var paidCalls atomic.Int64
	srv := paidAgent(t, testRequirement(100), &paidCalls)

	chain := NewSimChain(signerAddr) // unfunded
	coord := NewCoordinator(agentcall.New(nil), chain, Config{MaxPaymentAtomic: 1000}, nil)

	_, _, err := coord.CallPaid(context.Background(), Key{RunID: uuid.New(), NodeID: "n1"}, srv.URL, nil, agentcall.CallOptions{}, 1000)
	require.Error(t, err)
	assert.True(t, IsPaymentError(err))
}

func TestVerifyProof_Checks(t *testing.T) {
	requirement := testRequirement(100)
	chain := NewSimChain(signerAddr)

	message := CanonicalMessage(requirement.Network, requirement.Asset, signerAddr, merchantAddr, 100)
	sig, err := chain.SignMessage(context.Background(), message)
	require.NoError(t, err)

	good := &models.PaymentProof{
		Authorization: models.PaymentAuthorization{
			From: signerAddr, To: merchantAddr, Value: 100,
			ValidAfter:  0,
			ValidBefore: 1 << 40,
			Message:     message,
			Signature:   sig,
		},
		Requirement: requirement,
		Network:     requirement.Network,
		Payer:       signerAddr,
	}
	assert.NoError(t, VerifyProof(context.Background(), chain, requirement, good))

	wrongRecipient := *good
	wrongRecipient.Authorization.To = "0xelse"
	assert.Error(t, VerifyProof(context.Background(), chain, requirement, &wrongRecipient))

	underpaid := *good
	underpaid.Authorization.Value = 50
	assert.Error(t, VerifyProof(context.Background(), chain, requirement, &underpaid))

	expired := *good
	expired.Authorization.ValidBefore = 1
	assert.Error(t, VerifyProof(context.Background(), chain, requirement, &expired))

	wrongNetwork := *good
	wrongNetwork.Network = "base"
	assert.Error(t, VerifyProof(context.Background(), chain, requirement, &wrongNetwork))

	forged := *good
	forged.Authorization.Signature = "sim:0xother:deadbeef"
	assert.Error(t, VerifyProof(context.Background(), chain, requirement, &forged))
}
