package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/paidflow/orchestrator/common/models"
)

// Verifier is the slice of the chain client needed server-side.
type Verifier interface {
	RecoverSigner(ctx context.Context, message, signature string) (string, error)
}

// VerifyProof runs the server-side checks on a payment proof against
// the requirement the resource advertises.
func VerifyProof(ctx context.Context, chain Verifier, expected models.PaymentRequirement, proof *models.PaymentProof) error {
	auth := proof.Authorization

	if auth.To != expected.PayTo {
		return fmt.Errorf("authorization pays %s, expected %s", auth.To, expected.PayTo)
	}
	if auth.Value < expected.MaxAmountRequired {
		return fmt.Errorf("authorized value %s below required %s", auth.Value, expected.MaxAmountRequired)
	}
	now := time.Now().Unix()
	if now < auth.ValidAfter || now > auth.ValidBefore {
		return fmt.Errorf("authorization outside validity window")
	}
	if proof.Network != expected.Network {
		return fmt.Errorf("declared network %q, expected %q", proof.Network, expected.Network)
	}

	message := CanonicalMessage(expected.Network, expected.Asset, auth.From, auth.To, auth.Value)
	signer, err := chain.RecoverSigner(ctx, message, auth.Signature)
	if err != nil {
		return fmt.Errorf("signature recovery failed: %w", err)
	}
	if signer != auth.From {
		return fmt.Errorf("signature from %s, authorization claims %s", signer, auth.From)
	}
	return nil
}

// RequirePayment is echo middleware for agents hosted under the
// orchestrator: it gates JSON-RPC requests behind the given payment
// requirement and responds with a 402 challenge until a valid proof
// arrives in the message metadata.
func RequirePayment(chain Verifier, requirement models.PaymentRequirement) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			body, err := io.ReadAll(c.Request().Body)
			if err != nil {
				return err
			}
			c.Request().Body = io.NopCloser(bytes.NewReader(body))

			var envelope struct {
				ID     json.RawMessage `json:"id"`
				Params struct {
					Message struct {
						Metadata map[string]json.RawMessage `json:"metadata"`
					} `json:"message"`
				} `json:"params"`
			}
			if err := json.Unmarshal(body, &envelope); err != nil {
				return challengeResponse(c, nil, requirement, "malformed request")
			}

			proof, reason := decodeProof(envelope.Params.Message.Metadata)
			if proof == nil {
				return challengeResponse(c, envelope.ID, requirement, reason)
			}
			if err := VerifyProof(c.Request().Context(), chain, requirement, proof); err != nil {
				return challengeResponse(c, envelope.ID, requirement, err.Error())
			}
			return next(c)
		}
	}
}

func decodeProof(metadata map[string]json.RawMessage) (*models.PaymentProof, string) {
	if metadata == nil {
		return nil, "payment required"
	}
	var provided bool
	if raw, ok := metadata[MetaPaymentProvided]; ok {
		_ = json.Unmarshal(raw, &provided)
	}
	if !provided {
		return nil, "payment required"
	}

	proof := &models.PaymentProof{}
	if raw, ok := metadata[MetaPaymentProof]; ok {
		if err := json.Unmarshal(raw, &proof.Authorization); err != nil {
			return nil, "malformed payment proof"
		}
	} else {
		return nil, "missing payment proof"
	}
	if raw, ok := metadata[MetaPaymentRequirements]; ok {
		_ = json.Unmarshal(raw, &proof.Requirement)
	}
	if raw, ok := metadata[MetaTransactionHash]; ok {
		_ = json.Unmarshal(raw, &proof.TxHash)
	}
	if raw, ok := metadata[MetaNetwork]; ok {
		_ = json.Unmarshal(raw, &proof.Network)
	}
	if raw, ok := metadata[MetaPayer]; ok {
		_ = json.Unmarshal(raw, &proof.Payer)
	}
	return proof, ""
}

// challengeResponse emits a JSON-RPC error with code 402 carrying the
// original challenge in its data.
func challengeResponse(c echo.Context, id json.RawMessage, requirement models.PaymentRequirement, reason string) error {
	if id == nil {
		id = json.RawMessage("null")
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      id,
		"error": map[string]interface{}{
			"code":    http.StatusPaymentRequired,
			"message": reason,
			"data": models.PaymentChallenge{
				Accepts: []models.PaymentRequirement{requirement},
				Error:   reason,
			},
		},
	})
}
