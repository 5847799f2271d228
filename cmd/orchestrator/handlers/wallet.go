package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/paidflow/orchestrator/common/bootstrap"
	"github.com/paidflow/orchestrator/common/models"
)

// WalletHandler funds and inspects budget wallets.
type WalletHandler struct {
	components *bootstrap.Components
}

// NewWalletHandler creates a wallet handler.
func NewWalletHandler(components *bootstrap.Components) *WalletHandler {
	return &WalletHandler{components: components}
}

// DepositRequest credits a wallet balance.
type DepositRequest struct {
	Token  string `json:"token"`
	Amount string `json:"amount"`
}

// Deposit credits the wallet in atomic token units.
// POST /api/v1/wallets/:wallet/deposit
func (h *WalletHandler) Deposit(c echo.Context) error {
	var req DepositRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Token == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "token is required")
	}
	amount, err := models.ParseAtomic(req.Amount)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	wallet := c.Param("wallet")
	if err := h.components.Ledger.Deposit(wallet, req.Token, amount); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"wallet":  wallet,
		"token":   req.Token,
		"balance": h.components.Ledger.Balance(wallet, req.Token),
	})
}

// Balance returns the available balance for a wallet and token.
// GET /api/v1/wallets/:wallet/balance?token=USDC
func (h *WalletHandler) Balance(c echo.Context) error {
	token := c.QueryParam("token")
	if token == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "token query parameter is required")
	}
	wallet := c.Param("wallet")
	return c.JSON(http.StatusOK, map[string]interface{}{
		"wallet":  wallet,
		"token":   token,
		"balance": h.components.Ledger.Balance(wallet, token),
	})
}
