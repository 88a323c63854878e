// README: Wallet and loyalty read handlers plus admin wallet opening.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"errand/internal/http/middleware"
	"errand/internal/modules/loyalty"
	"errand/internal/modules/wallet"
	"errand/internal/types"
)

type WalletHandler struct {
	wallets *wallet.Service
	loyalty *loyalty.Service
}

func NewWalletHandler(wallets *wallet.Service, points *loyalty.Service) *WalletHandler {
	return &WalletHandler{wallets: wallets, loyalty: points}
}

func (h *WalletHandler) Me(c *gin.Context) {
	w, err := h.wallets.Mine(c.Request.Context(), middleware.Caller(c))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, w)
}

func (h *WalletHandler) Loyalty(c *gin.Context) {
	acct, err := h.loyalty.Account(c.Request.Context(), middleware.Caller(c).ID)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, acct)
}

type openWalletReq struct {
	UserID  string          `json:"user_id"`
	Balance decimal.Decimal `json:"balance"`
}

func (h *WalletHandler) Open(c *gin.Context) {
	var req openWalletReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "bad_request", "invalid json")
		return
	}
	if !isValidID(req.UserID) {
		writeError(c, http.StatusBadRequest, "bad_request", "invalid user_id")
		return
	}
	w, err := h.wallets.Open(c.Request.Context(), wallet.OpenCommand{
		UserID:  types.ID(req.UserID),
		Balance: req.Balance,
		Actor:   middleware.Caller(c),
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, w)
}
