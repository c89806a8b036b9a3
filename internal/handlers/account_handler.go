package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/subscriptly/billing/internal/middleware"
	"github.com/subscriptly/billing/internal/models"
	"github.com/subscriptly/billing/internal/services"
	"go.uber.org/zap"
)

// WalletFlow covers the authenticated wallet and checkout operations.
type WalletFlow interface {
	WalletBalance(ctx context.Context, ownerID int64) (int64, error)
	ChargeWallet(ctx context.Context, ownerID, amount int64) (*models.Payment, error)
	ChargeFollowerWallet(ctx context.Context, operatorID, followerID, amount int64) (*models.Payment, error)
	Donate(ctx context.Context, ownerID, targetID, amount int64) (*models.Payment, error)
	BuySmsPackage(ctx context.Context, ownerID, packageID int64) (*models.SmsPackageSettlement, error)
}

// SubscriptionFlow covers the subscription lifecycle endpoints.
type SubscriptionFlow interface {
	Subscribe(ctx context.Context, req services.SubscribeRequest) (*services.SubscribeResult, error)
	Cancel(ctx context.Context, subscriptionID, userID int64) error
	IsActive(ctx context.Context, subscriptionID int64) (bool, error)
}

type AccountHandler struct {
	wallet        WalletFlow
	subscriptions SubscriptionFlow
	validator     *services.ValidationHelper
	logger        *zap.Logger
}

func NewAccountHandler(wallet WalletFlow, subscriptions SubscriptionFlow, logger *zap.Logger) *AccountHandler {
	return &AccountHandler{
		wallet:        wallet,
		subscriptions: subscriptions,
		validator:     services.NewValidationHelper(),
		logger:        logger.Named("account_handler"),
	}
}

type amountRequest struct {
	Amount int64 `json:"amount" validate:"required,gt=0"`
}

type followerChargeRequest struct {
	FollowerID int64 `json:"follower_id" validate:"required,gt=0"`
	Amount     int64 `json:"amount" validate:"required,gt=0"`
}

type subscribeRequest struct {
	TierID    int64                   `json:"tier_id"`
	PurposeID *int64                  `json:"purpose_id,omitempty"`
	SubType   models.SubscriptionType `json:"sub_type"`
	AutoPay   bool                    `json:"auto_pay"`
}

func (h *AccountHandler) user(w http.ResponseWriter, r *http.Request) (int64, bool) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
	}
	return userID, ok
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		services.SendErrorResponse(w, "Invalid "+name, http.StatusBadRequest, nil)
		return 0, false
	}
	return id, true
}

func (h *AccountHandler) decodeValid(w http.ResponseWriter, r *http.Request, dst any) bool {
	if !decodeJSON(w, r, dst) {
		return false
	}
	if err := h.validator.ValidateStruct(dst); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return false
	}
	return true
}

func (h *AccountHandler) Wallet(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.user(w, r)
	if !ok {
		return
	}
	balance, err := h.wallet.WalletBalance(r.Context(), userID)
	if err != nil {
		sendError(w, h.logger, err)
		return
	}
	services.SendJSON(w, http.StatusOK, map[string]int64{"balance": balance})
}

func (h *AccountHandler) ChargeWallet(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.user(w, r)
	if !ok {
		return
	}
	var req amountRequest
	if !h.decodeValid(w, r, &req) {
		return
	}
	p, err := h.wallet.ChargeWallet(r.Context(), userID, req.Amount)
	if err != nil {
		sendError(w, h.logger, err)
		return
	}
	services.SendJSON(w, http.StatusCreated, p)
}

// ChargeFollower raises a top-up on behalf of a follower of the operator's
// business.
func (h *AccountHandler) ChargeFollower(w http.ResponseWriter, r *http.Request) {
	operatorID, ok := h.user(w, r)
	if !ok {
		return
	}
	var req followerChargeRequest
	if !h.decodeValid(w, r, &req) {
		return
	}
	p, err := h.wallet.ChargeFollowerWallet(r.Context(), operatorID, req.FollowerID, req.Amount)
	if err != nil {
		sendError(w, h.logger, err)
		return
	}
	services.SendJSON(w, http.StatusCreated, p)
}

func (h *AccountHandler) Donate(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.user(w, r)
	if !ok {
		return
	}
	targetID, ok := pathID(w, r, "targetID")
	if !ok {
		return
	}
	var req amountRequest
	if !h.decodeValid(w, r, &req) {
		return
	}
	p, err := h.wallet.Donate(r.Context(), userID, targetID, req.Amount)
	if err != nil {
		sendError(w, h.logger, err)
		return
	}
	services.SendJSON(w, http.StatusCreated, p)
}

func (h *AccountHandler) BuySmsPackage(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.user(w, r)
	if !ok {
		return
	}
	packageID, ok := pathID(w, r, "packageID")
	if !ok {
		return
	}
	pkg, err := h.wallet.BuySmsPackage(r.Context(), userID, packageID)
	if err != nil {
		sendError(w, h.logger, err)
		return
	}
	services.SendJSON(w, http.StatusCreated, pkg)
}

func (h *AccountHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.user(w, r)
	if !ok {
		return
	}
	var req subscribeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := h.subscriptions.Subscribe(r.Context(), services.SubscribeRequest{
		UserID:    userID,
		TierID:    req.TierID,
		PurposeID: req.PurposeID,
		SubType:   req.SubType,
		AutoPay:   req.AutoPay,
	})
	if err != nil {
		sendError(w, h.logger, err)
		return
	}
	services.SendJSON(w, http.StatusCreated, res)
}

func (h *AccountHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.user(w, r)
	if !ok {
		return
	}
	subscriptionID, ok := pathID(w, r, "subscriptionID")
	if !ok {
		return
	}
	if err := h.subscriptions.Cancel(r.Context(), subscriptionID, userID); err != nil {
		sendError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AccountHandler) Active(w http.ResponseWriter, r *http.Request) {
	subscriptionID, ok := pathID(w, r, "subscriptionID")
	if !ok {
		return
	}
	active, err := h.subscriptions.IsActive(r.Context(), subscriptionID)
	if err != nil {
		sendError(w, h.logger, err)
		return
	}
	services.SendJSON(w, http.StatusOK, map[string]bool{"active": active})
}
