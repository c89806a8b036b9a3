package models

import "errors"

var (
	ErrInvalidAmount        = errors.New("invalid amount")
	ErrInvalidKind          = errors.New("invalid ledger entry kind")
	ErrNoSettlement         = errors.New("ledger entry has no settlement")
	ErrPaymentNotFound      = errors.New("payment not found")
	ErrPaymentAlreadyPaid   = errors.New("payment already paid")
	ErrPaymentNotPayable    = errors.New("entry kind cannot be paid through a gateway")
	ErrGatewayNotFound      = errors.New("gateway not found")
	ErrUnsupportedGateway   = errors.New("unsupported gateway")
	ErrGatewayUnavailable   = errors.New("gateway unavailable")
	ErrGatewayRejected      = errors.New("gateway rejected request")
	ErrDuplicateBilling     = errors.New("subscription already billed for this day")
	ErrBlackoutWindow       = errors.New("payments are paused during the nightly billing window")
	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrMandateNotFound      = errors.New("mandate not found")
	ErrInsufficientBalance  = errors.New("insufficient wallet balance")
	ErrTargetNotFound       = errors.New("target not found")
	ErrTierNotFound         = errors.New("tier not found")
	ErrTargetClosed         = errors.New("target is no longer accepting payments")
)
