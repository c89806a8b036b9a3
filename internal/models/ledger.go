package models

import (
	"time"
)

// EntryKind tags a ledger entry with the settlement path that owns it.
type EntryKind int

const (
	KindWalletCharge         EntryKind = 5
	KindTarget               EntryKind = 10
	KindSubscription         EntryKind = 15
	KindInstant              EntryKind = 20
	KindDirectDebit          EntryKind = 25
	KindSmsPackage           EntryKind = 30
	KindFollowerWalletCharge EntryKind = 35
)

func (k EntryKind) String() string {
	switch k {
	case KindWalletCharge:
		return "wallet_charge"
	case KindTarget:
		return "target"
	case KindSubscription:
		return "subscription"
	case KindInstant:
		return "instant"
	case KindDirectDebit:
		return "direct_debit"
	case KindSmsPackage:
		return "sms_package"
	case KindFollowerWalletCharge:
		return "follower_wallet_charge"
	}
	return "unknown"
}

// Valid reports whether k is one of the known kinds.
func (k EntryKind) Valid() bool {
	return k.String() != "unknown"
}

// IsWalletCharge is true for kinds whose payment tops up the owner's wallet.
func (k EntryKind) IsWalletCharge() bool {
	return k == KindWalletCharge || k == KindFollowerWalletCharge
}

// Payable reports whether a gateway Payment may be attached to an entry of
// this kind. Dues and SMS purchases are settled from the wallet only, so a
// Subscription entry never carries both a payment and a paid dues settlement.
func (k EntryKind) Payable() bool {
	switch k {
	case KindWalletCharge, KindFollowerWalletCharge, KindInstant, KindTarget:
		return true
	}
	return false
}

// LedgerEntry is an immutable financial event. Amount is in minor units.
type LedgerEntry struct {
	ID        int64     `json:"id" db:"id"`
	OwnerID   int64     `json:"owner_id" db:"owner_id"`
	Amount    int64     `json:"amount" db:"amount"`
	Kind      EntryKind `json:"kind" db:"kind"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
