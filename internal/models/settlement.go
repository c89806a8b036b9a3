package models

import (
	"time"
)

// SettlementKind names the six settlement variants.
type SettlementKind string

const (
	SettlementWalletCharge         SettlementKind = "wallet_charge"
	SettlementTarget               SettlementKind = "target"
	SettlementSubscriptionDues     SettlementKind = "subscription_dues"
	SettlementDirectDebitDues      SettlementKind = "direct_debit_dues"
	SettlementSmsPackage           SettlementKind = "sms_package"
	SettlementFollowerWalletCharge SettlementKind = "follower_wallet_charge"
)

// SettlementKindFor maps an entry kind to the settlement variant that owns it.
func SettlementKindFor(k EntryKind) (SettlementKind, bool) {
	switch k {
	case KindWalletCharge:
		return SettlementWalletCharge, true
	case KindTarget:
		return SettlementTarget, true
	case KindSubscription, KindInstant:
		return SettlementSubscriptionDues, true
	case KindDirectDebit:
		return SettlementDirectDebitDues, true
	case KindSmsPackage:
		return SettlementSmsPackage, true
	case KindFollowerWalletCharge:
		return SettlementFollowerWalletCharge, true
	}
	return "", false
}

// DuesStatus is the lifecycle of a dues settlement.
type DuesStatus int

const (
	DuesCreated DuesStatus = 0
	DuesOwed    DuesStatus = 5
	DuesPaid    DuesStatus = 10
)

func (s DuesStatus) String() string {
	switch s {
	case DuesCreated:
		return "created"
	case DuesOwed:
		return "owed"
	case DuesPaid:
		return "paid"
	}
	return "unknown"
}

// Settlement is the paid/status lifecycle attached to exactly one ledger entry.
type Settlement interface {
	Kind() SettlementKind
	SettlementID() int64
	EntryID() int64
	Paid() bool
}

// WalletChargeSettlement is settled by its gateway payment.
type WalletChargeSettlement struct {
	Payment *Payment
}

func (s *WalletChargeSettlement) Kind() SettlementKind { return SettlementWalletCharge }
func (s *WalletChargeSettlement) SettlementID() int64  { return s.Payment.ID }
func (s *WalletChargeSettlement) EntryID() int64       { return s.Payment.LedgerEntryID }
func (s *WalletChargeSettlement) Paid() bool           { return s.Payment.IsPaid }

// TargetSettlement is a one-off donation towards a business target.
type TargetSettlement struct {
	ID            int64      `json:"id" db:"id"`
	LedgerEntryID int64      `json:"ledger_entry_id" db:"ledger_entry_id"`
	TargetID      int64      `json:"target_id" db:"target_id"`
	IsPaid        bool       `json:"is_paid" db:"is_paid"`
	PaidDate      *time.Time `json:"paid_date" db:"paid_date"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
}

func (s *TargetSettlement) Kind() SettlementKind { return SettlementTarget }
func (s *TargetSettlement) SettlementID() int64  { return s.ID }
func (s *TargetSettlement) EntryID() int64       { return s.LedgerEntryID }
func (s *TargetSettlement) Paid() bool           { return s.IsPaid }

// SubscriptionDues is one bank-approach billing of a subscription.
// BillingDay is the local calendar day the dues were raised for.
type SubscriptionDues struct {
	ID             int64      `json:"id" db:"id"`
	LedgerEntryID  int64      `json:"ledger_entry_id" db:"ledger_entry_id"`
	SubscriptionID int64      `json:"subscription_id" db:"subscription_id"`
	PurposeID      *int64     `json:"purpose_id" db:"purpose_id"`
	BillingDay     time.Time  `json:"billing_day" db:"billing_day"`
	DueDate        time.Time  `json:"due_date" db:"due_date"`
	IsPaid         bool       `json:"is_paid" db:"is_paid"`
	Status         DuesStatus `json:"status" db:"status"`
	PaidDate       *time.Time `json:"paid_date" db:"paid_date"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`

	// ChargePaymentID is the wallet top-up raised when the dues were owed.
	ChargePaymentID *int64 `json:"charge_payment_id" db:"charge_payment_id"`
}

func (s *SubscriptionDues) Kind() SettlementKind { return SettlementSubscriptionDues }
func (s *SubscriptionDues) SettlementID() int64  { return s.ID }
func (s *SubscriptionDues) EntryID() int64       { return s.LedgerEntryID }
func (s *SubscriptionDues) Paid() bool           { return s.IsPaid }

// MandateDues is one direct-debit charge against a mandate.
type MandateDues struct {
	ID             int64      `json:"id" db:"id"`
	LedgerEntryID  int64      `json:"ledger_entry_id" db:"ledger_entry_id"`
	SubscriptionID int64      `json:"subscription_id" db:"subscription_id"`
	MandateID      int64      `json:"mandate_id" db:"mandate_id"`
	ProviderRef    string     `json:"provider_ref" db:"provider_ref"`
	BillingDay     time.Time  `json:"billing_day" db:"billing_day"`
	DueDate        time.Time  `json:"due_date" db:"due_date"`
	IsPaid         bool       `json:"is_paid" db:"is_paid"`
	Status         DuesStatus `json:"status" db:"status"`
	PaidDate       *time.Time `json:"paid_date" db:"paid_date"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
}

func (s *MandateDues) Kind() SettlementKind { return SettlementDirectDebitDues }
func (s *MandateDues) SettlementID() int64  { return s.ID }
func (s *MandateDues) EntryID() int64       { return s.LedgerEntryID }
func (s *MandateDues) Paid() bool           { return s.IsPaid }

// SmsPackageSettlement is the purchase of an SMS package by a business owner.
type SmsPackageSettlement struct {
	ID            int64      `json:"id" db:"id"`
	LedgerEntryID int64      `json:"ledger_entry_id" db:"ledger_entry_id"`
	SmsPackageID  int64      `json:"sms_package_id" db:"sms_package_id"`
	IsPaid        bool       `json:"is_paid" db:"is_paid"`
	PaidDate      *time.Time `json:"paid_date" db:"paid_date"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
}

func (s *SmsPackageSettlement) Kind() SettlementKind { return SettlementSmsPackage }
func (s *SmsPackageSettlement) SettlementID() int64  { return s.ID }
func (s *SmsPackageSettlement) EntryID() int64       { return s.LedgerEntryID }
func (s *SmsPackageSettlement) Paid() bool           { return s.IsPaid }

// FollowerWalletCharge is a wallet top-up an operator raises for a follower.
type FollowerWalletCharge struct {
	ID            int64      `json:"id" db:"id"`
	LedgerEntryID int64      `json:"ledger_entry_id" db:"ledger_entry_id"`
	OperatorID    int64      `json:"operator_id" db:"operator_id"`
	FollowerID    int64      `json:"follower_id" db:"follower_id"`
	IsPaid        bool       `json:"is_paid" db:"is_paid"`
	PaidDate      *time.Time `json:"paid_date" db:"paid_date"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
}

func (s *FollowerWalletCharge) Kind() SettlementKind { return SettlementFollowerWalletCharge }
func (s *FollowerWalletCharge) SettlementID() int64  { return s.ID }
func (s *FollowerWalletCharge) EntryID() int64       { return s.LedgerEntryID }
func (s *FollowerWalletCharge) Paid() bool           { return s.IsPaid }
