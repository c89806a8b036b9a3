package models

import (
	"time"
)

// SubscriptionType selects the billing cycle that charges a subscription.
type SubscriptionType int

const (
	SubTypeBankApproach SubscriptionType = 0
	SubTypeDirectDebit  SubscriptionType = 1
)

func (t SubscriptionType) String() string {
	if t == SubTypeDirectDebit {
		return "direct_debit"
	}
	return "bank_approach"
}

// Tier defines the recurring amount of a subscription.
type Tier struct {
	ID         int64  `json:"id" db:"id"`
	BusinessID int64  `json:"business_id" db:"business_id"`
	Title      string `json:"title" db:"title"`
	Amount     int64  `json:"amount" db:"amount"`
}

// Subscription binds a user to a business tier.
// DueDayOfMonth is a local calendar day (1..31) fixed at creation.
type Subscription struct {
	ID            int64            `json:"id" db:"id"`
	UserID        int64            `json:"user_id" db:"user_id"`
	BusinessID    int64            `json:"business_id" db:"business_id"`
	TierID        int64            `json:"tier_id" db:"tier_id"`
	PurposeID     *int64           `json:"purpose_id" db:"purpose_id"`
	DueDayOfMonth int              `json:"due_day_of_month" db:"due_day_of_month"`
	IsEnabled     bool             `json:"is_enabled" db:"is_enabled"`
	SubType       SubscriptionType `json:"sub_type" db:"sub_type"`
	AutoPay       bool             `json:"auto_pay" db:"auto_pay"`
	CreatedAt     time.Time        `json:"created_at" db:"created_at"`

	// Amount is the tier amount, loaded alongside the subscription.
	Amount int64 `json:"amount" db:"-"`
}

// Mandate is a direct-debit agreement with the collection provider.
// ClientData is sealed by the vault and holds the provider credentials.
type Mandate struct {
	ID             int64     `json:"id" db:"id"`
	UserID         int64     `json:"user_id" db:"user_id"`
	SubscriptionID int64     `json:"subscription_id" db:"subscription_id"`
	ProviderRef    string    `json:"provider_ref" db:"provider_ref"`
	ClientData     []byte    `json:"-" db:"client_data"`
	IsActive       bool      `json:"is_active" db:"is_active"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}

// IncomeSummary aggregates paid dues for one business.
type IncomeSummary struct {
	BusinessID   int64 `json:"business_id"`
	DailyTotal   int64 `json:"daily_total"`
	DailyCount   int   `json:"daily_count"`
	MonthlyTotal int64 `json:"monthly_total"`
	MonthlyCount int   `json:"monthly_count"`
}
