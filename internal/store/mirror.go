package store

import (
	"context"
	"time"

	"gorm.io/gorm/clause"
)

// MirrorTables lists every table holding mirrored provider objects, in the
// order account deletion walks them (children before parents).
var MirrorTables = []string{
	"tax_ids",
	"early_fraud_warnings",
	"credit_notes",
	"disputes",
	"refunds",
	"setup_intents",
	"payment_intents",
	"charges",
	"invoices",
	"checkout_sessions",
	"subscription_schedules",
	"subscription_items",
	"subscriptions",
	"payment_methods",
	"customers",
	"plans",
	"prices",
	"products",
}

var conflictTarget = []clause.Column{{Name: "account_id"}, {Name: "id"}}

// UpsertRows writes a batch of mirror rows for one table. Existing rows are
// fully replaced except for the conflict key; projector idempotence and
// webhook redelivery safety both rest on this.
func (s *Store) UpsertRows(ctx context.Context, table string, rows any) error {
	return s.db.WithContext(ctx).
		Table(s.table(table)).
		Clauses(clause.OnConflict{Columns: conflictTarget, UpdateAll: true}).
		CreateInBatches(rows, 200).Error
}

// StubRow satisfies a foreign key before the real object has been mirrored.
// It carries identity only; the real row replaces it on arrival.
type StubRow struct {
	ID        string `gorm:"column:id;primaryKey"`
	AccountID string `gorm:"column:account_id;primaryKey"`
}

// UpsertStub inserts an identity-only row unless one already exists. Never
// overwrites a populated row.
func (s *Store) UpsertStub(ctx context.Context, table, accountID, id string) error {
	if id == "" {
		return nil
	}
	return s.db.WithContext(ctx).
		Table(s.table(table)).
		Clauses(clause.OnConflict{Columns: conflictTarget, DoNothing: true}).
		Create(&StubRow{ID: id, AccountID: accountID}).Error
}

type tombstoneRow struct {
	ID           string `gorm:"column:id"`
	AccountID    string `gorm:"column:account_id"`
	Deleted      bool   `gorm:"column:deleted"`
	LastSyncedAt string `gorm:"column:last_synced_at"`
	UpdatedAt    string `gorm:"column:updated_at"`
}

// MarkDeleted records a provider-side deletion as a soft tombstone. The row
// is created if the object was never mirrored.
func (s *Store) MarkDeleted(ctx context.Context, table, accountID, id string) error {
	now := Now()
	return s.db.WithContext(ctx).
		Table(s.table(table)).
		Clauses(clause.OnConflict{
			Columns:   conflictTarget,
			DoUpdates: clause.AssignmentColumns([]string{"deleted", "last_synced_at", "updated_at"}),
		}).
		Create(&tombstoneRow{
			ID:           id,
			AccountID:    accountID,
			Deleted:      true,
			LastSyncedAt: now,
			UpdatedAt:    now,
		}).Error
}

// Now renders the timestamp format used across all tables.
func Now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// MirrorCommon carries the columns shared by every mirror row struct.
type MirrorCommon struct {
	ID           string  `gorm:"column:id;primaryKey"`
	AccountID    string  `gorm:"column:account_id;primaryKey"`
	Object       string  `gorm:"column:object"`
	Created      *string `gorm:"column:created"`
	Metadata     *string `gorm:"column:metadata"`
	Raw          string  `gorm:"column:raw"`
	Deleted      bool    `gorm:"column:deleted"`
	LastSyncedAt string  `gorm:"column:last_synced_at"`
	UpdatedAt    string  `gorm:"column:updated_at"`
}

type ProductRow struct {
	MirrorCommon `gorm:"embedded"`
	Name         *string `gorm:"column:name"`
	Active       *bool   `gorm:"column:active"`
	Description  *string `gorm:"column:description"`
}

type PriceRow struct {
	MirrorCommon      `gorm:"embedded"`
	Product           *string `gorm:"column:product"`
	Active            *bool   `gorm:"column:active"`
	Currency          *string `gorm:"column:currency"`
	UnitAmount        *int64  `gorm:"column:unit_amount"`
	Type              *string `gorm:"column:type"`
	RecurringInterval *string `gorm:"column:recurring_interval"`
}

type PlanRow struct {
	MirrorCommon `gorm:"embedded"`
	Product      *string `gorm:"column:product"`
	Active       *bool   `gorm:"column:active"`
	Currency     *string `gorm:"column:currency"`
	Amount       *int64  `gorm:"column:amount"`
	Interval     *string `gorm:"column:interval"`
}

type CustomerRow struct {
	MirrorCommon         `gorm:"embedded"`
	Email                *string `gorm:"column:email"`
	Name                 *string `gorm:"column:name"`
	Description          *string `gorm:"column:description"`
	Currency             *string `gorm:"column:currency"`
	DefaultPaymentMethod *string `gorm:"column:default_payment_method"`
	Delinquent           *bool   `gorm:"column:delinquent"`
}

type PaymentMethodRow struct {
	MirrorCommon `gorm:"embedded"`
	Customer     *string `gorm:"column:customer"`
	Type         *string `gorm:"column:type"`
	CardBrand    *string `gorm:"column:card_brand"`
	CardLast4    *string `gorm:"column:card_last4"`
}

type SubscriptionRow struct {
	MirrorCommon       `gorm:"embedded"`
	Customer           *string `gorm:"column:customer"`
	Status             *string `gorm:"column:status"`
	CurrentPeriodStart *string `gorm:"column:current_period_start"`
	CurrentPeriodEnd   *string `gorm:"column:current_period_end"`
	CancelAtPeriodEnd  *bool   `gorm:"column:cancel_at_period_end"`
}

type SubscriptionItemRow struct {
	MirrorCommon `gorm:"embedded"`
	Subscription *string `gorm:"column:subscription"`
	Price        *string `gorm:"column:price"`
	Quantity     *int64  `gorm:"column:quantity"`
}

type SubscriptionScheduleRow struct {
	MirrorCommon `gorm:"embedded"`
	Customer     *string `gorm:"column:customer"`
	Subscription *string `gorm:"column:subscription"`
	Status       *string `gorm:"column:status"`
}

type CheckoutSessionRow struct {
	MirrorCommon  `gorm:"embedded"`
	Customer      *string `gorm:"column:customer"`
	Subscription  *string `gorm:"column:subscription"`
	PaymentIntent *string `gorm:"column:payment_intent"`
	Mode          *string `gorm:"column:mode"`
	Status        *string `gorm:"column:status"`
}

type InvoiceRow struct {
	MirrorCommon `gorm:"embedded"`
	Customer     *string `gorm:"column:customer"`
	Subscription *string `gorm:"column:subscription"`
	Status       *string `gorm:"column:status"`
	Currency     *string `gorm:"column:currency"`
	Total        *int64  `gorm:"column:total"`
	AmountDue    *int64  `gorm:"column:amount_due"`
	PeriodStart  *string `gorm:"column:period_start"`
	PeriodEnd    *string `gorm:"column:period_end"`
}

type ChargeRow struct {
	MirrorCommon  `gorm:"embedded"`
	Customer      *string `gorm:"column:customer"`
	Invoice       *string `gorm:"column:invoice"`
	PaymentIntent *string `gorm:"column:payment_intent"`
	Status        *string `gorm:"column:status"`
	Currency      *string `gorm:"column:currency"`
	Amount        *int64  `gorm:"column:amount"`
	Paid          *bool   `gorm:"column:paid"`
	Refunded      *bool   `gorm:"column:refunded"`
}

type PaymentIntentRow struct {
	MirrorCommon `gorm:"embedded"`
	Customer     *string `gorm:"column:customer"`
	Invoice      *string `gorm:"column:invoice"`
	Status       *string `gorm:"column:status"`
	Currency     *string `gorm:"column:currency"`
	Amount       *int64  `gorm:"column:amount"`
}

type SetupIntentRow struct {
	MirrorCommon  `gorm:"embedded"`
	Customer      *string `gorm:"column:customer"`
	PaymentMethod *string `gorm:"column:payment_method"`
	Status        *string `gorm:"column:status"`
	Usage         *string `gorm:"column:usage"`
}

type RefundRow struct {
	MirrorCommon  `gorm:"embedded"`
	Charge        *string `gorm:"column:charge"`
	PaymentIntent *string `gorm:"column:payment_intent"`
	Status        *string `gorm:"column:status"`
	Currency      *string `gorm:"column:currency"`
	Amount        *int64  `gorm:"column:amount"`
	Reason        *string `gorm:"column:reason"`
}

type DisputeRow struct {
	MirrorCommon  `gorm:"embedded"`
	Charge        *string `gorm:"column:charge"`
	PaymentIntent *string `gorm:"column:payment_intent"`
	Status        *string `gorm:"column:status"`
	Currency      *string `gorm:"column:currency"`
	Amount        *int64  `gorm:"column:amount"`
	Reason        *string `gorm:"column:reason"`
}

type CreditNoteRow struct {
	MirrorCommon `gorm:"embedded"`
	Customer     *string `gorm:"column:customer"`
	Invoice      *string `gorm:"column:invoice"`
	Status       *string `gorm:"column:status"`
	Currency     *string `gorm:"column:currency"`
	Total        *int64  `gorm:"column:total"`
}

type EarlyFraudWarningRow struct {
	MirrorCommon  `gorm:"embedded"`
	Charge        *string `gorm:"column:charge"`
	PaymentIntent *string `gorm:"column:payment_intent"`
	FraudType     *string `gorm:"column:fraud_type"`
	Actionable    *bool   `gorm:"column:actionable"`
}

type TaxIDRow struct {
	MirrorCommon `gorm:"embedded"`
	Customer     *string `gorm:"column:customer"`
	Type         *string `gorm:"column:type"`
	Value        *string `gorm:"column:value"`
	Country      *string `gorm:"column:country"`
}
