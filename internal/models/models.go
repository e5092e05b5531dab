package models

// ObjectKind names one top-level provider resource type that the engine can
// mirror. Values are the singular snake_case resource names.
type ObjectKind string

const (
	KindProduct              ObjectKind = "product"
	KindPrice                ObjectKind = "price"
	KindPlan                 ObjectKind = "plan"
	KindCustomer             ObjectKind = "customer"
	KindPaymentMethod        ObjectKind = "payment_method"
	KindSubscription         ObjectKind = "subscription"
	KindSubscriptionSchedule ObjectKind = "subscription_schedule"
	KindCheckoutSession      ObjectKind = "checkout_session"
	KindInvoice              ObjectKind = "invoice"
	KindCharge               ObjectKind = "charge"
	KindPaymentIntent        ObjectKind = "payment_intent"
	KindSetupIntent          ObjectKind = "setup_intent"
	KindRefund               ObjectKind = "refund"
	KindDispute              ObjectKind = "dispute"
	KindCreditNote           ObjectKind = "credit_note"
	KindEarlyFraudWarning    ObjectKind = "early_fraud_warning"
	KindTaxID                ObjectKind = "tax_id"
)

// ObjectRunStatus is the per-kind state within one sync run.
type ObjectRunStatus string

const (
	ObjectRunPending ObjectRunStatus = "pending"
	ObjectRunRunning ObjectRunStatus = "running"
	ObjectRunDone    ObjectRunStatus = "done"
	ObjectRunError   ObjectRunStatus = "error"
)

// RunStatus is derived, never stored: running while the run is open, error if
// any object run ended in error, complete otherwise.
type RunStatus string

const (
	RunStatusRunning  RunStatus = "running"
	RunStatusError    RunStatus = "error"
	RunStatusComplete RunStatus = "complete"
)

type SyncRun struct {
	ID            string  `json:"id"`
	AccountID     string  `json:"accountId"`
	StartedAt     string  `json:"startedAt"`
	CompletedAt   *string `json:"completedAt,omitempty"`
	ClosedAt      *string `json:"closedAt,omitempty"`
	MaxConcurrent int     `json:"maxConcurrent"`
	TriggeredBy   string  `json:"triggeredBy"`
}

type ObjectRun struct {
	RunID          string          `json:"runId"`
	Object         ObjectKind      `json:"object"`
	Status         ObjectRunStatus `json:"status"`
	ProcessedCount int             `json:"processedCount"`
	ErrorMessage   *string         `json:"errorMessage,omitempty"`
}

type RunSummary struct {
	SyncRun
	Status  RunStatus   `json:"status"`
	Objects []ObjectRun `json:"objects"`
}

// ManagedWebhook is a provider-side endpoint owned by this engine, paired
// with its local bookkeeping row.
type ManagedWebhook struct {
	ID            string   `json:"id"`
	AccountID     string   `json:"accountId"`
	URL           string   `json:"url"`
	EnabledEvents []string `json:"enabledEvents"`
	Secret        string   `json:"secret,omitempty"`
	CreatedAt     string   `json:"createdAt"`
}

type PageResult struct {
	HasMore   bool `json:"hasMore"`
	Processed int  `json:"processed"`
}

type KindOutcome struct {
	Synced int `json:"synced"`
	Errors int `json:"errors"`
}

type DeleteAccountOptions struct {
	DryRun         bool
	UseTransaction bool
}

type DeleteAccountResult struct {
	AccountID   string           `json:"accountId"`
	DryRun      bool             `json:"dryRun"`
	DeletedRows map[string]int64 `json:"deletedRows"`
}

type ErrorResponse struct {
	Error APIError `json:"error"`
}

type APIError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}
