package engine

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"

	"stripesync/internal/models"
	"stripesync/internal/store"
)

// projectFunc maps one provider object into mirror rows. The store argument
// may be a transaction-scoped copy when an event writes multiple rows.
type projectFunc func(e *Engine, ctx context.Context, st *store.Store, accountID string, raw json.RawMessage) error

// kindSpec ties an object kind to its table, list endpoint and projector.
// The slice order is the hard-coded backfill dependency order: parents
// before children, minimizing stub writes.
type kindSpec struct {
	Kind     models.ObjectKind
	Table    string
	ListPath string
	// ListQuery holds endpoint-specific list parameters beyond pagination.
	ListQuery url.Values
	Project   projectFunc
	// Related names the parent kinds a backfill of this kind depends on.
	Related []models.ObjectKind
}

var kindRegistry = []kindSpec{
	{Kind: models.KindProduct, Table: "products", ListPath: "/v1/products", Project: (*Engine).projectProduct},
	{Kind: models.KindPrice, Table: "prices", ListPath: "/v1/prices", Project: (*Engine).projectPrice,
		Related: []models.ObjectKind{models.KindProduct}},
	{Kind: models.KindPlan, Table: "plans", ListPath: "/v1/plans", Project: (*Engine).projectPlan,
		Related: []models.ObjectKind{models.KindProduct}},
	{Kind: models.KindCustomer, Table: "customers", ListPath: "/v1/customers", Project: (*Engine).projectCustomer},
	{Kind: models.KindPaymentMethod, Table: "payment_methods", ListPath: "/v1/payment_methods",
		ListQuery: url.Values{"type": []string{"card"}}, Project: (*Engine).projectPaymentMethod,
		Related: []models.ObjectKind{models.KindCustomer}},
	{Kind: models.KindSubscription, Table: "subscriptions", ListPath: "/v1/subscriptions",
		ListQuery: url.Values{"status": []string{"all"}}, Project: (*Engine).projectSubscription,
		Related: []models.ObjectKind{models.KindCustomer}},
	{Kind: models.KindSubscriptionSchedule, Table: "subscription_schedules", ListPath: "/v1/subscription_schedules",
		Project: (*Engine).projectSubscriptionSchedule, Related: []models.ObjectKind{models.KindCustomer}},
	{Kind: models.KindCheckoutSession, Table: "checkout_sessions", ListPath: "/v1/checkout/sessions",
		Project: (*Engine).projectCheckoutSession, Related: []models.ObjectKind{models.KindCustomer, models.KindSubscription}},
	{Kind: models.KindInvoice, Table: "invoices", ListPath: "/v1/invoices", Project: (*Engine).projectInvoice,
		Related: []models.ObjectKind{models.KindCustomer, models.KindSubscription}},
	{Kind: models.KindCharge, Table: "charges", ListPath: "/v1/charges", Project: (*Engine).projectCharge,
		Related: []models.ObjectKind{models.KindCustomer, models.KindInvoice}},
	{Kind: models.KindPaymentIntent, Table: "payment_intents", ListPath: "/v1/payment_intents",
		Project: (*Engine).projectPaymentIntent, Related: []models.ObjectKind{models.KindCustomer}},
	{Kind: models.KindSetupIntent, Table: "setup_intents", ListPath: "/v1/setup_intents",
		Project: (*Engine).projectSetupIntent, Related: []models.ObjectKind{models.KindCustomer}},
	{Kind: models.KindRefund, Table: "refunds", ListPath: "/v1/refunds", Project: (*Engine).projectRefund,
		Related: []models.ObjectKind{models.KindCharge}},
	{Kind: models.KindDispute, Table: "disputes", ListPath: "/v1/disputes", Project: (*Engine).projectDispute,
		Related: []models.ObjectKind{models.KindCharge}},
	{Kind: models.KindCreditNote, Table: "credit_notes", ListPath: "/v1/credit_notes",
		Project: (*Engine).projectCreditNote, Related: []models.ObjectKind{models.KindCustomer, models.KindInvoice}},
	{Kind: models.KindEarlyFraudWarning, Table: "early_fraud_warnings", ListPath: "/v1/radar/early_fraud_warnings",
		Project: (*Engine).projectEarlyFraudWarning, Related: []models.ObjectKind{models.KindCharge}},
	{Kind: models.KindTaxID, Table: "tax_ids", ListPath: "/v1/tax_ids", Project: (*Engine).projectTaxID,
		Related: []models.ObjectKind{models.KindCustomer}},
}

func findKind(kind models.ObjectKind) (kindSpec, bool) {
	for _, spec := range kindRegistry {
		if spec.Kind == kind {
			return spec, true
		}
	}
	return kindSpec{}, false
}

// SupportedSyncObjects lists every kind the engine mirrors, in backfill order.
func SupportedSyncObjects() []models.ObjectKind {
	out := make([]models.ObjectKind, 0, len(kindRegistry))
	for _, spec := range kindRegistry {
		out = append(out, spec.Kind)
	}
	return out
}

type eventAction int

const (
	actionUpsert eventAction = iota
	actionTombstone
)

// eventPrefixes maps provider event-type prefixes onto object kinds. Order
// matters: more specific prefixes shadow broader ones.
var eventPrefixes = []struct {
	prefix string
	kind   models.ObjectKind
	skip   bool
}{
	{prefix: "customer.subscription.", kind: models.KindSubscription},
	{prefix: "customer.tax_id.", kind: models.KindTaxID},
	{prefix: "customer.discount.", skip: true},
	{prefix: "customer.source.", skip: true},
	{prefix: "customer.", kind: models.KindCustomer},
	{prefix: "checkout.session.", kind: models.KindCheckoutSession},
	{prefix: "invoiceitem.", skip: true},
	{prefix: "invoice.", kind: models.KindInvoice},
	{prefix: "charge.dispute.", kind: models.KindDispute},
	{prefix: "charge.refund.", kind: models.KindRefund},
	{prefix: "charge.", kind: models.KindCharge},
	{prefix: "payment_intent.", kind: models.KindPaymentIntent},
	{prefix: "payment_method.", kind: models.KindPaymentMethod},
	{prefix: "setup_intent.", kind: models.KindSetupIntent},
	{prefix: "product.", kind: models.KindProduct},
	{prefix: "price.", kind: models.KindPrice},
	{prefix: "plan.", kind: models.KindPlan},
	{prefix: "subscription_schedule.", kind: models.KindSubscriptionSchedule},
	{prefix: "credit_note.", kind: models.KindCreditNote},
	{prefix: "radar.early_fraud_warning.", kind: models.KindEarlyFraudWarning},
	{prefix: "refund.", kind: models.KindRefund},
}

// resolveEventType maps a provider event type onto (kind, action). The
// second return is false for event families the engine does not mirror;
// those are acknowledged and skipped.
func resolveEventType(eventType string) (models.ObjectKind, eventAction, bool) {
	for _, entry := range eventPrefixes {
		if !strings.HasPrefix(eventType, entry.prefix) {
			continue
		}
		if entry.skip {
			return "", actionUpsert, false
		}
		action := actionUpsert
		if strings.HasSuffix(eventType, ".deleted") {
			action = actionTombstone
		}
		return entry.kind, action, true
	}
	return "", actionUpsert, false
}
