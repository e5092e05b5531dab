package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"stripesync/internal/store"
	"stripesync/internal/stripeclient"
)

// expandable is a provider reference that arrives either as a bare id string
// or as the expanded object. Only the id is kept.
type expandable string

func (x *expandable) UnmarshalJSON(data []byte) error {
	if len(data) == 0 || string(data) == "null" {
		*x = ""
		return nil
	}
	if data[0] == '"' {
		var id string
		if err := json.Unmarshal(data, &id); err != nil {
			return err
		}
		*x = expandable(id)
		return nil
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	*x = expandable(obj.ID)
	return nil
}

func (x expandable) ptr() *string {
	if x == "" {
		return nil
	}
	s := string(x)
	return &s
}

// envelope is the part of every provider payload the common columns need.
type envelope struct {
	ID       string          `json:"id"`
	Object   string          `json:"object"`
	Created  int64           `json:"created"`
	Metadata json.RawMessage `json:"metadata"`
	Deleted  bool            `json:"deleted"`
}

func mirrorCommon(accountID string, raw json.RawMessage) (store.MirrorCommon, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return store.MirrorCommon{}, fmt.Errorf("%w: %v", ErrProjection, err)
	}
	if env.ID == "" {
		return store.MirrorCommon{}, fmt.Errorf("%w: payload has no id", ErrProjection)
	}
	now := store.Now()
	return store.MirrorCommon{
		ID:           env.ID,
		AccountID:    accountID,
		Object:       env.Object,
		Created:      unixPtr(env.Created),
		Metadata:     rawPtr(env.Metadata),
		Raw:          string(raw),
		Deleted:      env.Deleted,
		LastSyncedAt: now,
		UpdatedAt:    now,
	}, nil
}

func unixPtr(v int64) *string {
	if v == 0 {
		return nil
	}
	s := time.Unix(v, 0).UTC().Format(time.RFC3339)
	return &s
}

func rawPtr(raw json.RawMessage) *string {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	s := string(raw)
	return &s
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func decode(raw json.RawMessage, dst any) error {
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("%w: %v", ErrProjection, err)
	}
	return nil
}

// stub writes an identity-only parent row so references hold regardless of
// arrival order. The stub is replaced when the parent's own payload lands.
func (e *Engine) stub(ctx context.Context, st *store.Store, table, accountID string, ref expandable) error {
	if ref == "" {
		return nil
	}
	return st.UpsertStub(ctx, table, accountID, string(ref))
}

func (e *Engine) projectProduct(ctx context.Context, st *store.Store, accountID string, raw json.RawMessage) error {
	common, err := mirrorCommon(accountID, raw)
	if err != nil {
		return err
	}
	var p struct {
		Name        string `json:"name"`
		Active      *bool  `json:"active"`
		Description string `json:"description"`
	}
	if err := decode(raw, &p); err != nil {
		return err
	}
	return st.UpsertRows(ctx, "products", []store.ProductRow{{
		MirrorCommon: common,
		Name:         strPtr(p.Name),
		Active:       p.Active,
		Description:  strPtr(p.Description),
	}})
}

func (e *Engine) projectPrice(ctx context.Context, st *store.Store, accountID string, raw json.RawMessage) error {
	common, err := mirrorCommon(accountID, raw)
	if err != nil {
		return err
	}
	var p struct {
		Product    expandable `json:"product"`
		Active     *bool      `json:"active"`
		Currency   string     `json:"currency"`
		UnitAmount *int64     `json:"unit_amount"`
		Type       string     `json:"type"`
		Recurring  *struct {
			Interval string `json:"interval"`
		} `json:"recurring"`
	}
	if err := decode(raw, &p); err != nil {
		return err
	}
	if err := e.stub(ctx, st, "products", accountID, p.Product); err != nil {
		return err
	}
	var interval *string
	if p.Recurring != nil {
		interval = strPtr(p.Recurring.Interval)
	}
	return st.UpsertRows(ctx, "prices", []store.PriceRow{{
		MirrorCommon:      common,
		Product:           p.Product.ptr(),
		Active:            p.Active,
		Currency:          strPtr(p.Currency),
		UnitAmount:        p.UnitAmount,
		Type:              strPtr(p.Type),
		RecurringInterval: interval,
	}})
}

func (e *Engine) projectPlan(ctx context.Context, st *store.Store, accountID string, raw json.RawMessage) error {
	common, err := mirrorCommon(accountID, raw)
	if err != nil {
		return err
	}
	var p struct {
		Product  expandable `json:"product"`
		Active   *bool      `json:"active"`
		Currency string     `json:"currency"`
		Amount   *int64     `json:"amount"`
		Interval string     `json:"interval"`
	}
	if err := decode(raw, &p); err != nil {
		return err
	}
	if err := e.stub(ctx, st, "products", accountID, p.Product); err != nil {
		return err
	}
	return st.UpsertRows(ctx, "plans", []store.PlanRow{{
		MirrorCommon: common,
		Product:      p.Product.ptr(),
		Active:       p.Active,
		Currency:     strPtr(p.Currency),
		Amount:       p.Amount,
		Interval:     strPtr(p.Interval),
	}})
}

func (e *Engine) projectCustomer(ctx context.Context, st *store.Store, accountID string, raw json.RawMessage) error {
	common, err := mirrorCommon(accountID, raw)
	if err != nil {
		return err
	}
	var c struct {
		Email           string `json:"email"`
		Name            string `json:"name"`
		Description     string `json:"description"`
		Currency        string `json:"currency"`
		Delinquent      *bool  `json:"delinquent"`
		InvoiceSettings struct {
			DefaultPaymentMethod expandable `json:"default_payment_method"`
		} `json:"invoice_settings"`
	}
	if err := decode(raw, &c); err != nil {
		return err
	}
	if err := st.UpsertRows(ctx, "customers", []store.CustomerRow{{
		MirrorCommon:         common,
		Email:                strPtr(c.Email),
		Name:                 strPtr(c.Name),
		Description:          strPtr(c.Description),
		Currency:             strPtr(c.Currency),
		DefaultPaymentMethod: c.InvoiceSettings.DefaultPaymentMethod.ptr(),
		Delinquent:           c.Delinquent,
	}}); err != nil {
		return err
	}

	// Single-hop expansion: pull the default payment method so the mirror
	// is usable without a separate payment_method backfill.
	if e.autoExpandLists && c.InvoiceSettings.DefaultPaymentMethod != "" {
		obj, err := e.client.Retrieve(ctx, "/v1/payment_methods", string(c.InvoiceSettings.DefaultPaymentMethod))
		if errors.Is(err, stripeclient.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return e.projectPaymentMethod(ctx, st, accountID, obj.Raw)
	}
	return nil
}

func (e *Engine) projectPaymentMethod(ctx context.Context, st *store.Store, accountID string, raw json.RawMessage) error {
	common, err := mirrorCommon(accountID, raw)
	if err != nil {
		return err
	}
	var p struct {
		Customer expandable `json:"customer"`
		Type     string     `json:"type"`
		Card     *struct {
			Brand string `json:"brand"`
			Last4 string `json:"last4"`
		} `json:"card"`
	}
	if err := decode(raw, &p); err != nil {
		return err
	}
	if err := e.stub(ctx, st, "customers", accountID, p.Customer); err != nil {
		return err
	}
	row := store.PaymentMethodRow{
		MirrorCommon: common,
		Customer:     p.Customer.ptr(),
		Type:         strPtr(p.Type),
	}
	if p.Card != nil {
		row.CardBrand = strPtr(p.Card.Brand)
		row.CardLast4 = strPtr(p.Card.Last4)
	}
	return st.UpsertRows(ctx, "payment_methods", []store.PaymentMethodRow{row})
}

func (e *Engine) projectSubscription(ctx context.Context, st *store.Store, accountID string, raw json.RawMessage) error {
	common, err := mirrorCommon(accountID, raw)
	if err != nil {
		return err
	}
	var sub struct {
		Customer           expandable `json:"customer"`
		Status             string     `json:"status"`
		CurrentPeriodStart int64      `json:"current_period_start"`
		CurrentPeriodEnd   int64      `json:"current_period_end"`
		CancelAtPeriodEnd  *bool      `json:"cancel_at_period_end"`
		Items              struct {
			Data []json.RawMessage `json:"data"`
		} `json:"items"`
	}
	if err := decode(raw, &sub); err != nil {
		return err
	}

	row := store.SubscriptionRow{
		MirrorCommon:       common,
		Customer:           sub.Customer.ptr(),
		Status:             strPtr(sub.Status),
		CurrentPeriodStart: unixPtr(sub.CurrentPeriodStart),
		CurrentPeriodEnd:   unixPtr(sub.CurrentPeriodEnd),
		CancelAtPeriodEnd:  sub.CancelAtPeriodEnd,
	}

	if !e.autoExpandLists || len(sub.Items.Data) == 0 {
		if err := e.stub(ctx, st, "customers", accountID, sub.Customer); err != nil {
			return err
		}
		return st.UpsertRows(ctx, "subscriptions", []store.SubscriptionRow{row})
	}

	// Subscription plus its items land in one transaction; a partial write
	// would leave items pointing at a subscription state that never existed.
	return st.WithTx(ctx, func(tx *store.Store) error {
		if err := e.stub(ctx, tx, "customers", accountID, sub.Customer); err != nil {
			return err
		}
		if err := tx.UpsertRows(ctx, "subscriptions", []store.SubscriptionRow{row}); err != nil {
			return err
		}
		items := make([]store.SubscriptionItemRow, 0, len(sub.Items.Data))
		for _, itemRaw := range sub.Items.Data {
			itemCommon, err := mirrorCommon(accountID, itemRaw)
			if err != nil {
				return err
			}
			var item struct {
				Subscription expandable `json:"subscription"`
				Price        expandable `json:"price"`
				Quantity     *int64     `json:"quantity"`
			}
			if err := decode(itemRaw, &item); err != nil {
				return err
			}
			subID := item.Subscription
			if subID == "" {
				subID = expandable(common.ID)
			}
			if err := e.stub(ctx, tx, "prices", accountID, item.Price); err != nil {
				return err
			}
			items = append(items, store.SubscriptionItemRow{
				MirrorCommon: itemCommon,
				Subscription: subID.ptr(),
				Price:        item.Price.ptr(),
				Quantity:     item.Quantity,
			})
		}
		if len(items) == 0 {
			return nil
		}
		return tx.UpsertRows(ctx, "subscription_items", items)
	})
}

func (e *Engine) projectSubscriptionSchedule(ctx context.Context, st *store.Store, accountID string, raw json.RawMessage) error {
	common, err := mirrorCommon(accountID, raw)
	if err != nil {
		return err
	}
	var sched struct {
		Customer     expandable `json:"customer"`
		Subscription expandable `json:"subscription"`
		Status       string     `json:"status"`
	}
	if err := decode(raw, &sched); err != nil {
		return err
	}
	if err := e.stub(ctx, st, "customers", accountID, sched.Customer); err != nil {
		return err
	}
	if err := e.stub(ctx, st, "subscriptions", accountID, sched.Subscription); err != nil {
		return err
	}
	return st.UpsertRows(ctx, "subscription_schedules", []store.SubscriptionScheduleRow{{
		MirrorCommon: common,
		Customer:     sched.Customer.ptr(),
		Subscription: sched.Subscription.ptr(),
		Status:       strPtr(sched.Status),
	}})
}

func (e *Engine) projectCheckoutSession(ctx context.Context, st *store.Store, accountID string, raw json.RawMessage) error {
	common, err := mirrorCommon(accountID, raw)
	if err != nil {
		return err
	}
	var cs struct {
		Customer      expandable `json:"customer"`
		Subscription  expandable `json:"subscription"`
		PaymentIntent expandable `json:"payment_intent"`
		Mode          string     `json:"mode"`
		Status        string     `json:"status"`
	}
	if err := decode(raw, &cs); err != nil {
		return err
	}
	if err := e.stub(ctx, st, "customers", accountID, cs.Customer); err != nil {
		return err
	}
	if err := e.stub(ctx, st, "subscriptions", accountID, cs.Subscription); err != nil {
		return err
	}
	return st.UpsertRows(ctx, "checkout_sessions", []store.CheckoutSessionRow{{
		MirrorCommon:  common,
		Customer:      cs.Customer.ptr(),
		Subscription:  cs.Subscription.ptr(),
		PaymentIntent: cs.PaymentIntent.ptr(),
		Mode:          strPtr(cs.Mode),
		Status:        strPtr(cs.Status),
	}})
}

func (e *Engine) projectInvoice(ctx context.Context, st *store.Store, accountID string, raw json.RawMessage) error {
	common, err := mirrorCommon(accountID, raw)
	if err != nil {
		return err
	}
	var inv struct {
		Customer     expandable `json:"customer"`
		Subscription expandable `json:"subscription"`
		Status       string     `json:"status"`
		Currency     string     `json:"currency"`
		Total        *int64     `json:"total"`
		AmountDue    *int64     `json:"amount_due"`
		PeriodStart  int64      `json:"period_start"`
		PeriodEnd    int64      `json:"period_end"`
	}
	if err := decode(raw, &inv); err != nil {
		return err
	}
	if err := e.stub(ctx, st, "customers", accountID, inv.Customer); err != nil {
		return err
	}
	if err := e.stub(ctx, st, "subscriptions", accountID, inv.Subscription); err != nil {
		return err
	}
	return st.UpsertRows(ctx, "invoices", []store.InvoiceRow{{
		MirrorCommon: common,
		Customer:     inv.Customer.ptr(),
		Subscription: inv.Subscription.ptr(),
		Status:       strPtr(inv.Status),
		Currency:     strPtr(inv.Currency),
		Total:        inv.Total,
		AmountDue:    inv.AmountDue,
		PeriodStart:  unixPtr(inv.PeriodStart),
		PeriodEnd:    unixPtr(inv.PeriodEnd),
	}})
}

func (e *Engine) projectCharge(ctx context.Context, st *store.Store, accountID string, raw json.RawMessage) error {
	common, err := mirrorCommon(accountID, raw)
	if err != nil {
		return err
	}
	var ch struct {
		Customer      expandable `json:"customer"`
		Invoice       expandable `json:"invoice"`
		PaymentIntent expandable `json:"payment_intent"`
		Status        string     `json:"status"`
		Currency      string     `json:"currency"`
		Amount        *int64     `json:"amount"`
		Paid          *bool      `json:"paid"`
		Refunded      *bool      `json:"refunded"`
	}
	if err := decode(raw, &ch); err != nil {
		return err
	}
	if err := e.stub(ctx, st, "customers", accountID, ch.Customer); err != nil {
		return err
	}
	if err := e.stub(ctx, st, "invoices", accountID, ch.Invoice); err != nil {
		return err
	}
	return st.UpsertRows(ctx, "charges", []store.ChargeRow{{
		MirrorCommon:  common,
		Customer:      ch.Customer.ptr(),
		Invoice:       ch.Invoice.ptr(),
		PaymentIntent: ch.PaymentIntent.ptr(),
		Status:        strPtr(ch.Status),
		Currency:      strPtr(ch.Currency),
		Amount:        ch.Amount,
		Paid:          ch.Paid,
		Refunded:      ch.Refunded,
	}})
}

func (e *Engine) projectPaymentIntent(ctx context.Context, st *store.Store, accountID string, raw json.RawMessage) error {
	common, err := mirrorCommon(accountID, raw)
	if err != nil {
		return err
	}
	var pi struct {
		Customer expandable `json:"customer"`
		Invoice  expandable `json:"invoice"`
		Status   string     `json:"status"`
		Currency string     `json:"currency"`
		Amount   *int64     `json:"amount"`
	}
	if err := decode(raw, &pi); err != nil {
		return err
	}
	if err := e.stub(ctx, st, "customers", accountID, pi.Customer); err != nil {
		return err
	}
	if err := e.stub(ctx, st, "invoices", accountID, pi.Invoice); err != nil {
		return err
	}
	return st.UpsertRows(ctx, "payment_intents", []store.PaymentIntentRow{{
		MirrorCommon: common,
		Customer:     pi.Customer.ptr(),
		Invoice:      pi.Invoice.ptr(),
		Status:       strPtr(pi.Status),
		Currency:     strPtr(pi.Currency),
		Amount:       pi.Amount,
	}})
}

func (e *Engine) projectSetupIntent(ctx context.Context, st *store.Store, accountID string, raw json.RawMessage) error {
	common, err := mirrorCommon(accountID, raw)
	if err != nil {
		return err
	}
	var si struct {
		Customer      expandable `json:"customer"`
		PaymentMethod expandable `json:"payment_method"`
		Status        string     `json:"status"`
		Usage         string     `json:"usage"`
	}
	if err := decode(raw, &si); err != nil {
		return err
	}
	if err := e.stub(ctx, st, "customers", accountID, si.Customer); err != nil {
		return err
	}
	return st.UpsertRows(ctx, "setup_intents", []store.SetupIntentRow{{
		MirrorCommon:  common,
		Customer:      si.Customer.ptr(),
		PaymentMethod: si.PaymentMethod.ptr(),
		Status:        strPtr(si.Status),
		Usage:         strPtr(si.Usage),
	}})
}

func (e *Engine) projectRefund(ctx context.Context, st *store.Store, accountID string, raw json.RawMessage) error {
	common, err := mirrorCommon(accountID, raw)
	if err != nil {
		return err
	}
	var r struct {
		Charge        expandable `json:"charge"`
		PaymentIntent expandable `json:"payment_intent"`
		Status        string     `json:"status"`
		Currency      string     `json:"currency"`
		Amount        *int64     `json:"amount"`
		Reason        string     `json:"reason"`
	}
	if err := decode(raw, &r); err != nil {
		return err
	}
	if err := e.stub(ctx, st, "charges", accountID, r.Charge); err != nil {
		return err
	}
	return st.UpsertRows(ctx, "refunds", []store.RefundRow{{
		MirrorCommon:  common,
		Charge:        r.Charge.ptr(),
		PaymentIntent: r.PaymentIntent.ptr(),
		Status:        strPtr(r.Status),
		Currency:      strPtr(r.Currency),
		Amount:        r.Amount,
		Reason:        strPtr(r.Reason),
	}})
}

func (e *Engine) projectDispute(ctx context.Context, st *store.Store, accountID string, raw json.RawMessage) error {
	common, err := mirrorCommon(accountID, raw)
	if err != nil {
		return err
	}
	var d struct {
		Charge        expandable `json:"charge"`
		PaymentIntent expandable `json:"payment_intent"`
		Status        string     `json:"status"`
		Currency      string     `json:"currency"`
		Amount        *int64     `json:"amount"`
		Reason        string     `json:"reason"`
	}
	if err := decode(raw, &d); err != nil {
		return err
	}
	if err := e.stub(ctx, st, "charges", accountID, d.Charge); err != nil {
		return err
	}
	return st.UpsertRows(ctx, "disputes", []store.DisputeRow{{
		MirrorCommon:  common,
		Charge:        d.Charge.ptr(),
		PaymentIntent: d.PaymentIntent.ptr(),
		Status:        strPtr(d.Status),
		Currency:      strPtr(d.Currency),
		Amount:        d.Amount,
		Reason:        strPtr(d.Reason),
	}})
}

func (e *Engine) projectCreditNote(ctx context.Context, st *store.Store, accountID string, raw json.RawMessage) error {
	common, err := mirrorCommon(accountID, raw)
	if err != nil {
		return err
	}
	var cn struct {
		Customer expandable `json:"customer"`
		Invoice  expandable `json:"invoice"`
		Status   string     `json:"status"`
		Currency string     `json:"currency"`
		Total    *int64     `json:"total"`
	}
	if err := decode(raw, &cn); err != nil {
		return err
	}
	if err := e.stub(ctx, st, "customers", accountID, cn.Customer); err != nil {
		return err
	}
	if err := e.stub(ctx, st, "invoices", accountID, cn.Invoice); err != nil {
		return err
	}
	return st.UpsertRows(ctx, "credit_notes", []store.CreditNoteRow{{
		MirrorCommon: common,
		Customer:     cn.Customer.ptr(),
		Invoice:      cn.Invoice.ptr(),
		Status:       strPtr(cn.Status),
		Currency:     strPtr(cn.Currency),
		Total:        cn.Total,
	}})
}

func (e *Engine) projectEarlyFraudWarning(ctx context.Context, st *store.Store, accountID string, raw json.RawMessage) error {
	common, err := mirrorCommon(accountID, raw)
	if err != nil {
		return err
	}
	var efw struct {
		Charge        expandable `json:"charge"`
		PaymentIntent expandable `json:"payment_intent"`
		FraudType     string     `json:"fraud_type"`
		Actionable    *bool      `json:"actionable"`
	}
	if err := decode(raw, &efw); err != nil {
		return err
	}
	if err := e.stub(ctx, st, "charges", accountID, efw.Charge); err != nil {
		return err
	}
	return st.UpsertRows(ctx, "early_fraud_warnings", []store.EarlyFraudWarningRow{{
		MirrorCommon:  common,
		Charge:        efw.Charge.ptr(),
		PaymentIntent: efw.PaymentIntent.ptr(),
		FraudType:     strPtr(efw.FraudType),
		Actionable:    efw.Actionable,
	}})
}

func (e *Engine) projectTaxID(ctx context.Context, st *store.Store, accountID string, raw json.RawMessage) error {
	common, err := mirrorCommon(accountID, raw)
	if err != nil {
		return err
	}
	var t struct {
		Customer expandable `json:"customer"`
		Type     string     `json:"type"`
		Value    string     `json:"value"`
		Country  string     `json:"country"`
	}
	if err := decode(raw, &t); err != nil {
		return err
	}
	if err := e.stub(ctx, st, "customers", accountID, t.Customer); err != nil {
		return err
	}
	return st.UpsertRows(ctx, "tax_ids", []store.TaxIDRow{{
		MirrorCommon: common,
		Customer:     t.Customer.ptr(),
		Type:         strPtr(t.Type),
		Value:        strPtr(t.Value),
		Country:      strPtr(t.Country),
	}})
}

// projectAccount fills the extended columns of the account row itself.
func (e *Engine) projectAccount(ctx context.Context, st *store.Store, raw json.RawMessage) error {
	var acct stripeclient.Account
	if err := decode(raw, &acct); err != nil {
		return err
	}
	if acct.ID == "" {
		return fmt.Errorf("%w: account payload has no id", ErrProjection)
	}
	now := store.Now()
	rawStr := string(raw)
	var meta *string
	if len(acct.Metadata) > 0 {
		encoded, err := json.Marshal(acct.Metadata)
		if err == nil {
			meta = strPtr(string(encoded))
		}
	}
	return st.UpsertAccount(ctx, store.AccountRow{
		ID:              acct.ID,
		Object:          "account",
		BusinessName:    strPtr(acct.BusinessProfile.Name),
		Email:           strPtr(acct.Email),
		Country:         strPtr(acct.Country),
		DefaultCurrency: strPtr(acct.DefaultCurrency),
		Created:         unixPtr(acct.Created),
		Metadata:        meta,
		Raw:             &rawStr,
		LastSyncedAt:    now,
		UpdatedAt:       now,
	})
}
