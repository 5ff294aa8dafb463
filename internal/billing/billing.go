// Package billing sends invoices through Stripe. The gateway stores its own
// invoice records; Stripe is only the delivery and payment rail.
package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	stripe "github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/client"

	"github.com/atelierhq/studio/internal/store"
)

// ErrDisabled is returned when no Stripe key is configured.
var ErrDisabled = errors.New("billing: stripe is not configured")

// Issuer delivers an invoice to the client and returns the upstream invoice
// ID to store alongside the local record.
type Issuer interface {
	SendInvoice(ctx context.Context, inv store.Invoice) (stripeInvoiceID string, err error)
}

// Disabled is the Issuer used when billing is switched off.
type Disabled struct{}

func (Disabled) SendInvoice(context.Context, store.Invoice) (string, error) {
	return "", ErrDisabled
}

// StripeIssuer sends invoices via the Stripe API using its hosted
// send-invoice collection flow.
type StripeIssuer struct {
	api *client.API
	log *slog.Logger

	daysUntilDue int64
}

// NewStripeIssuer returns an issuer authenticated with apiKey.
func NewStripeIssuer(apiKey string, log *slog.Logger) *StripeIssuer {
	if log == nil {
		log = slog.Default()
	}
	api := &client.API{}
	api.Init(apiKey, nil)
	return &StripeIssuer{api: api, log: log, daysUntilDue: 14}
}

// SendInvoice creates the Stripe customer, invoice item, and invoice, then
// finalizes and emails it. The returned ID is Stripe's invoice ID.
func (s *StripeIssuer) SendInvoice(ctx context.Context, inv store.Invoice) (string, error) {
	cust, err := s.api.Customers.New(&stripe.CustomerParams{
		Params: stripe.Params{Context: ctx},
		Name:   stripe.String(inv.ClientName),
		Email:  stripe.String(inv.ClientEmail),
	})
	if err != nil {
		return "", fmt.Errorf("billing: create customer: %w", err)
	}

	if _, err := s.api.InvoiceItems.New(&stripe.InvoiceItemParams{
		Params:      stripe.Params{Context: ctx},
		Customer:    stripe.String(cust.ID),
		Amount:      stripe.Int64(inv.AmountCents),
		Currency:    stripe.String(inv.Currency),
		Description: stripe.String(inv.Description),
	}); err != nil {
		return "", fmt.Errorf("billing: create invoice item: %w", err)
	}

	created, err := s.api.Invoices.New(&stripe.InvoiceParams{
		Params:           stripe.Params{Context: ctx},
		Customer:         stripe.String(cust.ID),
		CollectionMethod: stripe.String(string(stripe.InvoiceCollectionMethodSendInvoice)),
		DaysUntilDue:     stripe.Int64(s.daysUntilDue),
		PendingInvoiceItemsBehavior: stripe.String("include"),
	})
	if err != nil {
		return "", fmt.Errorf("billing: create invoice: %w", err)
	}

	if _, err := s.api.Invoices.FinalizeInvoice(created.ID, &stripe.InvoiceFinalizeInvoiceParams{
		Params: stripe.Params{Context: ctx},
	}); err != nil {
		return "", fmt.Errorf("billing: finalize invoice: %w", err)
	}
	if _, err := s.api.Invoices.SendInvoice(created.ID, &stripe.InvoiceSendInvoiceParams{
		Params: stripe.Params{Context: ctx},
	}); err != nil {
		return "", fmt.Errorf("billing: send invoice: %w", err)
	}

	s.log.Info("invoice sent", "number", inv.Number, "stripe_invoice_id", created.ID)
	return created.ID, nil
}
