// internal/provider/provider.go
package provider

import (
	"context"

	"github.com/shopspring/decimal"
)

// PaymentProvider is the mobile-money gateway the settlement flow drives.
type PaymentProvider interface {
	GetName() string

	// InitiatePush sends a push-payment prompt to the payer's handset.
	InitiatePush(ctx context.Context, req *PushRequest) (*PushResponse, error)

	// QueryPush asks the gateway for the outcome of an earlier push.
	QueryPush(ctx context.Context, checkoutRequestID string) (*QueryResult, error)

	// InitiatePayout starts a business-to-customer transfer. The outcome
	// arrives later through the result callback.
	InitiatePayout(ctx context.Context, req *PayoutRequest) (*PayoutResponse, error)
}

// Outcome is what a provider result code means for the ledger.
type Outcome int

const (
	OutcomePending Outcome = iota
	OutcomeSuccess
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeFailed:
		return "failed"
	default:
		return "pending"
	}
}

type PushRequest struct {
	PhoneNumber      string
	Amount           decimal.Decimal
	AccountReference string
	Description      string
}

type PushResponse struct {
	MerchantRequestID   string
	CheckoutRequestID   string
	ResponseCode        string
	ResponseDescription string
	CustomerMessage     string
}

type QueryResult struct {
	CheckoutRequestID string
	ResultCode        string
	ResultDesc        string
	Outcome           Outcome
	Raw               map[string]interface{}
}

type PayoutRequest struct {
	// OriginatorConversationID is our reference; the result callback echoes it.
	OriginatorConversationID string
	PhoneNumber              string
	Amount                   decimal.Decimal
	Remarks                  string
	Occasion                 string
}

type PayoutResponse struct {
	ConversationID           string
	OriginatorConversationID string
	ResponseCode             string
	ResponseDescription      string
}

// CallbackResult is a parsed provider webhook, for either push-payment
// callbacks or payout results.
type CallbackResult struct {
	// CorrelationID is matched against transactions.provider_transaction_id:
	// the checkout request id for pushes, the conversation id for payouts.
	CorrelationID     string
	// SecondaryID is the merchant request id for pushes and the originator
	// conversation id for payouts. Payouts are matched on it when the
	// gateway leaves ConversationID empty.
	SecondaryID       string
	ResultCode        string
	ResultDescription string
	Outcome           Outcome

	ReceiptNumber   string
	Amount          decimal.Decimal
	PhoneNumber     string
	TransactionDate string

	// Raw is the callback body as received, kept in transaction metadata.
	Raw map[string]interface{}
}
