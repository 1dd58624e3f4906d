package domain

import (
	"encoding/json"
	"time"
)

const (
	WebhookTypeSTKCallback = "mpesa_stk_callback"
	WebhookTypeB2CResult   = "mpesa_b2c_result"
	WebhookTypeB2CTimeout  = "mpesa_b2c_timeout"
)

// PaymentWebhook is the raw inbound callback record. Rows are appended before
// any interpretation and only ever flipped to processed afterwards.
type PaymentWebhook struct {
	ID                    string          `json:"id" db:"id"`
	WebhookType           string          `json:"webhook_type" db:"webhook_type"`
	ProviderTransactionID *string         `json:"provider_transaction_id,omitempty" db:"provider_transaction_id"`
	Payload               json.RawMessage `json:"payload" db:"payload"`
	Processed             bool            `json:"processed" db:"processed"`
	ProcessedAt           *time.Time      `json:"processed_at,omitempty" db:"processed_at"`
	ErrorMessage          *string         `json:"error_message,omitempty" db:"error_message"`
	TransactionID         *string         `json:"transaction_id,omitempty" db:"transaction_id"`
	CreatedAt             time.Time       `json:"created_at" db:"created_at"`
}

// RawPayload makes sure arbitrary request bodies can be stored in a jsonb
// column. Non-JSON bodies are wrapped as {"raw": "..."}.
func RawPayload(body []byte) json.RawMessage {
	if len(body) > 0 && json.Valid(body) {
		return json.RawMessage(body)
	}
	wrapped, _ := json.Marshal(map[string]string{"raw": string(body)})
	return wrapped
}
