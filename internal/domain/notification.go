package domain

import "time"

type NotificationPriority string

const (
	PriorityLow    NotificationPriority = "low"
	PriorityMedium NotificationPriority = "medium"
	PriorityHigh   NotificationPriority = "high"
	PriorityUrgent NotificationPriority = "urgent"
)

const (
	NotifyPaymentSuccess   = "payment_success"
	NotifyPaymentReceived  = "payment_received"
	NotifyPaymentFailed    = "payment_failed"
	NotifyPaymentTimeout   = "payment_timeout"
	NotifyPayoutInitiated  = "payout_initiated"
	NotifyPayoutCompleted  = "payout_completed"
	NotifyPayoutFailed     = "payout_failed"
	NotifyPayoutLate       = "payout_late_success"
	NotifyEscrowReleased   = "escrow_released"
	NotifyEscrowDisputed   = "escrow_disputed"
	NotifyPaymentRefunded  = "payment_refunded"
	NotifySystemUpdate     = "system_update"
	NotifyWebhookUnmatched = "webhook_unmatched"
)

// Notification rows are read by the UI layer; either RecipientID or
// RecipientRole is set.
type Notification struct {
	ID               string               `json:"id" db:"id"`
	RecipientID      *string              `json:"recipient_id,omitempty" db:"recipient_id"`
	RecipientRole    *string              `json:"recipient_role,omitempty" db:"recipient_role"`
	Message          string               `json:"message" db:"message"`
	NotificationType string               `json:"notification_type" db:"notification_type"`
	ProjectID        *string              `json:"project_id,omitempty" db:"project_id"`
	Priority         NotificationPriority `json:"priority" db:"priority"`
	Icon             string               `json:"icon,omitempty" db:"icon"`
	ActionURL        string               `json:"action_url,omitempty" db:"action_url"`
	Read             bool                 `json:"read" db:"read"`
	CreatedAt        time.Time            `json:"created_at" db:"created_at"`
}
