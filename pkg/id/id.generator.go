package id

import (
	"crypto/rand"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// NewID returns a random uuid for entity primary keys.
func NewID() string {
	return uuid.NewString()
}

// GenerateReference returns a sortable reference number such as
// PAY-01JB3W6K9Q2Y5R8T0V4X7Z1C3E for transactions.reference_number. Payouts
// also send it to the gateway as their OriginatorConversationID.
func GenerateReference(prefix string) string {
	id := ulid.MustNew(ulid.Timestamp(time.Now()), ulid.Monotonic(rand.Reader, 0))
	return strings.ToUpper(prefix) + "-" + id.String()
}

// AccountReference is the reference shown on the payer's handset and on
// payout occasions.
func AccountReference(projectID string) string {
	return "PROJECT_" + projectID
}
