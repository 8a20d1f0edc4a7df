package domain

import (
	"time"

	"github.com/google/uuid"
)

// Invoice records a capture booked against an order. At most one invoice may
// exist per processed capture notification.
type Invoice struct {
	ID             uuid.UUID
	OrderID        uuid.UUID
	PSPReference   string
	AmountValue    int64
	AmountCurrency string
	CreatedAt      time.Time
}
