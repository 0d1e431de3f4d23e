package delivery

import (
	"context"
	"errors"
	"time"

	"github.com/JakeFAU/polmsg-collector/internal/ingest"
)

// Classify maps a storage boundary error onto a delivery class. Typed
// delivery errors keep their class; cancellation is terminal; anything else is
// treated as a transport failure and retried.
func Classify(err error) ingest.DeliveryClass {
	if err == nil {
		return ""
	}
	var deliveryErr *ingest.DeliveryError
	if errors.As(err, &deliveryErr) && deliveryErr.Class != "" {
		return deliveryErr.Class
	}
	if errors.Is(err, context.Canceled) {
		return ingest.DeliveryTerminal
	}
	return ingest.DeliveryRetryable
}

func retryAfter(err error) time.Duration {
	var deliveryErr *ingest.DeliveryError
	if errors.As(err, &deliveryErr) {
		return deliveryErr.RetryAfter
	}
	return 0
}
