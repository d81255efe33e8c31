package queue

import (
	"fmt"
	"strings"
	"time"
)

// DeliveryJob is the broker payload asking a worker to run the gateway call
// for an already reserved message.
type DeliveryJob struct {
	MessageID  string    `json:"messageId"`
	RequestID  string    `json:"requestId,omitempty"`
	EnqueuedAt time.Time `json:"enqueuedAt"`
}

func (j DeliveryJob) Validate() error {
	if strings.TrimSpace(j.MessageID) == "" {
		return fmt.Errorf("messageId is required")
	}
	return nil
}
