package domain

import "time"

// AlertState is the edge-detector state for low-balance alerting. Armed means
// an alert fired and the balance has not yet recovered to the threshold.
type AlertState struct {
	AccountID        string
	ThresholdCredits int64
	Armed            bool
	LastFiredAt      *time.Time
	LastClearedAt    *time.Time
	UpdatedAt        time.Time
}

// AlertEventKind describes the edge that was crossed.
type AlertEventKind string

const (
	AlertLowBalance AlertEventKind = "LOW_BALANCE"
	AlertCleared    AlertEventKind = "CLEARED"
)

func (k AlertEventKind) String() string { return string(k) }

// AlertEvent is emitted when the balance crosses the threshold.
type AlertEvent struct {
	Kind             AlertEventKind
	AccountID        string
	Balance          int64
	ThresholdCredits int64
	OccurredAt       time.Time
}
