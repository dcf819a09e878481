package notifier

import "time"

type Config struct {
	RatePerSec    int
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	// SendTimeout bounds a single attempt; 0 leaves it to the transport.
	SendTimeout time.Duration
}

// Snapshot is a best-effort counter view.
type Snapshot struct {
	Sent     uint64 `json:"sent"`
	Failed   uint64 `json:"failed"`
	Attempts uint64 `json:"attempts"`
}

// DeliveryEvent is the Data of notifier.sent and notifier.failed events.
type DeliveryEvent struct {
	Owner    int64     `json:"owner"`
	Kind     string    `json:"kind"` // text | photo | voice | document
	Attempts int       `json:"attempts"`
	At       time.Time `json:"at"`
	Error    string    `json:"error,omitempty"`
}
