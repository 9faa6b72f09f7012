package outbox

import (
	"encoding/json"
	"time"
)

// Event types double as Kafka topic names.
const (
	EventJobRescheduled = "dispatch.job.rescheduled.v1"
	EventJobSwapped     = "dispatch.job.swapped.v1"

	AggregateJob = "job"
)

// Event is the envelope written to the outbox table.
type Event struct {
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// JobMoved is the payload of both job events. Reminder services consume it
// to re-send confirmations for the new time.
type JobMoved struct {
	JobID              string    `json:"job_id"`
	BusinessID         string    `json:"business_id"`
	ClientID           string    `json:"client_id"`
	FromWorkerID       string    `json:"from_worker_id"`
	ToWorkerID         string    `json:"to_worker_id"`
	PreviousStart      time.Time `json:"previous_start"`
	Start              time.Time `json:"start"`
	End                time.Time `json:"end"`
	SwapRequestID      string    `json:"swap_request_id,omitempty"`
	CompatibilityScore *int      `json:"compatibility_score,omitempty"`
	OccurredAt         time.Time `json:"occurred_at"`
}

func NewJobEvent(eventType string, p JobMoved) (Event, error) {
	payload, err := json.Marshal(p)
	if err != nil {
		return Event{}, err
	}
	return Event{
		AggregateType: AggregateJob,
		AggregateID:   p.JobID,
		EventType:     eventType,
		Payload:       payload,
	}, nil
}
