package store

import "time"

type WebhookDelivery struct {
	ID            string
	EventType     string
	URL           string
	Secret        string
	Payload       []byte
	Status        string // pending | delivered | failed
	Attempts      int
	NextAttemptAt time.Time
	LastError     string
	ResponseCode  int
	LatencyMs     int
}
