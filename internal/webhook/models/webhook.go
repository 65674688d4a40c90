// Package models defines recorded webhook deliveries.
package models

import (
	"time"

	id "verisync/pkg/domain"
)

// Origin distinguishes the two inbound webhook sources.
type Origin string

const (
	OriginPlatform Origin = "platform"
	OriginProvider Origin = "provider"
)

func (o Origin) Valid() bool { return o == OriginPlatform || o == OriginProvider }

// MaxTries is the number of re-attempts after the first processing try. A
// record whose try count passes the first attempt plus MaxTries is marked
// failed.
const MaxTries = 6

// Record is one accepted webhook delivery. The (tenant, origin, identifier)
// uniqueness makes intake idempotent: redeliveries of the same event are
// dropped at the store.
type Record struct {
	ID       id.WebhookID `json:"id"`
	TenantID id.TenantID  `json:"tenant_id"`
	Origin   Origin       `json:"origin"`
	// Identifier is the delivery's dedup key: the platform's webhook id, or
	// "{action}:{object id}" for provider events.
	Identifier string `json:"identifier"`
	Event      string `json:"event"`
	// Payload is the raw request body, replayed on every processing attempt.
	Payload   []byte    `json:"payload"`
	Completed bool      `json:"completed"`
	Failed    bool      `json:"failed"`
	Tries     int       `json:"tries"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Done reports whether processing has reached a terminal outcome.
func (r *Record) Done() bool { return r.Completed || r.Failed }

// Exhausted reports whether the record has used the first attempt plus all
// MaxTries re-attempts.
func (r *Record) Exhausted() bool { return r.Tries > MaxTries }
