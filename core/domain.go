package core

import (
	"strings"
	"time"
)

type Credentials struct {
	ClientID      string
	ClientSecret  string
	Username      string
	Password      string
	TokenEndpoint string
}

func (c Credentials) Normalize() Credentials {
	return Credentials{
		ClientID:      strings.TrimSpace(c.ClientID),
		ClientSecret:  strings.TrimSpace(c.ClientSecret),
		Username:      strings.TrimSpace(c.Username),
		Password:      c.Password,
		TokenEndpoint: strings.TrimSpace(c.TokenEndpoint),
	}
}

// Token is replaced as a whole value on every grant.
type Token struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	ExpiresAt    time.Time
}

func (t Token) IsZero() bool {
	return strings.TrimSpace(t.AccessToken) == ""
}

// ValidAt reports whether the access token is still usable at now with margin to spare.
func (t Token) ValidAt(now time.Time, margin time.Duration) bool {
	if t.IsZero() || t.ExpiresAt.IsZero() {
		return false
	}
	return now.Add(margin).Before(t.ExpiresAt)
}

type SourceRecord struct {
	ID         string
	Attributes map[string]any
}

type SyncState struct {
	EntityID     string
	EntityType   string
	Fingerprint  string
	LastSyncedAt time.Time
}

type UpsertOutcome string

const (
	UpsertOutcomeCreated UpsertOutcome = "created"
	UpsertOutcomeUpdated UpsertOutcome = "updated"
)

const (
	FailureKindAuth      = "auth"
	FailureKindTransient = "transient"
	FailureKindPermanent = "permanent"
	FailureKindMapping   = "mapping"
	FailureKindAbandoned = "abandoned"
	FailureKindInternal  = "internal"
)

type EntityFailure struct {
	EntityID string `json:"entity_id"`
	Kind     string `json:"kind"`
	Message  string `json:"message"`
}

type CycleReport struct {
	ID            string
	StartedAt     time.Time
	FinishedAt    time.Time
	Fetched       int
	Mapped        int
	Skipped       int
	Pushed        int
	Created       int
	Updated       int
	Failed        int
	MappingFailed int
	Abandoned     int
	FetchError    string
	Failures      []EntityFailure
}

func (r CycleReport) Duration() time.Duration {
	if r.StartedAt.IsZero() || r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Succeeded is false when the cycle could not fetch or every attempted push
// was rejected for authentication.
func (r CycleReport) Succeeded() bool {
	if strings.TrimSpace(r.FetchError) != "" {
		return false
	}
	if r.Pushed > 0 || r.Failed == 0 {
		return true
	}
	for _, failure := range r.Failures {
		if failure.Kind == FailureKindAuth {
			return false
		}
	}
	return true
}

func (r CycleReport) Fields() map[string]any {
	fields := map[string]any{
		"cycle_id":       r.ID,
		"fetched":        r.Fetched,
		"mapped":         r.Mapped,
		"skipped":        r.Skipped,
		"pushed":         r.Pushed,
		"created":        r.Created,
		"updated":        r.Updated,
		"failed":         r.Failed,
		"mapping_failed": r.MappingFailed,
		"abandoned":      r.Abandoned,
		"duration_ms":    r.Duration().Milliseconds(),
	}
	if r.FetchError != "" {
		fields["fetch_error"] = r.FetchError
	}
	return fields
}
