package audit

import "time"

// Entry records a mutating back-office action.
type Entry struct {
	ID         string                 `json:"id"`
	ActorID    string                 `json:"actor_id"`
	ActorEmail string                 `json:"actor_email"`
	Action     string                 `json:"action"`
	EntityType string                 `json:"entity_type"`
	EntityID   string                 `json:"entity_id"`
	Details    map[string]interface{} `json:"details,omitempty"`
	RemoteAddr string                 `json:"remote_addr,omitempty"`
	CreatedAt  time.Time              `json:"created_at"`
}

// Filter narrows audit listings. Results are newest first.
type Filter struct {
	Action     string
	EntityType string
	ActorID    string
	Limit      int
	Offset     int
}

// HTTPRecord is one admin API request captured by the HTTP audit trail.
type HTTPRecord struct {
	ID         string    `json:"id" db:"id"`
	Time       time.Time `json:"time" db:"occurred_at"`
	UserID     string    `json:"user_id,omitempty" db:"user_id"`
	Role       string    `json:"role,omitempty" db:"role"`
	Method     string    `json:"method" db:"method"`
	Path       string    `json:"path" db:"path"`
	Status     int       `json:"status" db:"status"`
	RemoteAddr string    `json:"remote_addr,omitempty" db:"remote_addr"`
	DurationMS int64     `json:"duration_ms" db:"duration_ms"`
}
