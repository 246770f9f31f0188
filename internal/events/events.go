package events

import (
	"context"
	"time"
)

const (
	AssetReady     = "asset.ready"
	AssetDuplicate = "asset.duplicate"
	AssetExpired   = "asset.expired"
	sessionPrefix  = "session."
)

type Event struct {
	Type        string    `json:"type"`
	VideoID     string    `json:"videoId"`
	TaskID      string    `json:"taskId,omitempty"`
	Platform    string    `json:"platform,omitempty"`
	Status      string    `json:"status,omitempty"`
	CanonicalID string    `json:"canonicalId,omitempty"`
	Error       string    `json:"error,omitempty"`
	At          time.Time `json:"at"`
}

// SessionEvent builds the routing key for a session status change.
func SessionEvent(status string) string {
	return sessionPrefix + status
}

// Publisher delivers lifecycle events. Publish must not block the caller
// and never reports failure.
type Publisher interface {
	Publish(ctx context.Context, ev Event)
	Close() error
}

type Nop struct{}

func (Nop) Publish(context.Context, Event) {}

func (Nop) Close() error { return nil }
