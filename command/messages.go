package command

import (
	"strings"

	"github.com/goliatone/go-fiware-sync/broker"
)

const (
	TypeRunSyncCycle       = "fiware_sync.command.cycle.run"
	TypeRefreshToken       = "fiware_sync.command.token.refresh"
	TypeEnsureSubscription = "fiware_sync.command.subscription.ensure"
	TypeDeleteEntity       = "fiware_sync.command.entity.delete"
)

type RunSyncCycleMessage struct{}

func (RunSyncCycleMessage) Type() string { return TypeRunSyncCycle }

func (RunSyncCycleMessage) Validate() error { return nil }

// RefreshTokenMessage refreshes the stored token. Reauthenticate skips the
// refresh grant and runs the password grant directly.
type RefreshTokenMessage struct {
	Reauthenticate bool
}

func (RefreshTokenMessage) Type() string { return TypeRefreshToken }

func (RefreshTokenMessage) Validate() error { return nil }

type EnsureSubscriptionMessage struct {
	Spec broker.SubscriptionSpec
}

func (EnsureSubscriptionMessage) Type() string { return TypeEnsureSubscription }

func (m EnsureSubscriptionMessage) Validate() error {
	if strings.TrimSpace(m.Spec.Description) == "" {
		return commandValidationError("description", "subscription description is required")
	}
	if strings.TrimSpace(m.Spec.NotifyURL) == "" {
		return commandValidationError("notify_url", "subscription notification url is required")
	}
	return nil
}

type DeleteEntityMessage struct {
	EntityID   string
	EntityType string
}

func (DeleteEntityMessage) Type() string { return TypeDeleteEntity }

func (m DeleteEntityMessage) Validate() error {
	if strings.TrimSpace(m.EntityID) == "" {
		return commandValidationError("entity_id", "entity id is required")
	}
	return nil
}
