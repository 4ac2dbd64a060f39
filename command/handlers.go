package command

import (
	"context"
	"strings"

	gocmd "github.com/goliatone/go-command"

	"github.com/goliatone/go-fiware-sync/broker"
	"github.com/goliatone/go-fiware-sync/core"
)

type CycleRunner interface {
	RunCycle(ctx context.Context) (core.CycleReport, error)
}

type TokenRefresher interface {
	Authenticate(ctx context.Context, creds core.Credentials) error
	Refresh(ctx context.Context) error
}

type SubscriptionEnsurer interface {
	EnsureSubscription(ctx context.Context, spec broker.SubscriptionSpec) (string, bool, error)
}

type EntityDeleter interface {
	DeleteEntity(ctx context.Context, id string, entityType string) error
}

type EnsureSubscriptionResult struct {
	ID      string
	Created bool
}

type RunSyncCycleCommand struct {
	runner CycleRunner
}

func NewRunSyncCycleCommand(runner CycleRunner) *RunSyncCycleCommand {
	return &RunSyncCycleCommand{runner: runner}
}

// Execute stores the cycle report even when the fetch failed.
func (c *RunSyncCycleCommand) Execute(ctx context.Context, _ RunSyncCycleMessage) error {
	if c == nil || c.runner == nil {
		return commandDependencyError("command: sync cycle runner is required")
	}
	report, err := c.runner.RunCycle(ctx)
	storeResult(ctx, report)
	return err
}

type RefreshTokenCommand struct {
	tokens TokenRefresher
}

func NewRefreshTokenCommand(tokens TokenRefresher) *RefreshTokenCommand {
	return &RefreshTokenCommand{tokens: tokens}
}

func (c *RefreshTokenCommand) Execute(ctx context.Context, msg RefreshTokenMessage) error {
	if c == nil || c.tokens == nil {
		return commandDependencyError("command: token refresher is required")
	}
	if msg.Reauthenticate {
		return c.tokens.Authenticate(ctx, core.Credentials{})
	}
	return c.tokens.Refresh(ctx)
}

type EnsureSubscriptionCommand struct {
	subscriptions SubscriptionEnsurer
}

func NewEnsureSubscriptionCommand(subscriptions SubscriptionEnsurer) *EnsureSubscriptionCommand {
	return &EnsureSubscriptionCommand{subscriptions: subscriptions}
}

func (c *EnsureSubscriptionCommand) Execute(ctx context.Context, msg EnsureSubscriptionMessage) error {
	if c == nil || c.subscriptions == nil {
		return commandDependencyError("command: subscription client is required")
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	id, created, err := c.subscriptions.EnsureSubscription(ctx, msg.Spec)
	if err != nil {
		return err
	}
	storeResult(ctx, EnsureSubscriptionResult{ID: id, Created: created})
	return nil
}

// DeleteEntityCommand removes an entity from the broker and forgets its
// fingerprint so a reappearing record is pushed again.
type DeleteEntityCommand struct {
	entities EntityDeleter
	states   core.SyncStateStore
}

func NewDeleteEntityCommand(entities EntityDeleter, states core.SyncStateStore) *DeleteEntityCommand {
	return &DeleteEntityCommand{entities: entities, states: states}
}

func (c *DeleteEntityCommand) Execute(ctx context.Context, msg DeleteEntityMessage) error {
	if c == nil || c.entities == nil {
		return commandDependencyError("command: entity client is required")
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	entityID := strings.TrimSpace(msg.EntityID)
	if err := c.entities.DeleteEntity(ctx, entityID, strings.TrimSpace(msg.EntityType)); err != nil {
		return err
	}
	if c.states == nil {
		return nil
	}
	return c.states.Delete(ctx, entityID)
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}
