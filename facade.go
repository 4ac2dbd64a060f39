package fiwaresync

import (
	"fmt"

	"github.com/goliatone/go-fiware-sync/command"
	"github.com/goliatone/go-fiware-sync/core"
	"github.com/goliatone/go-fiware-sync/query"
)

type Commands struct {
	RunSyncCycle       *command.RunSyncCycleCommand
	RefreshToken       *command.RefreshTokenCommand
	EnsureSubscription *command.EnsureSubscriptionCommand
	DeleteEntity       *command.DeleteEntityCommand
}

type Queries struct {
	LoadSyncState    *query.LoadSyncStateQuery
	ListSyncStates   *query.ListSyncStatesQuery
	GetCycleReport   *query.GetCycleReportQuery
	ListCycleReports *query.ListCycleReportsQuery
}

// FacadeDependencies are the collaborators behind the command and query
// handlers. Reads only need States and Reports.
type FacadeDependencies struct {
	Cycles        command.CycleRunner
	Tokens        command.TokenRefresher
	Subscriptions command.SubscriptionEnsurer
	Entities      command.EntityDeleter
	States        core.SyncStateStore
	Reports       core.CycleReportReader
}

type Facade struct {
	commands Commands
	queries  Queries
}

func NewFacade(deps FacadeDependencies) (*Facade, error) {
	if deps.States == nil {
		return nil, fmt.Errorf("fiwaresync: sync state store is required")
	}
	if deps.Reports == nil {
		return nil, fmt.Errorf("fiwaresync: cycle report reader is required")
	}

	facade := &Facade{}
	facade.commands = Commands{
		RunSyncCycle:       command.NewRunSyncCycleCommand(deps.Cycles),
		RefreshToken:       command.NewRefreshTokenCommand(deps.Tokens),
		EnsureSubscription: command.NewEnsureSubscriptionCommand(deps.Subscriptions),
		DeleteEntity:       command.NewDeleteEntityCommand(deps.Entities, deps.States),
	}
	facade.queries = Queries{
		LoadSyncState:    query.NewLoadSyncStateQuery(deps.States),
		ListSyncStates:   query.NewListSyncStatesQuery(deps.States),
		GetCycleReport:   query.NewGetCycleReportQuery(deps.Reports),
		ListCycleReports: query.NewListCycleReportsQuery(deps.Reports),
	}
	return facade, nil
}

func (f *Facade) Commands() Commands {
	if f == nil {
		return Commands{}
	}
	return f.commands
}

func (f *Facade) Queries() Queries {
	if f == nil {
		return Queries{}
	}
	return f.queries
}
