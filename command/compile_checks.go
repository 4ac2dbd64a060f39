package command

import gocmd "github.com/goliatone/go-command"

var (
	_ gocmd.Commander[RunSyncCycleMessage]       = (*RunSyncCycleCommand)(nil)
	_ gocmd.Commander[RefreshTokenMessage]       = (*RefreshTokenCommand)(nil)
	_ gocmd.Commander[EnsureSubscriptionMessage] = (*EnsureSubscriptionCommand)(nil)
	_ gocmd.Commander[DeleteEntityMessage]       = (*DeleteEntityCommand)(nil)
)
