package sync

import (
	synxsync "github.com/synaxhq/synax/internal/sync"
	"github.com/synaxhq/synax/internal/syncstate"
)

type (
	// SyncStartMsg carries the queue as it stood when the view opened
	SyncStartMsg struct {
		Snapshot syncstate.Snapshot
	}

	// SyncProgressMsg is a state change observed while the cycle runs
	SyncProgressMsg struct {
		Snapshot syncstate.Snapshot
	}

	// RequeueMsg reports failed records moved back to pending
	RequeueMsg struct {
		Count int
		Error error
	}

	// SyncCompleteMsg is sent when the cycle returns
	SyncCompleteMsg struct {
		Result *synxsync.SyncResult
		Error  error
	}
)
