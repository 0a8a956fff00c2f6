package draft

import (
	"github.com/mcdev12/draftroom/go/internal/draft/turn"
	"github.com/mcdev12/draftroom/go/internal/models"
)

// Transition is a lifecycle change requested by a manager.
type Transition string

const (
	TransitionStart  Transition = "start"
	TransitionPause  Transition = "pause"
	TransitionResume Transition = "resume"
)

// allowedTransitions lists the status each transition may start from and the
// status it leads to. Completion only happens through the final pick.
var allowedTransitions = map[Transition]struct {
	from models.DraftStatus
	to   models.DraftStatus
}{
	TransitionStart:  {from: models.DraftStatusPending, to: models.DraftStatusInProgress},
	TransitionPause:  {from: models.DraftStatusInProgress, to: models.DraftStatusPaused},
	TransitionResume: {from: models.DraftStatusPaused, to: models.DraftStatusInProgress},
}

// TransitionResult is the header after a lifecycle change.
type TransitionResult struct {
	Draft *models.Draft `json:"draft"`
}

// LedgerRow is one slot of the snake order. Pick is nil until it is made.
type LedgerRow struct {
	turn.Assignment
	Pick *models.DraftPick `json:"pick"`
}

// SnapshotView is the snapshot served to clients.
type SnapshotView struct {
	*models.Snapshot
	Ledger []LedgerRow `json:"ledger"`
}
