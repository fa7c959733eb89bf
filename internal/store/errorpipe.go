package store

import (
	"time"

	"github.com/flowstate-labs/flowstate/pkg/flowstate/v1/action"
	flowerrors "github.com/flowstate-labs/flowstate/pkg/flowstate/v1/errors"
	"github.com/flowstate-labs/flowstate/pkg/flowstate/v1/events"
)

// processError runs the error pipeline for a failed dispatch: per-action
// wrap, then the global wrap, then the error observers' vote on disposition.
// It returns the final wrapped error and whether it was swallowed. actionWrap
// is nil for actions without an ErrorWrapper.
//
// Disposition rules: any observer voting swallow wins, regardless of rethrow
// votes; otherwise any rethrow vote wins; otherwise the default applies, which
// swallows user-facing errors and rethrows everything else.
func (s *Store[S]) processError(actionType string, actionWrap func(error) error, seq uint64, cause error) (error, bool) {
	wrapped := cause
	if actionWrap != nil {
		if next := actionWrap(wrapped); next != nil {
			wrapped = next
		}
	}
	if s.globalWrap != nil {
		if next := s.globalWrap(wrapped); next != nil {
			wrapped = next
		}
	}

	s.mu.Lock()
	observers := append([]action.ErrorObserver(nil), s.errorObservers...)
	s.mu.Unlock()

	report := action.ErrorReport{ActionType: actionType, Seq: seq, Err: wrapped, Cause: cause}
	sawSwallow, sawRethrow := false, false
	for _, obs := range observers {
		switch obs(report) {
		case action.DecisionSwallow:
			sawSwallow = true
		case action.DecisionRethrow:
			sawRethrow = true
		}
	}

	var swallowed bool
	switch {
	case sawSwallow:
		swallowed = true
	case sawRethrow:
		swallowed = false
	default:
		swallowed = flowerrors.IsUserError(wrapped)
	}

	s.logger.Errorf("action '%s' failed (swallowed=%t): %v", actionType, swallowed, wrapped)
	s.bus.Emit(events.Event{
		Type:       events.ErrorOccurred,
		Timestamp:  time.Now(),
		ActionType: actionType,
		Seq:        seq,
		Payload:    map[string]interface{}{"swallowed": swallowed, "error": wrapped.Error()},
	})
	return wrapped, swallowed
}
