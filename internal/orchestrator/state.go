// Copyright (C) 2025 The Bartleby Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package orchestrator

import "fmt"

// State is one of the Orchestrator's lifecycle states.
type State string

const (
	StateStopped         State = "stopped"
	StateStarting        State = "starting"
	StateIdle            State = "idle"
	StateWorking         State = "working"
	StateQuietHours      State = "quiet_hours"
	StateBudgetExhausted State = "budget_exhausted"
	StateStopping        State = "stopping"
)

// allowedTransitions enumerates every valid (from, to) pair. A pair absent
// from this table is a no-op: transition leaves the state unchanged and
// reports no error, so the state machine is total over every (State,
// target) pair.
var allowedTransitions = map[State]map[State]bool{
	StateStopped:         {StateStarting: true},
	StateStarting:        {StateIdle: true},
	StateIdle:            {StateWorking: true, StateQuietHours: true, StateBudgetExhausted: true, StateStopping: true},
	StateWorking:         {StateIdle: true, StateStopping: true},
	StateQuietHours:      {StateIdle: true, StateStopping: true},
	StateBudgetExhausted: {StateIdle: true, StateStopping: true},
	StateStopping:        {StateStopped: true},
}

// isValidTransition reports whether moving from `from` to `to` is one of
// the defined edges of the state machine.
func isValidTransition(from, to State) bool {
	if from == to {
		return true // idempotent re-entry is always a no-op, not an error
	}
	return allowedTransitions[from][to]
}

// errInvalidTransition builds the error that transition logs for a pair the
// table does not allow; it is not returned to callers.
func errInvalidTransition(from, to State) error {
	return fmt.Errorf("orchestrator: invalid transition %s -> %s", from, to)
}
