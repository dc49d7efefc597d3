// Copyright (C) 2025 The Bartleby Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package badger

import "github.com/elephantgerald/bartleby/internal/ports"

var (
	_ ports.WorkItemRepository        = (*WorkItemRepository)(nil)
	_ ports.BlockedQuestionRepository = (*BlockedQuestionRepository)(nil)
	_ ports.WorkSessionRepository     = (*WorkSessionRepository)(nil)
	_ ports.SettingsRepository        = (*SettingsRepository)(nil)
)

// NewRepositories builds a ports.Repositories bundle backed by db.
func NewRepositories(db *DB) ports.Repositories {
	return ports.Repositories{
		WorkItems:        NewWorkItemRepository(db),
		BlockedQuestions: NewBlockedQuestionRepository(db),
		WorkSessions:     NewWorkSessionRepository(db),
		Settings:         NewSettingsRepository(db),
	}
}
