// Copyright (C) 2025 The Bartleby Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRunGraphValidate_NoCycles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "graph.puml")
	text := `@startuml
component "Parse" as A
component "Plan" as B
A --> B
@enduml
`
	require.NoError(t, os.WriteFile(path, []byte(text), 0o644))

	cfg.GraphFilePath = path
	require.NoError(t, runGraphValidate(nil, nil))
}

func TestRunGraphValidate_ReportsCycle(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "graph.puml")
	text := `@startuml
component "Parse" as A
component "Plan" as B
A --> B
B --> A
@enduml
`
	require.NoError(t, os.WriteFile(path, []byte(text), 0o644))

	cfg.GraphFilePath = path
	require.NoError(t, runGraphValidate(nil, nil))
}

func TestRunGraphValidate_MissingFileYieldsEmptyGraph(t *testing.T) {
	cfg.GraphFilePath = filepath.Join(t.TempDir(), "missing.puml")
	require.NoError(t, runGraphValidate(nil, nil))
}

func TestRunGraphShow_ListsNodesAndDependencies(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "graph.puml")
	text := `@startuml
component "Parse" as A
component "Plan" as B
A --> B
@enduml
`
	require.NoError(t, os.WriteFile(path, []byte(text), 0o644))

	cfg.GraphFilePath = path
	require.NoError(t, runGraphShow(nil, nil))
}
