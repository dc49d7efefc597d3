// Copyright (C) 2025 The Bartleby Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graphstore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elephantgerald/bartleby/internal/domain"
)

func TestStore_LoadMissingFileYieldsEmptyGraph(t *testing.T) {
	dir := t.TempDir()
	s := New(filepath.Join(dir, "graph.puml"))

	g, err := s.Load()
	require.NoError(t, err)
	assert.Empty(t, g)
}

func TestStore_RoundTripPreservesIdentity(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "graph.puml")
	text := `@startuml
component "Parse" as A
component "Plan" as B
A --> B
@enduml
`
	require.NoError(t, os.WriteFile(path, []byte(text), 0o644))

	s1 := New(path)
	g1, err := s1.Load()
	require.NoError(t, err)
	require.Len(t, g1, 2)

	var planID string
	for id, n := range g1 {
		if n.Title == "Plan" {
			planID = id
		}
	}
	require.NotEmpty(t, planID)

	require.NoError(t, s1.Save(g1))

	// A fresh store reusing the same bindings sidecar must reload the same ids.
	s2 := New(path)
	g2, err := s2.Load()
	require.NoError(t, err)
	require.Len(t, g2, 2)
	assert.Contains(t, g2, planID)
	assert.Equal(t, "Plan", g2[planID].Title)
}

func TestStore_SaveMintsAliasForUnboundID(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "graph.puml")
	s := New(path)

	id := "01234567-89ab-cdef-0123-456789abcdef"
	graph := domain.DependencyGraph{
		id: domain.GraphNode{Title: "Freshly created"},
	}
	require.NoError(t, s.Save(graph))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "01234567")
}
