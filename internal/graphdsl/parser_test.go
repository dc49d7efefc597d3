// Copyright (C) 2025 The Bartleby Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graphdsl

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_NodeForms(t *testing.T) {
	text := `
@startuml
component "Parse tickets" as A
rectangle B
@enduml
`
	res := Parse(text)
	require.Empty(t, res.Errors)
	require.Len(t, res.Nodes, 2)
	assert.Equal(t, "Parse tickets", res.Nodes["A"].Title)
	assert.Equal(t, NodeComponent, res.Nodes["A"].Type)
	assert.Equal(t, "B", res.Nodes["B"].Title) // alias-only form defaults title to alias
}

func TestParse_EdgeForms(t *testing.T) {
	text := `
@startuml
component A
component B
component C
component D
A --> B
A ..> C : dashed
D <-- B
@enduml
`
	res := Parse(text)
	require.Empty(t, res.Errors)
	require.Len(t, res.Edges, 3)

	byLine := map[int]Edge{}
	for _, e := range res.Edges {
		byLine[e.Line] = e
	}
	assert.Equal(t, Edge{From: "A", To: "B", Line: byLine[7].Line}, withoutLabel(byLine[7]))
	assert.Equal(t, "dashed", byLine[8].Label)
	// D <-- B reverses to (B, D)
	reversed := byLine[9]
	assert.Equal(t, "B", reversed.From)
	assert.Equal(t, "D", reversed.To)
}

func withoutLabel(e Edge) Edge {
	e.Label = ""
	return e
}

func TestParse_Comments(t *testing.T) {
	res := Parse(`' a comment line
component A
`)
	require.Empty(t, res.Errors)
	assert.Len(t, res.Nodes, 1)
}

func TestParse_DuplicateAlias(t *testing.T) {
	res := Parse(`component "One" as A
component "Two" as A
`)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, ErrDuplicateAlias, res.Errors[0].Kind)
}

func TestParse_UnknownAliasInEdge(t *testing.T) {
	res := Parse(`component A
A --> B
`)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, ErrUnknownAlias, res.Errors[0].Kind)
	assert.Equal(t, "B", res.Errors[0].Text)
}

func TestParse_UnclosedBlock(t *testing.T) {
	res := Parse(`@startuml
component A
`)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, ErrUnclosedBlock, res.Errors[0].Kind)
}

func TestParse_StrayMarkers(t *testing.T) {
	res := Parse(`@startuml
@startuml
component A
@enduml
`)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, ErrStrayMarker, res.Errors[0].Kind)
}

func TestParse_NoBlocksMeansEverythingParsed(t *testing.T) {
	res := Parse(`component A
component B
A --> B
`)
	require.Empty(t, res.Errors)
	assert.Len(t, res.Nodes, 2)
	assert.Len(t, res.Edges, 1)
}

func TestParse_EmptyInput(t *testing.T) {
	res := Parse("")
	assert.Empty(t, res.Nodes)
	assert.Empty(t, res.Edges)
	assert.Empty(t, res.Errors)
}

func TestSerialize_RoundTrip(t *testing.T) {
	nodes := map[string]Node{
		"A": {Alias: "A", Type: NodeRectangle, Title: "Alpha"},
		"B": {Alias: "B", Type: NodeRectangle, Title: "Beta"},
	}
	edges := []Edge{{From: "A", To: "B"}}

	text := Serialize(nodes, edges)
	res := Parse(text)

	require.Empty(t, res.Errors)
	require.Len(t, res.Nodes, 2)
	assert.Equal(t, "Alpha", res.Nodes["A"].Title)
	assert.Equal(t, "Beta", res.Nodes["B"].Title)
	require.Len(t, res.Edges, 1)
	assert.Equal(t, "A", res.Edges[0].From)
	assert.Equal(t, "B", res.Edges[0].To)
}
