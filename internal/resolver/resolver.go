// Copyright (C) 2025 The Bartleby Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package resolver classifies WorkItems as ready, blocked, or cyclic given
// a snapshot of the DependencyGraph. Resolver is pure: it never mutates the
// graph or the items it is given.
package resolver

import (
	"sort"

	"github.com/elephantgerald/bartleby/internal/domain"
)

// color is the three-state DFS marker used by cycle detection.
type color int

const (
	white color = iota // unvisited
	gray               // on the current recursion stack
	black              // fully explored
)

// Resolver classifies work items against a DependencyGraph snapshot.
type Resolver struct {
	graph domain.DependencyGraph
	items map[string]domain.WorkItem
}

// New builds a Resolver over a graph and item snapshot. Items not present
// in the graph are treated as having zero dependencies ("Failure
// modes: none").
func New(graph domain.DependencyGraph, items []domain.WorkItem) *Resolver {
	byID := make(map[string]domain.WorkItem, len(items))
	for _, it := range items {
		byID[it.ID] = it
	}
	if graph == nil {
		graph = domain.DependencyGraph{}
	}
	return &Resolver{graph: graph, items: byID}
}

func (r *Resolver) dependenciesOf(id string) []string {
	if node, ok := r.graph[id]; ok {
		return node.DependsOn
	}
	return nil
}

// IsReady reports whether the item resolves to ready: Status is Pending or
// Ready, and every dependency id present in the graph names an item with
// Status Complete.
func (r *Resolver) IsReady(id string) bool {
	item, ok := r.items[id]
	if !ok {
		return false
	}
	if item.Status != domain.StatusPending && item.Status != domain.StatusReady {
		return false
	}
	for _, depID := range r.dependenciesOf(id) {
		dep, ok := r.items[depID]
		if !ok || dep.Status != domain.StatusComplete {
			return false
		}
	}
	return true
}

// GetReadyItems returns every ready item, ordered by ascending CreatedAt
// with id as a stable tie-break.
func (r *Resolver) GetReadyItems() []domain.WorkItem {
	cycles := r.DetectCycles()
	inCycle := cyclicIDs(cycles)

	var ready []domain.WorkItem
	for id, item := range r.items {
		if inCycle[id] {
			continue
		}
		if r.IsReady(id) {
			ready = append(ready, item)
		}
	}
	sortByCreatedThenID(ready)
	return ready
}

// GetDependencyChain returns the transitive dependency ids of id, deepest
// first, deduplicated.
func (r *Resolver) GetDependencyChain(id string) []string {
	visited := make(map[string]bool)
	var order []string

	var visit func(string)
	visit = func(cur string) {
		for _, dep := range r.dependenciesOf(cur) {
			if visited[dep] {
				continue
			}
			visited[dep] = true
			visit(dep)
			order = append(order, dep)
		}
	}
	visit(id)
	return order
}

// DetectCycles returns every simple cycle in the graph, each as the
// ordered list of ids forming the loop, using three-colour DFS with a
// recursion stack. Traversal order is deterministic: ids are visited in
// ascending sorted order. A self-loop is reported as a one-element cycle.
func (r *Resolver) DetectCycles() [][]string {
	colors := make(map[string]color, len(r.graph))
	var stack []string
	var cycles [][]string

	ids := make([]string, 0, len(r.graph))
	for id := range r.graph {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var visit func(id string)
	visit = func(id string) {
		colors[id] = gray
		stack = append(stack, id)

		deps := append([]string(nil), r.dependenciesOf(id)...)
		sort.Strings(deps)

		for _, dep := range deps {
			switch colors[dep] {
			case white:
				visit(dep)
			case gray:
				cycles = append(cycles, extractCycle(stack, dep))
			case black:
				// already fully explored, no cycle through it from here
			}
		}

		stack = stack[:len(stack)-1]
		colors[id] = black
	}

	for _, id := range ids {
		if colors[id] == white {
			visit(id)
		}
	}

	return cycles
}

// extractCycle slices the recursion stack from the first occurrence of
// target to its end, yielding the ordered cycle that closes back to it.
func extractCycle(stack []string, target string) []string {
	for i, id := range stack {
		if id == target {
			cycle := append([]string(nil), stack[i:]...)
			return cycle
		}
	}
	return []string{target}
}

// Resolution is the outcome of a single resolver pass.
type Resolution struct {
	ReadyItems   []domain.WorkItem
	BlockedItems []domain.WorkItem
	Cycles       [][]string
	CyclicItems  []string
}

// Resolve performs a single classification pass. Items present in any
// cycle are excluded from ReadyItems even if otherwise eligible.
func (r *Resolver) Resolve() Resolution {
	cycles := r.DetectCycles()
	inCycle := cyclicIDs(cycles)

	var ready, blocked []domain.WorkItem
	for id, item := range r.items {
		switch {
		case inCycle[id]:
			continue
		case item.Status.IsTerminal(), item.Status == domain.StatusInProgress, item.Status == domain.StatusBlocked:
			continue
		case r.IsReady(id):
			ready = append(ready, item)
		default:
			blocked = append(blocked, item)
		}
	}
	sortByCreatedThenID(ready)
	sortByCreatedThenID(blocked)

	cyclicIDList := make([]string, 0, len(inCycle))
	for id := range inCycle {
		cyclicIDList = append(cyclicIDList, id)
	}
	sort.Strings(cyclicIDList)

	return Resolution{
		ReadyItems:   ready,
		BlockedItems: blocked,
		Cycles:       cycles,
		CyclicItems:  cyclicIDList,
	}
}

func cyclicIDs(cycles [][]string) map[string]bool {
	out := make(map[string]bool)
	for _, cycle := range cycles {
		for _, id := range cycle {
			out[id] = true
		}
	}
	return out
}

func sortByCreatedThenID(items []domain.WorkItem) {
	sort.Slice(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.Before(items[j].CreatedAt)
		}
		return items[i].ID < items[j].ID
	})
}
