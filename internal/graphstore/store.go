// Copyright (C) 2025 The Bartleby Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package graphstore persists the dependency-graph DSL file and maintains
// the alias<->stable-id binding that makes round-tripping the file
// identity-preserving across reloads of the same alias.
package graphstore

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/elephantgerald/bartleby/internal/domain"
	"github.com/elephantgerald/bartleby/internal/graphdsl"
)

// bindingFile is the sidecar recording the alias<->id mapping next to the
// DSL file, so identity survives a process restart.
type bindingFile struct {
	// AliasToID maps each alias ever seen to the stable id minted for it.
	AliasToID map[string]string `yaml:"alias_to_id"`
}

// Store loads and saves a single DSL graph file, caching the alias<->id
// binding in memory and on disk.
//
// # Thread Safety
//
// Store is safe for concurrent use; the graph is read concurrently by the
// Resolver and written only through Save/Load.
type Store struct {
	mu sync.RWMutex

	path         string
	bindingsPath string

	aliasToID map[string]string
	idToAlias map[string]string

	last  graphdsl.Result
	graph domain.DependencyGraph

	watcher *fsnotify.Watcher
}

// New creates a Store for the DSL file at path. The binding sidecar lives
// alongside it at path+".bindings.yaml".
func New(path string) *Store {
	return &Store{
		path:         path,
		bindingsPath: path + ".bindings.yaml",
		aliasToID:    make(map[string]string),
		idToAlias:    make(map[string]string),
	}
}

// Load reads the DSL file, parses it, and rebuilds the typed graph,
// reusing or minting ids for every alias: reuse a
// bound alias's id, otherwise mint a fresh one and record the binding.
//
// When the parse reports errors (duplicate alias, unknown edge endpoint,
// stray or unclosed marker), Load returns the previously loaded graph if
// there is one, and otherwise the graph built from what parsed cleanly;
// LastParseResult exposes the errors either way. A failure to read the
// file itself (other than its absence) likewise returns the prior cached
// graph when one exists.
func (s *Store) Load() (domain.DependencyGraph, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.loadBindings(); err != nil {
		slog.Warn("graphstore: failed to load bindings sidecar", "path", s.bindingsPath, "error", err)
	}

	text, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			s.last = graphdsl.Result{Nodes: map[string]graphdsl.Node{}}
			s.graph = domain.DependencyGraph{}
			return s.graph, nil
		}
		if s.graph != nil {
			return s.graph, nil
		}
		return nil, fmt.Errorf("reading graph file %s: %w", s.path, err)
	}

	result := graphdsl.Parse(string(text))
	s.last = result
	if len(result.Errors) > 0 && s.graph != nil {
		return s.graph, nil
	}

	graph := make(domain.DependencyGraph, len(result.Nodes))
	aliasOf := make(map[string]string, len(result.Nodes)) // id -> alias, this load
	idOf := make(map[string]string, len(result.Nodes))     // alias -> id, this load

	for alias, node := range result.Nodes {
		id, bound := s.aliasToID[alias]
		if !bound {
			id = uuid.New().String()
			s.aliasToID[alias] = id
			s.idToAlias[id] = alias
		}
		idOf[alias] = id
		aliasOf[id] = alias
		graph[id] = domain.GraphNode{Title: node.Title}
	}

	for _, edge := range result.Edges {
		fromID, fok := idOf[edge.From]
		toID, tok := idOf[edge.To]
		if !fok || !tok {
			continue // unknown alias already reported in result.Errors
		}
		toNode := graph[toID]
		toNode.DependsOn = append(toNode.DependsOn, fromID)
		graph[toID] = toNode
	}

	s.graph = graph

	if err := s.saveBindings(); err != nil {
		slog.Warn("graphstore: failed to persist bindings sidecar", "path", s.bindingsPath, "error", err)
	}

	return graph, nil
}

// Save serializes the graph back to the DSL file, framed by
// @startuml/@enduml, using each id's bound alias where one exists and the
// first 8 characters of the id's textual form otherwise.
func (s *Store) Save(graph domain.DependencyGraph) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	nodes := make(map[string]graphdsl.Node, len(graph))
	var edges []graphdsl.Edge

	idToAliasThisSave := make(map[string]string, len(graph))
	for id := range graph {
		alias, ok := s.idToAlias[id]
		if !ok {
			alias = shortID(id)
			s.idToAlias[id] = alias
			s.aliasToID[alias] = id
		}
		idToAliasThisSave[id] = alias
	}

	for id, node := range graph {
		alias := idToAliasThisSave[id]
		nodes[alias] = graphdsl.Node{Alias: alias, Type: graphdsl.NodeRectangle, Title: node.Title}
	}
	for id, node := range graph {
		toAlias := idToAliasThisSave[id]
		for _, depID := range node.DependsOn {
			fromAlias, ok := idToAliasThisSave[depID]
			if !ok {
				continue
			}
			edges = append(edges, graphdsl.Edge{From: fromAlias, To: toAlias})
		}
	}

	text := graphdsl.Serialize(nodes, edges)
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("creating graph directory: %w", err)
	}
	if err := os.WriteFile(s.path, []byte(text), 0o644); err != nil {
		return fmt.Errorf("writing graph file %s: %w", s.path, err)
	}

	s.graph = graph
	return s.saveBindings()
}

// LastParseResult exposes the most recent parse's diagnostics.
func (s *Store) LastParseResult() graphdsl.Result {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last
}

// Watch starts an fsnotify watch on the DSL file's directory and invokes
// onReload with the freshly-loaded graph whenever the file changes. Watch
// blocks until ctx is cancelled.
func (s *Store) Watch(ctx context.Context, onReload func(domain.DependencyGraph)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating file watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(s.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watching %s: %w", dir, err)
	}

	s.mu.Lock()
	s.watcher = watcher
	s.mu.Unlock()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(s.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			graph, err := s.Load()
			if err != nil {
				slog.Error("graphstore: reload failed", "error", err)
				continue
			}
			onReload(graph)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Error("graphstore: watcher error", "error", err)
		}
	}
}

func (s *Store) loadBindings() error {
	data, err := os.ReadFile(s.bindingsPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var bf bindingFile
	if err := yaml.Unmarshal(data, &bf); err != nil {
		return err
	}
	for alias, id := range bf.AliasToID {
		s.aliasToID[alias] = id
		s.idToAlias[id] = alias
	}
	return nil
}

func (s *Store) saveBindings() error {
	bf := bindingFile{AliasToID: s.aliasToID}
	data, err := yaml.Marshal(bf)
	if err != nil {
		return err
	}
	return os.WriteFile(s.bindingsPath, data, 0o644)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
