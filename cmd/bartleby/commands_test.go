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
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRootCommand_HasEveryTopLevelSubcommand(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"run", "sync", "resolve", "answer", "graph"} {
		assert.Truef(t, names[want], "rootCmd is missing subcommand %q", want)
	}
}

func TestGraphCommand_HasValidateAndShow(t *testing.T) {
	names := map[string]bool{}
	for _, c := range graphCmd.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["validate"])
	assert.True(t, names["show"])
}

func TestAnswerCommand_RequiresExactlyTwoArgs(t *testing.T) {
	assert.NoError(t, answerCmd.Args(answerCmd, []string{"q-1", "42"}))
	assert.Error(t, answerCmd.Args(answerCmd, []string{"q-1"}))
	assert.Error(t, answerCmd.Args(answerCmd, []string{"q-1", "42", "extra"}))
}

func TestRootCommand_RegistersConfigFlag(t *testing.T) {
	flag := rootCmd.PersistentFlags().Lookup("config")
	if assert.NotNil(t, flag) {
		assert.Equal(t, "config.yaml", flag.DefValue)
	}
}

func TestEveryCommand_HasRunFunc(t *testing.T) {
	for _, c := range []struct {
		name string
		has  bool
	}{
		{"run", runCmd.RunE != nil},
		{"sync", syncCmd.RunE != nil},
		{"resolve", resolveCmd.RunE != nil},
		{"answer", answerCmd.RunE != nil},
		{"graph validate", graphValidateCmd.RunE != nil},
		{"graph show", graphShowCmd.RunE != nil},
	} {
		assert.Truef(t, c.has, "%s has no RunE", c.name)
	}
}
