// Copyright (C) 2025 The Bartleby Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elephantgerald/bartleby/internal/domain"
)

func TestNew_RequiresAPIKey(t *testing.T) {
	_, err := New(Config{}, nil)
	assert.Error(t, err)
}

func TestNew_RequiresDeploymentWithEndpoint(t *testing.T) {
	_, err := New(Config{APIKey: "k", Endpoint: "https://example.openai.azure.com/"}, nil)
	assert.Error(t, err)
}

func TestNew_DefaultsModelForPublicAPI(t *testing.T) {
	c, err := New(Config{APIKey: "k"}, nil)
	require.NoError(t, err)
	assert.Equal(t, defaultModel, c.model)
}

func TestNew_UsesDeploymentAsModelForAzure(t *testing.T) {
	c, err := New(Config{APIKey: "k", Endpoint: "https://example.openai.azure.com/", Deployment: "gpt-4o-prod"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o-prod", c.model)
}

func TestSettingsConfig_MapsAppSettingsFields(t *testing.T) {
	cfg := SettingsConfig(domain.AppSettings{AIKey: "k", AIEndpoint: "https://e", AIDeployment: "d"})
	assert.Equal(t, Config{APIKey: "k", Endpoint: "https://e", Deployment: "d"}, cfg)
}

func TestEstimateTokensHeuristic(t *testing.T) {
	assert.Equal(t, 0, estimateTokensHeuristic(""))
	assert.Equal(t, 0, estimateTokensHeuristic("   "))
	assert.True(t, estimateTokensHeuristic("the quick brown fox jumps over the lazy dog") >= 9)
}

// newTestClient points a Client at an httptest server instead of the real
// OpenAI API, matching the approach go-openai's own test suite uses.
func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	c, err := New(Config{APIKey: "test-key", Model: "gpt-4o-mini"}, nil)
	require.NoError(t, err)

	clientConfig := openai.DefaultConfig("test-key")
	clientConfig.BaseURL = server.URL + "/v1"
	c.client = openai.NewClientWithConfig(clientConfig)
	return c
}

func chatCompletionResponse(t *testing.T, content string, totalTokens int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := openai.ChatCompletionResponse{
			Choices: []openai.ChatCompletionChoice{
				{Message: openai.ChatCompletionMessage{Content: content}},
			},
			Usage: openai.Usage{TotalTokens: totalTokens},
		}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}
}

func TestExecuteWork_ParsesSuccessfulCompletion(t *testing.T) {
	body := `{"outcome":"completed","summary":"did the thing","modified_files":["a.go"]}`
	c := newTestClient(t, chatCompletionResponse(t, body, 42))

	result, err := c.ExecuteWork(context.Background(), domain.WorkItem{ID: "wi-1"}, "/work", "be careful", "do the thing")
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "completed", result.Outcome)
	assert.Equal(t, 42, result.TokensUsed)
	assert.Equal(t, []string{"a.go"}, result.ModifiedFiles)
}

func TestExecuteWork_EstimatesTokensWhenUsageOmitted(t *testing.T) {
	body := `{"outcome":"completed","summary":"ok"}`
	c := newTestClient(t, chatCompletionResponse(t, body, 0))

	result, err := c.ExecuteWork(context.Background(), domain.WorkItem{ID: "wi-1"}, "", "system prompt here", "user prompt here")
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Greater(t, result.TokensUsed, 0)
}

func TestExecuteWork_UnparseableReplyIsNotATransportError(t *testing.T) {
	c := newTestClient(t, chatCompletionResponse(t, "not json at all", 5))

	result, err := c.ExecuteWork(context.Background(), domain.WorkItem{ID: "wi-1"}, "", "", "do it")
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.NotEmpty(t, result.ErrorMessage)
}

func TestTestConnection_ReturnsTrueOnSuccess(t *testing.T) {
	c := newTestClient(t, chatCompletionResponse(t, "pong", 1))
	ok, err := c.TestConnection(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestTestConnection_ReturnsErrorOnTransportFailure(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	ok, err := c.TestConnection(context.Background())
	assert.False(t, ok)
	assert.Error(t, err)
}
