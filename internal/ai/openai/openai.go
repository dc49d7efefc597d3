// Copyright (C) 2025 The Bartleby Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package openai implements ports.AIProvider against the OpenAI chat
// completions API (and, when configured with an endpoint, an Azure OpenAI
// deployment of the same API). It sends the orchestrator's system/user
// prompt pair as a single chat completion and hands the raw reply to
// aiprotocol.Parse to produce the ports.AIExecutionResult the rest of
// Bartleby consumes.
package openai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/pkoukk/tiktoken-go"
	openai "github.com/sashabaranov/go-openai"

	"github.com/elephantgerald/bartleby/internal/aiprotocol"
	"github.com/elephantgerald/bartleby/internal/domain"
	"github.com/elephantgerald/bartleby/internal/logging"
	"github.com/elephantgerald/bartleby/internal/ports"
)

// defaultModel is used whenever Config.Model is empty. gpt-4o-mini keeps a
// transformation run affordable when a deployment isn't specified.
const defaultModel = "gpt-4o-mini"

// defaultEncoding is the tiktoken encoding used for local token estimation.
// cl100k_base covers every GPT-3.5/4-era model family Bartleby targets.
const defaultEncoding = "cl100k_base"

// Config configures Client. APIKey is required; Endpoint and Deployment are
// optional and, together, select an Azure OpenAI deployment instead of the
// public OpenAI API.
type Config struct {
	// APIKey authenticates against the API. For Azure OpenAI this is the
	// resource's key, not an OpenAI platform key.
	APIKey string

	// Endpoint, when set, points the client at an Azure OpenAI resource
	// (e.g. "https://my-resource.openai.azure.com/") instead of the public
	// OpenAI API. Leave empty to talk to api.openai.com directly.
	Endpoint string

	// Deployment names the Azure OpenAI deployment to call. Required when
	// Endpoint is set; it takes the place of Model in the request because
	// Azure routes by deployment name, not model name.
	Deployment string

	// Model is the OpenAI model name used when Endpoint is empty. Defaults
	// to defaultModel.
	Model string

	// SystemPersona overrides the default system-role content sent when a
	// request's caller-supplied systemPrompt is empty; a non-empty
	// systemPrompt is sent as-is, without the persona. Most callers should
	// leave this empty and let ExecuteWork's systemPrompt argument carry
	// the transformation-specific persona instead.
	SystemPersona string
}

// SettingsConfig adapts a domain.AppSettings into a Config, which is how
// cmd/bartleby wires a Client from the settings singleton rather than from
// process environment variables.
func SettingsConfig(s domain.AppSettings) Config {
	return Config{
		APIKey:     s.AIKey,
		Endpoint:   s.AIEndpoint,
		Deployment: s.AIDeployment,
	}
}

// Client implements ports.AIProvider against OpenAI or Azure OpenAI.
type Client struct {
	client   *openai.Client
	model    string
	persona  string
	log      *logging.Logger
	encoding *tiktoken.Tiktoken
}

// New builds a Client from cfg. It returns an error only when APIKey is
// empty or an Azure configuration is missing its deployment name; it does
// not make a network call (use TestConnection for that).
func New(cfg Config, log *logging.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai: APIKey is required")
	}
	if cfg.Endpoint != "" && cfg.Deployment == "" {
		return nil, errors.New("openai: Deployment is required when Endpoint is set")
	}
	if log == nil {
		log = logging.Default()
	}

	var clientConfig openai.ClientConfig
	model := cfg.Model
	if cfg.Endpoint != "" {
		clientConfig = openai.DefaultAzureConfig(cfg.APIKey, cfg.Endpoint)
		model = cfg.Deployment
	} else {
		clientConfig = openai.DefaultConfig(cfg.APIKey)
		if model == "" {
			model = defaultModel
		}
	}

	enc, err := tiktoken.GetEncoding(defaultEncoding)
	if err != nil {
		log.Warn("falling back to heuristic token estimation", "error", err)
		enc = nil
	}

	persona := cfg.SystemPersona
	if persona == "" {
		persona = "You are a careful, precise software engineering assistant."
	}

	return &Client{
		client:   openai.NewClientWithConfig(clientConfig),
		model:    model,
		persona:  persona,
		log:      log.With("component", "ai.openai", "model", model),
		encoding: enc,
	}, nil
}

// ExecuteWork sends systemPrompt/userPrompt as a single chat completion and
// interprets the reply with aiprotocol.Parse. workingDir is logged for
// traceability only; the OpenAI chat API has no notion of a working
// directory, so any file access the transformation needs must already be
// embedded in userPrompt by the caller.
func (c *Client) ExecuteWork(ctx context.Context, item domain.WorkItem, workingDir, systemPrompt, userPrompt string) (ports.AIExecutionResult, error) {
	log := c.log.With("work_item_id", item.ID, "working_dir", workingDir)
	log.Debug("executing work item via OpenAI")

	system := systemPrompt
	if system == "" {
		system = c.persona
	}

	req := openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt},
		},
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		log.Error("chat completion failed", "error", err)
		return ports.AIExecutionResult{}, fmt.Errorf("openai: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return ports.AIExecutionResult{}, errors.New("openai: response contained no choices")
	}

	raw := resp.Choices[0].Message.Content
	tokensUsed := resp.Usage.TotalTokens
	if tokensUsed == 0 {
		// Some Azure deployments omit usage accounting on streamed or
		// content-filtered responses; fall back to a local estimate so the
		// token-budget gate still has a number to work with.
		tokensUsed = c.estimateTokens(system) + c.estimateTokens(userPrompt) + c.estimateTokens(raw)
		log.Debug("response omitted usage accounting, estimated tokens locally", "estimated_tokens", tokensUsed)
	}

	result := aiprotocol.Parse(raw, tokensUsed)
	if !result.Success {
		log.Warn("could not parse AI response", "error", result.ErrorMessage)
	}
	return result, nil
}

// TestConnection verifies the configured credentials and model/deployment
// are usable by issuing a minimal, single-token completion request.
func (c *Client) TestConnection(ctx context.Context) (bool, error) {
	_, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     c.model,
		MaxTokens: 1,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: "ping"},
		},
	})
	if err != nil {
		return false, fmt.Errorf("openai: connection test: %w", err)
	}
	return true, nil
}

// estimateTokens is the defensive fallback used by ExecuteWork when the API
// response doesn't report usage. It prefers the real tiktoken encoding and
// falls back to a words/runes heuristic when the encoding failed to load.
func (c *Client) estimateTokens(text string) int {
	if text == "" {
		return 0
	}
	if c.encoding != nil {
		return len(c.encoding.Encode(text, nil, nil))
	}
	return estimateTokensHeuristic(text)
}

// estimateTokensHeuristic approximates token count without tiktoken: the
// larger of a runes/4 estimate and the word count, which tracks tiktoken
// closely enough for a budget gate across both prose and code.
func estimateTokensHeuristic(text string) int {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return 0
	}
	runes := len([]rune(trimmed))
	words := len(strings.Fields(trimmed))
	if byRunes := runes / 4; byRunes > words {
		return byRunes
	}
	return words
}

var _ ports.AIProvider = (*Client)(nil)
