// Copyright (C) 2025 The Bartleby Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package webui exposes the read/answer HTTP surface a dashboard drives: the
// current work item list, one item's detail, answering a BlockedQuestion,
// and the Orchestrator/SyncService state, on a gin.Engine with route groups
// and one handler-constructor function per endpoint.
package webui

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	otelgin "go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/elephantgerald/bartleby/internal/domain"
	"github.com/elephantgerald/bartleby/internal/events"
	"github.com/elephantgerald/bartleby/internal/logging"
	"github.com/elephantgerald/bartleby/internal/orchestrator"
	"github.com/elephantgerald/bartleby/internal/ports"
	"github.com/elephantgerald/bartleby/internal/sync"
)

// Deps bundles everything a route handler needs. Orchestrator and Sync may
// be nil in tests that only exercise the item/question endpoints.
type Deps struct {
	Repos        ports.Repositories
	Orchestrator *orchestrator.Orchestrator
	Sync         *sync.Service
	Bus          *events.Bus
	Log          *logging.Logger
}

// NewRouter builds the Gin engine serving Bartleby's dashboard API. Every
// route is read-only except AnswerQuestion, which records an answer on a
// BlockedQuestion and may unblock its WorkItem.
func NewRouter(deps Deps) *gin.Engine {
	if deps.Log == nil {
		deps.Log = logging.Default()
	}
	log := deps.Log.With("component", "webui")

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("bartleby-webui"))

	router.GET("/healthz", healthCheck)

	v1 := router.Group("/v1")
	{
		v1.GET("/items", listItems(deps))
		v1.GET("/items/:id", getItem(deps))
		v1.GET("/items/:id/sessions", listSessions(deps))
		v1.POST("/questions/:id/answer", answerQuestion(deps, log))
		v1.GET("/state", getState(deps))
	}

	if deps.Bus != nil {
		hub := newHub(log)
		deps.Bus.Subscribe(hub.broadcast)
		router.GET("/ws", hub.serve)
	}

	return router
}

func healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func listItems(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		items, err := deps.Repos.WorkItems.List(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"items": items})
	}
}

func getItem(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		item, err := deps.Repos.WorkItems.GetByID(c.Request.Context(), id)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if item == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "work item not found"})
			return
		}

		questions, err := deps.Repos.BlockedQuestions.ListByWorkItem(c.Request.Context(), id)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"item": item, "questions": questions})
	}
}

func listSessions(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		sessions, err := deps.Repos.WorkSessions.ListByWorkItem(c.Request.Context(), id)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"sessions": sessions})
	}
}

// answerRequest is the body of POST /v1/questions/:id/answer.
type answerRequest struct {
	Answer string `json:"answer" binding:"required"`
}

// answerQuestion records a human's answer to a BlockedQuestion and, if it
// was the last unanswered question blocking its WorkItem, reverts the item
// from Blocked back to its PreviousStatus so the next Orchestrator tick
// picks it back up.
func answerQuestion(deps Deps, log *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		var req answerRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		ctx := c.Request.Context()
		question, err := deps.Repos.BlockedQuestions.GetByID(ctx, id)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if question == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "question not found"})
			return
		}

		answer := req.Answer
		now := time.Now()
		question.Answer = &answer
		question.AnsweredAt = &now
		if err := deps.Repos.BlockedQuestions.Update(ctx, question); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		item, err := unblockIfResolved(ctx, deps.Repos, question.WorkItemID)
		if err != nil {
			log.Warn("answering question: unblocking item", "work_item_id", question.WorkItemID, "error", err)
		}

		c.JSON(http.StatusOK, gin.H{"question": question, "item": item})
	}
}

// unblockIfResolved reverts item to its PreviousStatus once every question
// blocking it has an answer. It returns the item in its resulting state,
// whether or not it was unblocked, so the caller can echo it back.
func unblockIfResolved(ctx context.Context, repos ports.Repositories, itemID string) (*domain.WorkItem, error) {
	item, err := repos.WorkItems.GetByID(ctx, itemID)
	if err != nil || item == nil {
		return item, err
	}
	if item.Status != domain.StatusBlocked {
		return item, nil
	}

	questions, err := repos.BlockedQuestions.ListByWorkItem(ctx, itemID)
	if err != nil {
		return item, err
	}
	for _, q := range questions {
		if !q.IsAnswered() {
			return item, nil
		}
	}

	item.Unblock()
	if err := repos.WorkItems.Update(ctx, item); err != nil {
		return item, err
	}
	return item, nil
}

// stateResponse is the payload of GET /v1/state.
type stateResponse struct {
	OrchestratorState string              `json:"orchestrator_state,omitempty"`
	OrchestratorStats *orchestrator.Stats `json:"orchestrator_stats,omitempty"`
	SyncInProgress    bool                `json:"sync_in_progress"`
	Settings          *domain.AppSettings `json:"settings,omitempty"`
}

func getState(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		resp := stateResponse{}
		if deps.Orchestrator != nil {
			resp.OrchestratorState = string(deps.Orchestrator.State())
			stats := deps.Orchestrator.Stats()
			resp.OrchestratorStats = &stats
		}
		if deps.Sync != nil {
			resp.SyncInProgress = deps.Sync.IsSyncing()
		}
		if deps.Repos.Settings != nil {
			settings, err := deps.Repos.Settings.Get(c.Request.Context())
			if err == nil {
				resp.Settings = &settings
			}
		}
		c.JSON(http.StatusOK, resp)
	}
}
