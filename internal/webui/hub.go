// Copyright (C) 2025 The Bartleby Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package webui

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/elephantgerald/bartleby/internal/events"
	"github.com/elephantgerald/bartleby/internal/logging"
)

// upgrader accepts every origin; checking is left to a reverse proxy in
// front of this process, not this handler.
var upgrader = websocket.Upgrader{
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  4 * 1024,
	WriteBufferSize: 4 * 1024,
}

// hub fans every events.Bus event out to connected dashboard clients. It
// subscribes to the Bus once via NewRouter and pushes each Event to every
// open connection as JSON.
type hub struct {
	log *logging.Logger

	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
}

func newHub(log *logging.Logger) *hub {
	return &hub{log: log, clients: make(map[*websocket.Conn]struct{})}
}

// serve upgrades the request to a websocket connection and keeps it
// registered until the client disconnects. The connection is write-only
// from this server's perspective; any inbound message is drained and
// discarded so a misbehaving client can't block the read loop forever.
func (h *hub) serve(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "error", err)
		return
	}

	h.mu.Lock()
	h.clients[conn] = struct{}{}
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.clients, conn)
		h.mu.Unlock()
		conn.Close()
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// broadcast is an events.Handler pushing every Bus event to every connected
// client. A client whose write fails is dropped rather than retried.
func (h *hub) broadcast(event events.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for conn := range h.clients {
		if err := conn.WriteJSON(event); err != nil {
			h.log.Warn("websocket broadcast failed, dropping client", "error", err)
			conn.Close()
			delete(h.clients, conn)
		}
	}
}
