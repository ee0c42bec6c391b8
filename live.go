// Copyright 2024 by Oliver Sauer
// Use of this source code is governed by a MIT-style license that can be found in the LICENSE file.

package mediadrop

import (
	"net/http"

	"github.com/gorilla/websocket"
)

// ListingMessage is sent to live listing clients.
type ListingMessage struct {
	Type  string       `json:"type"`
	Files []MediaEntry `json:"files"`
}

const listingMessageType = "listing"

// serveLiveListing upgrades to a websocket, sends the current listing and answers every
// client text message with a fresh listing. Nothing polls the directory: the client asks.
func (srv *Server) serveLiveListing(w http.ResponseWriter, r *http.Request) error {
	conn, err := srv.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// the upgrader already replied to the client
		logger.Debug("WebSocket upgrade failed", "error", err)
		return nil
	}
	defer conn.Close()

	ctx := r.Context()
	send := func() error {
		return conn.WriteJSON(ListingMessage{Type: listingMessageType, Files: srv.lister.List(ctx)})
	}
	// the connection is hijacked, so failures can only be logged
	if err := send(); err != nil {
		logger.Warn("Live listing write failed", "error", err)
		return nil
	}

	for {
		msgType, _, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn("Live listing connection closed", "error", err)
			}
			return nil
		}
		if msgType != websocket.TextMessage {
			continue
		}
		if err := send(); err != nil {
			logger.Warn("Live listing write failed", "error", err)
			return nil
		}
	}
}
