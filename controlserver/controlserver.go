// Copyright 2024 The dtasm-go Authors
// This file is part of dtasm-go.
//
// dtasm-go is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// dtasm-go is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with dtasm-go. If not, see <http://www.gnu.org/licenses/>.

// Package controlserver is an HTTP+WS introspection server exposing a
// running instance's model description and a step-event stream — the
// same transport shape as a node's JSON-RPC/WS API, scaled down to this
// host's single-instance use case. It has no endpoint that reads current
// values on demand; real-valued outputs reach clients only inside step
// events.
package controlserver

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/rs/cors"

	"github.com/dtasm/dtasm-go/dtasm"
	"github.com/dtasm/dtasm-go/log"
	"github.com/dtasm/dtasm-go/runtime"
)

// StepEvent is broadcast to every connected websocket client after a
// successful do_step call.
type StepEvent struct {
	CurrentTime float64            `json:"currentTime"`
	Status      string             `json:"status"`
	Outputs     map[string]float64 `json:"outputs,omitempty"`
}

// Server serves introspection over HTTP and broadcasts StepEvents over
// websocket to every connected client.
type Server struct {
	instance *runtime.Instance

	upgrader websocket.Upgrader
	mu       sync.Mutex
	clients  map[*websocket.Conn]struct{}

	httpServer *http.Server
	log        log.Logger
}

// New builds a Server for inst, listening on addr once Serve is called.
func New(inst *runtime.Instance, addr string) *Server {
	s := &Server{
		instance: inst,
		upgrader: websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024},
		clients:  make(map[*websocket.Conn]struct{}),
		log:      log.New("component", "controlserver"),
	}

	router := httprouter.New()
	router.GET("/describe", s.handleDescribe)
	router.GET("/stream", s.handleStream)

	handler := cors.Default().Handler(router)
	s.httpServer = &http.Server{Addr: addr, Handler: handler}
	return s
}

// Serve blocks, running the HTTP server until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	errc := make(chan error, 1)
	go func() { errc <- s.httpServer.ListenAndServe() }()

	s.log.Info("control server listening", "addr", s.httpServer.Addr)
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errc:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

func (s *Server) handleDescribe(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	md, err := s.instance.GetModelDescription(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(md)
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "err", err)
		return
	}
	s.mu.Lock()
	s.clients[conn] = struct{}{}
	s.mu.Unlock()

	s.log.Debug("stream client connected", "remote", r.RemoteAddr)

	// Drain and discard incoming frames until the client disconnects;
	// this endpoint is broadcast-only.
	go func() {
		defer s.disconnect(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (s *Server) disconnect(conn *websocket.Conn) {
	s.mu.Lock()
	delete(s.clients, conn)
	s.mu.Unlock()
	conn.Close()
}

// Broadcast sends ev to every connected stream client, dropping any
// connection that fails to accept the write.
func (s *Server) Broadcast(ev StepEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		s.log.Error("failed to marshal step event", "err", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.clients {
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			go s.disconnect(conn)
		}
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if de, ok := err.(*dtasm.Error); ok {
		switch de.Kind {
		case dtasm.ErrUnknownVariableID, dtasm.ErrInvalidCallingOrder:
			status = http.StatusBadRequest
		}
	}
	http.Error(w, err.Error(), status)
}
