package mockd

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/renjiyun06/mosaic-sub001/internal/client"
	"github.com/renjiyun06/mosaic-sub001/internal/wire"
)

// confirmDelay is how long after a session command the daemon emits the
// corresponding notification. Nonzero on purpose: consoles must survive
// the confirmation arriving after the REST response.
const confirmDelay = 50 * time.Millisecond

// Server exposes the mock daemon's REST API and websocket endpoint.
type Server struct {
	store         *Store
	hub           *Hub
	shell         *Shell
	workspaceRoot string
	authToken     string
	log           zerolog.Logger
}

// NewServer creates a server over the given state. workspaceRoot is the
// directory served through the workspace endpoints.
func NewServer(store *Store, hub *Hub, shell *Shell, workspaceRoot, authToken string, log zerolog.Logger) *Server {
	return &Server{
		store:         store,
		hub:           hub,
		shell:         shell,
		workspaceRoot: workspaceRoot,
		authToken:     authToken,
		log:           log,
	}
}

// SetupRoutes registers all handlers on mux.
func (s *Server) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/api/mosaics", s.handleMosaics)
	mux.HandleFunc("/api/mosaics/", s.handleMosaicRoutes)
	mux.HandleFunc("/api/nodes/", s.handleNodeRoutes)
	mux.HandleFunc("/api/connections/", s.handleConnectionRoutes)
	mux.HandleFunc("/api/sessions/", s.handleSessionRoutes)
	mux.HandleFunc("/api/workspace/dir", s.handleWorkspaceDir)
	mux.HandleFunc("/api/workspace/file", s.handleWorkspaceFile)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("ws upgrade failed")
		return
	}

	s.log.Info().Str("remote", r.RemoteAddr).Msg("console connected")
	c := s.hub.addClient(conn)

	// Nudge the new console into an immediate refresh so it never waits
	// for the next organic notification to see current state.
	if data, err := json.Marshal(wire.Notification("", wire.MsgTopicUpdated,
		map[string]string{})); err == nil {
		select {
		case c.send <- data:
		default:
		}
	}

	go func() {
		defer func() {
			s.hub.removeClient(c)
			s.log.Info().Str("remote", r.RemoteAddr).Msg("console disconnected")
		}()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			env, err := wire.Parse(data)
			if err != nil {
				s.log.Warn().Err(err).Msg("dropping unparseable frame")
				continue
			}
			if env.Type == "auth" {
				continue
			}
			s.shell.Handle(env)
		}
	}()
}

func (s *Server) handleMosaics(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "GET only")
		return
	}
	writeJSON(w, s.store.Mosaics())
}

// handleMosaicRoutes parses /api/mosaics/{id}/nodes and
// /api/mosaics/{id}/connections.
func (s *Server) handleMosaicRoutes(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	path := strings.TrimPrefix(r.URL.Path, "/api/mosaics/")
	parts := strings.SplitN(path, "/", 2)
	if len(parts) != 2 {
		writeError(w, http.StatusNotFound, "not_found", "unknown route")
		return
	}
	mosaicID, err := url.PathUnescape(parts[0])
	if err != nil || !s.store.HasMosaic(mosaicID) {
		writeError(w, http.StatusNotFound, "mosaic_not_found", "no such mosaic")
		return
	}

	switch parts[1] {
	case "nodes":
		s.handleNodes(w, r, mosaicID)
	case "connections":
		s.handleConnections(w, r, mosaicID)
	default:
		writeError(w, http.StatusNotFound, "not_found", "unknown route")
	}
}

func (s *Server) handleNodes(w http.ResponseWriter, r *http.Request, mosaicID string) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, s.store.Nodes(mosaicID))
	case http.MethodPost:
		var req client.NodeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", "invalid node body")
			return
		}
		if req.Name == "" {
			writeError(w, http.StatusUnprocessableEntity, "name_required", "node name is required")
			return
		}
		writeJSON(w, s.store.CreateNode(mosaicID, req))
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "GET or POST")
	}
}

func (s *Server) handleConnections(w http.ResponseWriter, r *http.Request, mosaicID string) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, s.store.Connections(mosaicID))
	case http.MethodPost:
		var req client.ConnectionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", "invalid connection body")
			return
		}
		conn, ok := s.store.CreateConnection(mosaicID, req)
		if !ok {
			writeError(w, http.StatusUnprocessableEntity, "endpoint_missing", "source or target node does not exist")
			return
		}
		s.notifyTopicUpdated(mosaicID)
		writeJSON(w, conn)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "GET or POST")
	}
}

// handleConnectionRoutes parses /api/connections/{id}.
func (s *Server) handleConnectionRoutes(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if r.Method != http.MethodDelete {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "DELETE only")
		return
	}
	connectionID, err := url.PathUnescape(strings.TrimPrefix(r.URL.Path, "/api/connections/"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid connection id")
		return
	}
	conn, ok := s.store.DeleteConnection(connectionID)
	if !ok {
		writeError(w, http.StatusNotFound, "connection_not_found", "no such connection")
		return
	}
	w.WriteHeader(http.StatusNoContent)
	s.notifyTopicUpdated(conn.MosaicID)
}

// handleNodeRoutes parses /api/nodes/{id}, /api/nodes/{id}/counts, and
// /api/nodes/{id}/sessions.
func (s *Server) handleNodeRoutes(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	path := strings.TrimPrefix(r.URL.Path, "/api/nodes/")
	parts := strings.SplitN(path, "/", 2)
	nodeID, err := url.PathUnescape(parts[0])
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid node id")
		return
	}

	if len(parts) == 1 {
		s.handleNode(w, r, nodeID)
		return
	}
	switch parts[1] {
	case "counts":
		if _, ok := s.store.Node(nodeID); !ok {
			writeError(w, http.StatusNotFound, "node_not_found", "no such node")
			return
		}
		writeJSON(w, s.store.Counts(nodeID))
	case "sessions":
		s.handleCreateSession(w, r, nodeID)
	default:
		writeError(w, http.StatusNotFound, "not_found", "unknown route")
	}
}

func (s *Server) handleNode(w http.ResponseWriter, r *http.Request, nodeID string) {
	switch r.Method {
	case http.MethodPut:
		var req client.NodeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", "invalid node body")
			return
		}
		n, ok := s.store.UpdateNode(nodeID, req)
		if !ok {
			writeError(w, http.StatusNotFound, "node_not_found", "no such node")
			return
		}
		writeJSON(w, n)
	case http.MethodDelete:
		busy, ok := s.store.DeleteNode(nodeID)
		if busy {
			writeError(w, http.StatusConflict, "node_busy", "node has active sessions")
			return
		}
		if !ok {
			writeError(w, http.StatusNotFound, "node_not_found", "no such node")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "PUT or DELETE")
	}
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request, nodeID string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "POST only")
		return
	}
	sess, ok := s.store.CreateSession(nodeID)
	if !ok {
		writeError(w, http.StatusUnprocessableEntity, "not_sessionable", "node cannot host sessions")
		return
	}
	writeJSON(w, client.CreateSessionResponse{SessionID: sess.ID})

	time.AfterFunc(confirmDelay, func() {
		s.hub.Broadcast(wire.Notification(sess.ID, wire.MsgSessionStarted,
			wire.SessionPayload{SessionID: sess.ID, NodeID: sess.NodeID}))
	})
}

// handleSessionRoutes parses /api/sessions/{id}.
func (s *Server) handleSessionRoutes(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if r.Method != http.MethodDelete {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "DELETE only")
		return
	}
	sessionID, err := url.PathUnescape(strings.TrimPrefix(r.URL.Path, "/api/sessions/"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid session id")
		return
	}
	sess, ok := s.store.EndSession(sessionID)
	if !ok {
		writeError(w, http.StatusNotFound, "session_not_found", "no such session")
		return
	}
	w.WriteHeader(http.StatusNoContent)

	time.AfterFunc(confirmDelay, func() {
		s.hub.Broadcast(wire.Notification(sess.ID, wire.MsgSessionEnded,
			wire.SessionPayload{SessionID: sess.ID, NodeID: sess.NodeID}))
	})
}

func (s *Server) handleWorkspaceDir(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	rel, full, ok := s.workspacePath(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "bad_path", "path escapes workspace")
		return
	}
	entries, err := os.ReadDir(full)
	if err != nil {
		writeError(w, http.StatusNotFound, "dir_not_found", err.Error())
		return
	}
	out := make([]client.DirEntry, 0, len(entries))
	for _, e := range entries {
		item := client.DirEntry{
			Name:  e.Name(),
			Path:  filepath.Join(rel, e.Name()),
			IsDir: e.IsDir(),
		}
		if info, err := e.Info(); err == nil && !e.IsDir() {
			item.Size = info.Size()
		}
		out = append(out, item)
	}
	writeJSON(w, out)
}

func (s *Server) handleWorkspaceFile(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	_, full, ok := s.workspacePath(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "bad_path", "path escapes workspace")
		return
	}
	data, err := os.ReadFile(full)
	if err != nil {
		writeError(w, http.StatusNotFound, "file_not_found", err.Error())
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write(data)
}

// workspacePath resolves the request's path parameter inside the workspace
// root, refusing traversal outside it.
func (s *Server) workspacePath(r *http.Request) (rel, full string, ok bool) {
	rel = filepath.Clean("/" + r.URL.Query().Get("path"))
	full = filepath.Join(s.workspaceRoot, rel)
	if full != s.workspaceRoot && !strings.HasPrefix(full, s.workspaceRoot+string(filepath.Separator)) {
		return "", "", false
	}
	return rel, full, true
}

func (s *Server) notifyTopicUpdated(mosaicID string) {
	s.hub.Broadcast(wire.Notification("", wire.MsgTopicUpdated,
		map[string]string{"mosaic_id": mosaicID}))
}

func (s *Server) authorize(r *http.Request) bool {
	if s.authToken == "" {
		return true
	}
	if r.URL.Query().Get("token") == s.authToken {
		return true
	}
	auth := r.Header.Get("Authorization")
	return strings.HasPrefix(auth, "Bearer ") && strings.TrimPrefix(auth, "Bearer ") == s.authToken
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"code": code, "message": message})
}

// ListenAndServe starts the daemon on host:port.
func ListenAndServe(host string, port int, mux *http.ServeMux, log zerolog.Logger) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	log.Info().Str("addr", addr).Msg("mock daemon listening")
	return http.ListenAndServe(addr, mux)
}
