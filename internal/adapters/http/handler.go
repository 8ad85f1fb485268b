package httpadapter

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/PabloGalante/persona-chat/internal/app/conversation"
	"github.com/PabloGalante/persona-chat/internal/domain"
	"github.com/PabloGalante/persona-chat/internal/observability"
)

// ControllerFactory builds an unmounted controller for a bearer token.
type ControllerFactory func(token string, persona domain.Persona, mode domain.Mode) *conversation.Controller

// PersonaLookup resolves a persona id to its definition.
type PersonaLookup func(id domain.PersonaID) (domain.Persona, bool)

type Server struct {
	newController ControllerFactory
	personas      PersonaLookup
	handler       http.Handler

	mu       sync.Mutex
	sessions map[string]*session
}

// session is one mounted controller, reachable only with the token it was opened with.
type session struct {
	token string
	ctrl  *conversation.Controller
}

func NewServer(newController ControllerFactory, personas PersonaLookup) *Server {
	s := &Server{
		newController: newController,
		personas:      personas,
		sessions:      make(map[string]*session),
	}
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", s.handleHealthz)

	// /sessions → open session (POST)
	mux.HandleFunc("/sessions", s.handleSessions)

	// /sessions/{id}                    → GET: snapshot, DELETE: close
	// /sessions/{id}/messages           → POST: send one turn
	// /sessions/{id}/mode               → POST: switch mode
	// /sessions/{id}/conversations      → POST: select conversation
	// /sessions/{id}/conversations/new  → POST: start new conversation
	// /sessions/{id}/persona            → POST: change persona
	mux.HandleFunc("/sessions/", s.handleSessionWithID)

	s.handler = chainMiddlewares(mux, withCORS, withLogging, withRequestID)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Close closes every open session.
func (s *Server) Close() {
	s.mu.Lock()
	sessions := s.sessions
	s.sessions = make(map[string]*session)
	s.mu.Unlock()

	for _, sess := range sessions {
		sess.ctrl.Close()
	}
}

// ─────────────────────────────────────────────
// DTOs (request/response)
// ─────────────────────────────────────────────

type openSessionRequest struct {
	PersonaID string `json:"persona_id"`
	Mode      string `json:"mode,omitempty"`
}

type openSessionResponse struct {
	SessionID string           `json:"session_id"`
	Snapshot  snapshotResponse `json:"snapshot"`
}

type sendMessageRequest struct {
	Text string `json:"text"`
}

type sendMessageResponse struct {
	ConversationID string           `json:"conversation_id,omitempty"`
	BillingError   string           `json:"billing_error,omitempty"`
	Stale          bool             `json:"stale,omitempty"`
	Snapshot       snapshotResponse `json:"snapshot"`
}

type modeRequest struct {
	Mode string `json:"mode"`
}

type selectRequest struct {
	ConversationID string `json:"conversation_id"`
}

type personaRequest struct {
	PersonaID string `json:"persona_id"`
}

type snapshotResponse struct {
	Authorized     bool              `json:"authorized"`
	UserID         string            `json:"user_id,omitempty"`
	Mode           string            `json:"mode"`
	ConversationID string            `json:"conversation_id,omitempty"`
	PersonaID      string            `json:"persona_id"`
	Messages       []messageResponse `json:"messages"`
	Draft          string            `json:"draft,omitempty"`
	Notice         *noticeResponse   `json:"notice,omitempty"`
	TurnInFlight   bool              `json:"turn_in_flight"`
	Generation     uint64            `json:"generation"`
}

type messageResponse struct {
	ID             string    `json:"id"`
	Persisted      bool      `json:"persisted"`
	ConversationID string    `json:"conversation_id,omitempty"`
	Author         string    `json:"author"`
	Text           string    `json:"text"`
	CreatedAt      time.Time `json:"created_at"`
}

type noticeResponse struct {
	Kind string `json:"kind"`
	Text string `json:"text"`
}

type errorResponse struct {
	Error  string `json:"error"`
	Notice string `json:"notice,omitempty"`
}

// ─────────────────────────────────────────────
// Basic routing
// ─────────────────────────────────────────────

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// /sessions
func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleOpenSession(w, r)
	default:
		methodNotAllowed(w)
	}
}

// /sessions/{id}[/...]
func (s *Server) handleSessionWithID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/sessions/")
	parts := strings.Split(path, "/")
	id := parts[0]
	if id == "" {
		http.NotFound(w, r)
		return
	}

	sess, ok := s.lookup(r, id)
	if !ok {
		notFound(w, "session not found")
		return
	}

	switch {
	case len(parts) == 1 && r.Method == http.MethodGet:
		writeJSON(w, http.StatusOK, toSnapshotResponse(sess.ctrl.Snapshot()))
	case len(parts) == 1 && r.Method == http.MethodDelete:
		s.handleCloseSession(w, r, id)
	case len(parts) == 2 && parts[1] == "messages" && r.Method == http.MethodPost:
		s.handleSendMessage(w, r, sess)
	case len(parts) == 2 && parts[1] == "mode" && r.Method == http.MethodPost:
		s.handleMode(w, r, sess)
	case len(parts) == 2 && parts[1] == "conversations" && r.Method == http.MethodPost:
		s.handleSelect(w, r, sess)
	case len(parts) == 3 && parts[1] == "conversations" && parts[2] == "new" && r.Method == http.MethodPost:
		s.respond(w, r, sess, sess.ctrl.StartNewConversation(r.Context()))
	case len(parts) == 2 && parts[1] == "persona" && r.Method == http.MethodPost:
		s.handlePersona(w, r, sess)
	default:
		http.NotFound(w, r)
	}

	// A session whose token stopped resolving is over; the client has to open a new one.
	if !sess.ctrl.Snapshot().Authorized {
		s.evict(r, id, sess)
	}
}

// lookup finds a session by id. A token mismatch looks the same as a missing session.
func (s *Server) lookup(r *http.Request, id string) (*session, bool) {
	token := bearerToken(r)
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok || token == "" || sess.token != token {
		return nil, false
	}
	return sess, true
}

// evict drops sess if it is still registered under id and closes its controller.
func (s *Server) evict(r *http.Request, id string, sess *session) {
	s.mu.Lock()
	current, ok := s.sessions[id]
	if !ok || current != sess {
		s.mu.Unlock()
		return
	}
	delete(s.sessions, id)
	s.mu.Unlock()

	sess.ctrl.Close()
	observability.LoggerFromContext(r.Context()).Info("session evicted, token no longer valid",
		zap.String("session_id", id))
}

// ─────────────────────────────────────────────
// Concrete handlers
// ─────────────────────────────────────────────

func (s *Server) handleOpenSession(w http.ResponseWriter, r *http.Request) {
	log := observability.LoggerFromContext(r.Context())

	token := bearerToken(r)
	if token == "" {
		writeError(w, domain.ErrAuthRequired)
		return
	}

	var req openSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid JSON body")
		return
	}
	if req.PersonaID == "" {
		badRequest(w, "persona_id is required")
		return
	}
	persona, ok := s.personas(domain.PersonaID(req.PersonaID))
	if !ok {
		notFound(w, "persona not found")
		return
	}
	mode, ok := domain.ParseMode(req.Mode)
	if !ok {
		badRequest(w, "mode must be public or private")
		return
	}

	ctrl := s.newController(token, persona, mode)
	if err := ctrl.Mount(r.Context()); err != nil {
		// The resolver or loader failing still leaves a usable session; auth does not.
		if errors.Is(err, domain.ErrAuthRequired) {
			ctrl.Close()
			writeError(w, err)
			return
		}
		log.Warn("session opened with a notice", zap.Error(err))
	}

	id := uuid.NewString()
	s.mu.Lock()
	s.sessions[id] = &session{token: token, ctrl: ctrl}
	s.mu.Unlock()

	log.Info("session opened", zap.String("session_id", id), zap.String("persona_id", req.PersonaID))
	writeJSON(w, http.StatusCreated, openSessionResponse{
		SessionID: id,
		Snapshot:  toSnapshotResponse(ctrl.Snapshot()),
	})
}

func (s *Server) handleCloseSession(w http.ResponseWriter, r *http.Request, id string) {
	s.mu.Lock()
	sess := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()

	if sess != nil {
		sess.ctrl.Close()
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request, sess *session) {
	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid JSON body")
		return
	}

	res, err := sess.ctrl.Send(r.Context(), req.Text)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := sendMessageResponse{
		ConversationID: string(res.ConversationID),
		Stale:          res.Stale,
		Snapshot:       toSnapshotResponse(sess.ctrl.Snapshot()),
	}
	if res.BillingErr != nil {
		resp.BillingError = domain.NoticeBillingFailed
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleMode(w http.ResponseWriter, r *http.Request, sess *session) {
	var req modeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid JSON body")
		return
	}
	mode, ok := domain.ParseMode(req.Mode)
	if !ok || req.Mode == "" {
		badRequest(w, "mode must be public or private")
		return
	}

	var err error
	if mode == domain.ModePrivate {
		err = sess.ctrl.SwitchToPrivate(r.Context())
	} else {
		err = sess.ctrl.SwitchToPublic(r.Context())
	}
	s.respond(w, r, sess, err)
}

func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request, sess *session) {
	var req selectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid JSON body")
		return
	}
	if req.ConversationID == "" {
		badRequest(w, "conversation_id is required")
		return
	}
	s.respond(w, r, sess, sess.ctrl.SelectConversation(r.Context(), domain.ConversationID(req.ConversationID)))
}

func (s *Server) handlePersona(w http.ResponseWriter, r *http.Request, sess *session) {
	var req personaRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid JSON body")
		return
	}
	persona, ok := s.personas(domain.PersonaID(req.PersonaID))
	if !ok {
		notFound(w, "persona not found")
		return
	}
	s.respond(w, r, sess, sess.ctrl.SetPersona(r.Context(), persona))
}

// respond writes the session snapshot, or the error of the transition that produced it.
func (s *Server) respond(w http.ResponseWriter, r *http.Request, sess *session, err error) {
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSnapshotResponse(sess.ctrl.Snapshot()))
}

// ─────────────────────────────────────────────
// Conversation Helpers
// ─────────────────────────────────────────────

func toSnapshotResponse(s conversation.Snapshot) snapshotResponse {
	resp := snapshotResponse{
		Authorized:     s.Authorized,
		UserID:         string(s.UserID),
		Mode:           string(s.Mode),
		ConversationID: string(s.ConversationID),
		PersonaID:      string(s.Persona.ID),
		Messages:       make([]messageResponse, 0, len(s.Messages)),
		Draft:          s.Draft,
		TurnInFlight:   s.TurnInFlight,
		Generation:     s.Generation,
	}
	for _, m := range s.Messages {
		resp.Messages = append(resp.Messages, toMessageResponse(m))
	}
	if s.Notice != nil {
		resp.Notice = &noticeResponse{Kind: s.Notice.Kind.String(), Text: s.Notice.Text}
	}
	return resp
}

func toMessageResponse(m domain.Message) messageResponse {
	return messageResponse{
		ID:             string(m.Ref.ID()),
		Persisted:      m.Ref.IsPersisted(),
		ConversationID: string(m.ConversationID),
		Author:         string(m.Author),
		Text:           m.Text,
		CreatedAt:      m.CreatedAt,
	}
}

// ─────────────────────────────────────────────
// HTTP Helpers
// ─────────────────────────────────────────────

func bearerToken(r *http.Request) string {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return ""
	}
	return strings.TrimSpace(token)
}

func statusFor(kind domain.ErrorKind) int {
	switch kind {
	case domain.KindAuthRequired:
		return http.StatusUnauthorized
	case domain.KindUnauthorized:
		return http.StatusForbidden
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindInsufficientResource:
		return http.StatusPaymentRequired
	case domain.KindBusy, domain.KindStale:
		return http.StatusConflict
	case domain.KindInvalid:
		return http.StatusBadRequest
	case domain.KindResponder:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	kind := domain.KindOf(err)
	resp := errorResponse{Error: kind.String(), Notice: domain.NoticeFor(err).Text}
	if kind == domain.KindInvalid {
		resp.Error = err.Error()
	}
	writeJSON(w, statusFor(kind), resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: msg})
}

func notFound(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusNotFound, errorResponse{Error: msg})
}

func methodNotAllowed(w http.ResponseWriter) {
	writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"})
}
