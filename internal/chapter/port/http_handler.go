package port

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/aelexs/nextchapter/internal/auth"
	"github.com/aelexs/nextchapter/internal/chapter/app"
	"github.com/aelexs/nextchapter/internal/domain"
	"github.com/aelexs/nextchapter/internal/errmap"
	"github.com/aelexs/nextchapter/internal/observability"
	"github.com/aelexs/nextchapter/internal/realtime"
)

// maxBodyBytes bounds request bodies. The largest legitimate body is a note.
const maxBodyBytes = 2 * domain.MaxNoteSize

// timeline is the consumer-defined view of *app.Timeline.
type timeline interface {
	Now(mode app.Mode) domain.TimeBreakdown
	Run(ctx context.Context, mode app.Mode, publish func(domain.TimeBreakdown) error) error
}

// notesService is the consumer-defined view of *app.NotesService.
type notesService interface {
	Subscribe(ctx context.Context) (*realtime.Subscription, error)
	List(ctx context.Context) ([]app.Note, error)
	Decode(snap realtime.Snapshot) []app.Note
	Add(ctx context.Context, content string, author domain.Author) (string, error)
	Edit(ctx context.Context, id, content string) error
	Delete(ctx context.Context, id string) error
}

// bucketService is the consumer-defined view of *app.BucketService.
type bucketService interface {
	Subscribe(ctx context.Context) (*realtime.Subscription, error)
	List(ctx context.Context) ([]app.BucketItem, error)
	Decode(snap realtime.Snapshot) []app.BucketItem
	Add(ctx context.Context, content string) (string, error)
	Edit(ctx context.Context, id, content string) error
	Delete(ctx context.Context, id string) error
	Toggle(ctx context.Context, id string, confirm bool) (bool, error)
}

// securityService is the consumer-defined view of *app.SecurityService.
type securityService interface {
	VerifyPIN(ctx context.Context, pin, client string) (auth.Session, error)
	ChangePIN(ctx context.Context, current, next, confirm, client string) error
	Authorize(token string) (*auth.Claims, error)
}

var (
	_ timeline        = (*app.Timeline)(nil)
	_ notesService    = (*app.NotesService)(nil)
	_ bucketService   = (*app.BucketService)(nil)
	_ securityService = (*app.SecurityService)(nil)
)

// HandlerConfig holds the dependencies for Handler.
type HandlerConfig struct {
	Timeline *app.Timeline
	Notes    *app.NotesService
	Bucket   *app.BucketService
	Security *app.SecurityService
	Clock    domain.Clock
	Logger   *slog.Logger

	// TrustedProxyHops is the number of reverse proxies in front of the
	// server. Zero ignores X-Forwarded-For entirely.
	TrustedProxyHops int
}

// Handler serves the REST API and the WebSocket streams.
type Handler struct {
	timeline timeline
	notes    notesService
	bucket   bucketService
	security securityService
	clock    domain.Clock
	logger   *slog.Logger
	hops     int
}

// NewHandler creates a Handler.
func NewHandler(cfg HandlerConfig) *Handler {
	return &Handler{
		timeline: cfg.Timeline,
		notes:    cfg.Notes,
		bucket:   cfg.Bucket,
		security: cfg.Security,
		clock:    cfg.Clock,
		logger:   cfg.Logger,
		hops:     cfg.TrustedProxyHops,
	}
}

// Register mounts every route on r.
func (h *Handler) Register(r *mux.Router) {
	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/countdown", h.getBreakdown(app.ModeCountdown)).Methods(http.MethodGet)
	api.HandleFunc("/together", h.getBreakdown(app.ModeTogether)).Methods(http.MethodGet)
	api.HandleFunc("/navigation", h.navigate).Methods(http.MethodPost)
	api.HandleFunc("/pin/verify", h.verifyPIN).Methods(http.MethodPost)
	api.HandleFunc("/pin/change", h.changePIN).Methods(http.MethodPost)

	boards := api.NewRoute().Subrouter()
	boards.Use(h.requireSession)
	boards.HandleFunc("/notes", h.listNotes).Methods(http.MethodGet)
	boards.HandleFunc("/notes", h.addNote).Methods(http.MethodPost)
	boards.HandleFunc("/notes/{id}", h.editNote).Methods(http.MethodPatch)
	boards.HandleFunc("/notes/{id}", h.deleteNote).Methods(http.MethodDelete)
	boards.HandleFunc("/bucket", h.listBucket).Methods(http.MethodGet)
	boards.HandleFunc("/bucket", h.addBucketItem).Methods(http.MethodPost)
	boards.HandleFunc("/bucket/{id}", h.editBucketItem).Methods(http.MethodPatch)
	boards.HandleFunc("/bucket/{id}", h.deleteBucketItem).Methods(http.MethodDelete)
	boards.HandleFunc("/bucket/{id}/toggle", h.toggleBucketItem).Methods(http.MethodPost)

	ws := r.PathPrefix("/ws").Subrouter()
	ws.HandleFunc("/countdown", h.streamTimeline).Methods(http.MethodGet)
	ws.HandleFunc("/notes", h.streamNotes).Methods(http.MethodGet)
	ws.HandleFunc("/bucket", h.streamBucket).Methods(http.MethodGet)
}

// --- Timeline ---

func (h *Handler) getBreakdown(mode app.Mode) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		h.writeJSON(w, http.StatusOK, h.timeline.Now(mode))
	}
}

// --- Navigation ---

// Navigation actions besides plain page changes.
const (
	actionPinSucceeded  = "pin_succeeded"
	actionClosePinModal = "close_pin_modal"
)

type navigationRequest struct {
	State  *domain.AppState `json:"state"`
	Page   domain.Page      `json:"page,omitempty"`
	Action string           `json:"action,omitempty"`
}

// navigate applies one state transition. pin_succeeded must carry the
// session token from /pin/verify, so the gate cannot be skipped client-side.
func (h *Handler) navigate(w http.ResponseWriter, r *http.Request) {
	var req navigationRequest
	if err := h.decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	state := domain.InitialState()
	if req.State != nil {
		state = *req.State
	}
	// A claimed verification only counts with a live session token.
	if state.PinVerified {
		if _, err := h.security.Authorize(bearerToken(r)); err != nil {
			state.PinVerified = false
		}
	}

	var err error
	switch req.Action {
	case "":
		state, err = domain.Navigate(state, req.Page)
	case actionPinSucceeded:
		if _, err = h.security.Authorize(bearerToken(r)); err == nil {
			state = domain.PinSucceeded(state)
		}
	case actionClosePinModal:
		state = domain.ClosePinModal(state)
	default:
		err = fmt.Errorf("unknown navigation action %q: %w", req.Action, domain.ErrInvalidInput)
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, state)
}

// --- PIN gate ---

type verifyPINRequest struct {
	PIN string `json:"pin"`
}

type sessionResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (h *Handler) verifyPIN(w http.ResponseWriter, r *http.Request) {
	var req verifyPINRequest
	if err := h.decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	session, err := h.security.VerifyPIN(r.Context(), req.PIN, clientIP(r, h.hops))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, sessionResponse{Token: session.Token, ExpiresAt: session.ExpiresAt})
}

type changePINRequest struct {
	CurrentPIN string `json:"current_pin"`
	NewPIN     string `json:"new_pin"`
	ConfirmPIN string `json:"confirm_pin"`
}

func (h *Handler) changePIN(w http.ResponseWriter, r *http.Request) {
	var req changePINRequest
	if err := h.decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.security.ChangePIN(r.Context(), req.CurrentPIN, req.NewPIN, req.ConfirmPIN, clientIP(r, h.hops)); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// requireSession rejects requests without a valid session token.
func (h *Handler) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := h.security.Authorize(bearerToken(r)); err != nil {
			h.writeError(w, r, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// --- Notes ---

type noteRequest struct {
	Content string        `json:"content"`
	Author  domain.Author `json:"author,omitempty"`
}

type createdResponse struct {
	ID string `json:"id"`
}

func (h *Handler) listNotes(w http.ResponseWriter, r *http.Request) {
	notes, err := h.notes.List(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string][]app.Note{"notes": notes})
}

func (h *Handler) addNote(w http.ResponseWriter, r *http.Request) {
	var req noteRequest
	if err := h.decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	id, err := h.notes.Add(r.Context(), req.Content, req.Author)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, createdResponse{ID: id})
}

func (h *Handler) editNote(w http.ResponseWriter, r *http.Request) {
	var req noteRequest
	if err := h.decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.notes.Edit(r.Context(), mux.Vars(r)["id"], req.Content); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) deleteNote(w http.ResponseWriter, r *http.Request) {
	if err := h.notes.Delete(r.Context(), mux.Vars(r)["id"]); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Bucket list ---

type bucketItemRequest struct {
	Content string `json:"content"`
}

type toggleRequest struct {
	Confirm bool `json:"confirm"`
}

type toggleResponse struct {
	Completed bool `json:"completed"`
}

func (h *Handler) listBucket(w http.ResponseWriter, r *http.Request) {
	items, err := h.bucket.List(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string][]app.BucketItem{"items": items})
}

func (h *Handler) addBucketItem(w http.ResponseWriter, r *http.Request) {
	var req bucketItemRequest
	if err := h.decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	id, err := h.bucket.Add(r.Context(), req.Content)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, createdResponse{ID: id})
}

func (h *Handler) editBucketItem(w http.ResponseWriter, r *http.Request) {
	var req bucketItemRequest
	if err := h.decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.bucket.Edit(r.Context(), mux.Vars(r)["id"], req.Content); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) deleteBucketItem(w http.ResponseWriter, r *http.Request) {
	if err := h.bucket.Delete(r.Context(), mux.Vars(r)["id"]); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// toggleBucketItem accepts an empty body, which means confirm=false.
func (h *Handler) toggleBucketItem(w http.ResponseWriter, r *http.Request) {
	var req toggleRequest
	if r.ContentLength != 0 {
		if err := h.decode(w, r, &req); err != nil {
			h.writeError(w, r, err)
			return
		}
	}
	completed, err := h.bucket.Toggle(r.Context(), mux.Vars(r)["id"], req.Confirm)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toggleResponse{Completed: completed})
}

// --- Helpers ---

// decode reads a bounded JSON body into v. Malformed bodies are invalid input.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return fmt.Errorf("request body over %d bytes: %w", tooLarge.Limit, domain.ErrContentTooLarge)
		}
		return fmt.Errorf("decode request body: %w", domain.ErrInvalidInput)
	}
	return nil
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log().Warn("write response failed", slog.String("error", err.Error()))
	}
}

// writeError maps err to its HTTP form. Unmapped errors are logged; their
// detail never reaches the client.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	httpErr := errmap.ToHTTPError(err)
	if httpErr.StatusCode >= http.StatusInternalServerError {
		observability.WithTraceID(r.Context(), h.log()).ErrorContext(r.Context(), "request failed",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
	}
	h.writeJSON(w, httpErr.StatusCode, httpErr)
}

func (h *Handler) log() *slog.Logger {
	if h.logger == nil {
		return slog.Default()
	}
	return h.logger
}

// bearerToken extracts the token from "Authorization: Bearer <token>".
func bearerToken(r *http.Request) string {
	const prefix = "Bearer "
	v := r.Header.Get("Authorization")
	if strings.HasPrefix(v, prefix) {
		return v[len(prefix):]
	}
	return ""
}

// clientIP identifies the caller for PIN attempt limiting. Each trusted
// proxy appends the address it saw to X-Forwarded-For, so with hops proxies
// the client is the entry hops places from the right. Entries further left
// are caller supplied and never used.
func clientIP(r *http.Request, hops int) string {
	if hops > 0 {
		if xff := r.Header.Values("X-Forwarded-For"); len(xff) > 0 {
			entries := strings.Split(strings.Join(xff, ","), ",")
			if len(entries) >= hops {
				if ip := strings.TrimSpace(entries[len(entries)-hops]); ip != "" {
					return ip
				}
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
