package httpadapter

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/kirillkom/multimodal-rag/internal/config"
	"github.com/kirillkom/multimodal-rag/internal/core/domain"
	"github.com/kirillkom/multimodal-rag/internal/core/ports"
	"github.com/kirillkom/multimodal-rag/internal/core/usecase"
	"github.com/kirillkom/multimodal-rag/internal/observability/metrics"
)

const maxRequestBodyBytes = 1 << 20

type Router struct {
	cfg      config.Config
	chats    ports.ChatService
	contexts ports.ContextRetriever
	metrics  *metrics.HTTPServerMetrics
}

func NewRouter(
	cfg config.Config,
	chats ports.ChatService,
	contexts ports.ContextRetriever,
	httpMetrics *metrics.HTTPServerMetrics,
) *Router {
	return &Router{
		cfg:      cfg,
		chats:    chats,
		contexts: contexts,
		metrics:  httpMetrics,
	}
}

func (rt *Router) Handler() http.Handler {
	r := chi.NewRouter()
	if rt.metrics != nil {
		r.Use(rt.metrics.Middleware)
	}
	r.Use(func(next http.Handler) http.Handler {
		return rateLimitMiddleware(next, rt.cfg.APIRateLimitRPS, rt.cfg.APIRateLimitBurst)
	})
	r.Use(func(next http.Handler) http.Handler {
		return backpressureMiddleware(next, rt.cfg.APIMaxInFlight, rt.cfg.APIQueueTimeout)
	})

	r.Get("/healthz", rt.healthz)
	if rt.metrics != nil {
		r.Method(http.MethodGet, "/metrics", rt.metrics.Handler())
	}

	r.Route("/api", func(api chi.Router) {
		api.Use(authMiddleware(rt.cfg.AuthJWTSecret))

		api.Post("/chat/create", rt.createChat)
		api.Delete("/chat/delete/{chatID}", rt.deleteChat)
		api.Get("/chat/{chatID}", rt.getChat)
		api.Post("/chat/{projectID}/chats/{chatID}/messages/create", rt.createMessage)
		api.Post("/chat/{projectID}/chats/{chatID}/messages/stream", rt.streamMessage)

		api.Post("/projects/{projectID}/retrieve", rt.retrieve)
	})

	return requestIDMiddleware(accessLogMiddleware(r))
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (rt *Router) createChat(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title     string `json:"title"`
		ProjectID string `json:"project_id"`
	}
	if err := decodeJSONBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	chat, err := rt.chats.CreateChat(r.Context(), userIDFromContext(r.Context()), req.ProjectID, req.Title)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, envelope("Chat created successfully", chat))
}

func (rt *Router) deleteChat(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "chatID")
	if err := rt.chats.DeleteChat(r.Context(), userIDFromContext(r.Context()), chatID); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope("Chat deleted successfully", map[string]string{"id": chatID}))
}

func (rt *Router) getChat(w http.ResponseWriter, r *http.Request) {
	chat, err := rt.chats.GetChat(r.Context(), userIDFromContext(r.Context()), chi.URLParam(r, "chatID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope("Chat retrieved successfully", chat))
}

func (rt *Router) createMessage(w http.ResponseWriter, r *http.Request) {
	req, err := rt.messageRequest(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	turn, err := rt.chats.SendMessage(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, envelope("Message created successfully", turn))
}

func (rt *Router) streamMessage(w http.ResponseWriter, r *http.Request) {
	req, err := rt.messageRequest(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	sse, err := newSSEWriter(w)
	if err != nil {
		writeError(w, r, err)
		return
	}

	err = rt.chats.StreamMessage(r.Context(), req, sse.WriteEvent)
	if err == nil {
		return
	}
	if !sse.Started() {
		writeError(w, r, err)
		return
	}
	// The terminal event is already on the wire.
	slog.WarnContext(r.Context(), "stream_ended_with_error",
		"request_id", requestIDFromContext(r.Context()),
		"chat_id", req.ChatID,
		"error", err.Error(),
	)
}

func (rt *Router) retrieve(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Query string `json:"query"`
	}
	if err := decodeJSONBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, r, domain.WrapError(domain.ErrInvalidInput, "retrieve", errors.New("query is required")))
		return
	}

	assembled, result, err := rt.contexts.RetrieveContext(r.Context(), chi.URLParam(r, "projectID"), req.Query)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope("Context retrieved successfully", map[string]any{
		"context":     usecase.FormatContext(assembled),
		"assembled":   assembled,
		"diagnostics": result,
	}))
}

func (rt *Router) messageRequest(r *http.Request) (domain.SendMessageRequest, error) {
	var req domain.SendMessageRequest
	if err := decodeJSONBody(r, &req); err != nil {
		return domain.SendMessageRequest{}, err
	}
	req.UserID = userIDFromContext(r.Context())
	req.ProjectID = chi.URLParam(r, "projectID")
	req.ChatID = chi.URLParam(r, "chatID")
	return req, nil
}

func decodeJSONBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBodyBytes))
	if err := dec.Decode(dst); err != nil {
		return domain.WrapError(domain.ErrInvalidInput, "decode request body", fmt.Errorf("invalid json: %w", err))
	}
	return nil
}

func envelope(message string, data any) map[string]any {
	return map[string]any{"message": message, "data": data}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
