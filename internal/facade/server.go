// File: internal/facade/server.go
package facade

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/stallwire/stallwire/api/schemas"
	"github.com/stallwire/stallwire/internal/config"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Server exposes the facade's tools over HTTP. One endpoint per tool,
// invoked by POST with a JSON parameter object.
type Server struct {
	facade     *Facade
	cfg        *config.Config
	log        *zap.Logger
	httpServer *http.Server
}

// NewServer wires the HTTP surface over a facade.
func NewServer(f *Facade, cfg *config.Config, logger *zap.Logger) *Server {
	return &Server{
		facade: f,
		cfg:    cfg,
		log:    logger.Named("server"),
	}
}

// toolRequest is the generic parameter envelope every tool accepts.
type toolRequest struct {
	Keyword        string                `json:"keyword,omitempty"`
	Filters        schemas.SearchFilters `json:"filters,omitempty"`
	ConversationID string                `json:"conversation_id,omitempty"`
	Content        string                `json:"content,omitempty"`
	Limit          int                   `json:"limit,omitempty"`
	SendableOnly   bool                  `json:"sendable_only,omitempty"`
	ContextOnly    bool                  `json:"context_only,omitempty"`
	PrewarmContext bool                  `json:"prewarm_context,omitempty"`
	ItemID         string                `json:"item_id,omitempty"`
	ItemIDs        []string              `json:"item_ids,omitempty"`
	Title          string                `json:"title,omitempty"`
	Price          float64               `json:"price,omitempty"`
}

type errorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

type envelope struct {
	OK     bool        `json:"ok"`
	Result interface{} `json:"result,omitempty"`
	Error  *errorBody  `json:"error,omitempty"`
}

// Router builds the chi router for the tool endpoints.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()

	r.Use(requestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(2 * time.Minute))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/tools/{tool}", s.handleTool)
		r.Get("/status", s.handleStatus)
	})
	return r
}

// requestID stamps each request with a uuid for log correlation.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", id)
		next.ServeHTTP(w, r.WithContext(
			context.WithValue(r.Context(), chimw.RequestIDKey, id)))
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	s.respond(w, http.StatusOK, s.facade.CheckServerStatus())
}

func (s *Server) handleTool(w http.ResponseWriter, r *http.Request) {
	tool := strings.ToLower(chi.URLParam(r, "tool"))

	var req toolRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.respondError(w, http.StatusBadRequest, "bad_request", "invalid request body: "+err.Error())
			return
		}
	}

	s.log.Info("Tool invoked",
		zap.String("tool", tool),
		zap.String("request_id", chimw.GetReqID(r.Context())))

	ctx := r.Context()
	var (
		result interface{}
		err    error
	)
	switch tool {
	case "search_items":
		result, err = s.facade.SearchItems(ctx, req.Keyword, req.Filters)
	case "get_conversations":
		result, err = s.facade.GetConversations(ctx, req.SendableOnly, req.ContextOnly)
	case "get_sendable_conversations":
		result, err = s.facade.GetSendableConversations(ctx, req.PrewarmContext)
	case "get_messages":
		result, err = s.facade.GetMessages(ctx, req.ConversationID, req.Limit)
	case "send_message":
		result, err = s.facade.SendMessage(ctx, req.ConversationID, req.Content)
	case "get_unread_count":
		result, err = s.facade.GetUnreadCount(ctx)
	case "get_item_analytics":
		result, err = s.facade.GetItemAnalytics(ctx, req.ItemID)
	case "analyze_competitors":
		result, err = s.facade.AnalyzeCompetitors(ctx, req.ItemIDs)
	case "check_server_status":
		result = s.facade.CheckServerStatus()
	case "publish_item":
		result, err = s.facade.PublishItem(ctx, req.Title, req.Price)
	default:
		s.respondError(w, http.StatusNotFound, "unknown_tool", "unknown tool: "+tool)
		return
	}

	if err != nil {
		s.respondToolError(w, tool, err)
		return
	}
	s.respond(w, http.StatusOK, result)
}

func (s *Server) respondToolError(w http.ResponseWriter, tool string, err error) {
	kind := schemas.KindOf(err)
	status := http.StatusInternalServerError
	switch kind {
	case schemas.KindAuthRequired, schemas.KindSessionInvalidated:
		status = http.StatusUnauthorized
	case schemas.KindUnsendable, schemas.KindNotImplemented:
		status = http.StatusUnprocessableEntity
	case schemas.KindOperationTimedOut:
		status = http.StatusGatewayTimeout
	case schemas.KindTransientFetch, schemas.KindStorageUnavailable:
		status = http.StatusServiceUnavailable
	case "":
		status = http.StatusBadRequest
		kind = "bad_request"
	}
	s.log.Warn("Tool failed",
		zap.String("tool", tool),
		zap.String("kind", string(kind)),
		zap.Error(err))
	s.respondError(w, status, string(kind), err.Error())
}

func (s *Server) respond(w http.ResponseWriter, status int, result interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(envelope{OK: true, Result: result}); err != nil {
		s.log.Error("Failed to write response", zap.Error(err))
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, kind, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(envelope{
		OK:    false,
		Error: &errorBody{Kind: kind, Message: message},
	}); err != nil {
		s.log.Error("Failed to write response", zap.Error(err))
	}
}

// Serve blocks on the HTTP listener until the context is cancelled,
// then shuts down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:              s.cfg.Server.ListenAddr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpServer.ListenAndServe()
	}()
	s.log.Info("Tool server listening", zap.String("address", s.cfg.Server.ListenAddr))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return err
		}
		<-errCh
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
