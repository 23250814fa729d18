package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-logr/logr"
	"k8s.io/klog/v2"

	"github.com/samarth3282/trello-api/internal/auth"
	"github.com/samarth3282/trello-api/internal/authpw"
	"github.com/samarth3282/trello-api/internal/realtime"
)

type HTTPServer struct {
	service    *Service
	auth       *authpw.Service
	hub        *realtime.Hub
	corsOrigin string
	log        logr.Logger
}

func NewHTTPServer(service *Service, authSvc *authpw.Service, hub *realtime.Hub, corsOrigin string, log logr.Logger) *HTTPServer {
	if log.GetSink() == nil {
		log = logr.Discard()
	}
	return &HTTPServer{service: service, auth: authSvc, hub: hub, corsOrigin: corsOrigin, log: log}
}

func (s *HTTPServer) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   strings.Split(s.corsOrigin, ","),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: s.corsOrigin != "*",
		MaxAge:           300,
	}))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, CodeNotFound, "Route not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	})

	r.Get("/api/health", s.handleHealth)
	r.Get("/api/ready", s.handleReady)
	r.Handle("/metrics", s.service.MetricsHandler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/register", s.handleRegister)
		r.Post("/auth/login", s.handleLogin)
		r.Post("/auth/refresh", s.handleRefresh)
		r.Post("/auth/logout", s.handleLogout)
		r.Get("/ws", s.handleWebsocket)

		r.Group(func(r chi.Router) {
			r.Use(s.requireSession)

			r.Get("/auth/me", s.handleMe)

			r.Route("/projects", func(r chi.Router) {
				r.Get("/", s.handleListProjects)
				r.Post("/", s.handleCreateProject)
				r.Post("/accept-invite/{token}", s.handleAcceptInvite)
				r.Get("/{id}", s.handleGetProject)
				r.Put("/{id}", s.handleUpdateProject)
				r.Delete("/{id}", s.handleDeleteProject)
				r.Post("/{id}/restore", s.handleRestoreProject)
				r.Post("/{id}/invite", s.handleInviteMember)
				r.Post("/{id}/leave", s.handleLeaveProject)
				r.Delete("/{id}/members/{memberId}", s.handleRemoveMember)
				r.Put("/{id}/members/{memberId}/role", s.handleChangeMemberRole)
				r.Get("/{id}/activity", s.handleProjectActivity)
			})

			r.Route("/boards", func(r chi.Router) {
				r.Get("/project/{projectId}", s.handleListBoards)
				r.Post("/project/{projectId}", s.handleCreateBoard)
				r.Get("/{id}", s.handleGetBoard)
				r.Put("/{id}", s.handleUpdateBoard)
				r.Delete("/{id}", s.handleDeleteBoard)
				r.Post("/{id}/restore", s.handleRestoreBoard)
			})

			r.Route("/tasks", func(r chi.Router) {
				r.Get("/", s.handleListTasks)
				r.Post("/board/{boardId}", s.handleCreateTask)
				r.Get("/{id}", s.handleGetTask)
				r.Put("/{id}", s.handleUpdateTask)
				r.Delete("/{id}", s.handleDeleteTask)
				r.Post("/{id}/restore", s.handleRestoreTask)
				r.Post("/{id}/attachments", s.handleAddAttachment)
			})

			r.Route("/comments", func(r chi.Router) {
				r.Get("/task/{taskId}", s.handleListComments)
				r.Post("/task/{taskId}", s.handleCreateComment)
				r.Put("/{id}", s.handleUpdateComment)
				r.Delete("/{id}", s.handleDeleteComment)
				r.Post("/{id}/restore", s.handleRestoreComment)
			})

			r.Get("/search", s.handleSearch)
		})
	})
	return r
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{
		"database": map[string]any{"status": "ok"},
		"search":   map[string]any{"engine": s.service.search.EngineName()},
	}
	if err := s.service.Ping(ctx); err != nil {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
		checks["database"] = map[string]any{
			"status": "error",
			"error":  err.Error(),
		}
	}
	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

// handleWebsocket authenticates with ?token= (browsers cannot set headers on
// websocket upgrades) and serves the connection until it closes.
func (s *HTTPServer) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token = bearerToken(r)
	}
	if token == "" {
		writeError(w, http.StatusUnauthorized, CodeUnauthorized, "Unauthorized", nil)
		return
	}
	user, err := s.auth.Authenticate(r.Context(), token)
	if err != nil {
		s.fail(w, err)
		return
	}
	conn, err := realtime.Upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the handshake error.
		s.log.V(1).Info("websocket upgrade failed", "err", err.Error())
		return
	}
	client := realtime.NewClient(s.hub, conn, realtime.Identity{UserID: user.ID, Name: user.Name}, s.service.AuthorizeRoom, s.log)
	client.Run(r.Context())
}

type actorKey struct{}

// requireSession resolves the bearer token into the Actor for the request.
func (s *HTTPServer) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, CodeUnauthorized, "Unauthorized", nil)
			return
		}
		user, err := s.auth.Authenticate(r.Context(), token)
		if err != nil {
			s.fail(w, err)
			return
		}
		actor := ActorFromUser(user)
		actor.IPAddress = clientIP(r)
		actor.UserAgent = r.UserAgent()
		ctx := context.WithValue(r.Context(), actorKey{}, actor)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func actorFrom(r *http.Request) Actor {
	actor, _ := r.Context().Value(actorKey{}).(Actor)
	return actor
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// requestLogger writes one line per request at verbosity 1.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		ww.Header().Set("X-Request-ID", middleware.GetReqID(r.Context()))
		next.ServeHTTP(ww, r)
		klog.V(1).InfoS("request",
			"requestId", middleware.GetReqID(r.Context()),
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"durationMs", time.Since(started).Milliseconds(),
		)
	})
}

// fail writes err as a JSON error. Unclassified errors are logged and
// reported as a generic server error.
func (s *HTTPServer) fail(w http.ResponseWriter, err error) {
	status, code, message, details := mapError(err)
	if status == http.StatusInternalServerError {
		s.log.Error(err, "request failed")
	}
	writeError(w, status, code, message, details)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	var validation *authpw.ValidationError
	if errors.As(err, &validation) {
		return http.StatusUnprocessableEntity, CodeValidation, "Validation failed",
			[]map[string]string{{"field": validation.Field, "message": validation.Message}}
	}
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return http.StatusNotFound, CodeNotFound, "Not found", nil
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrExpiredToken):
		return http.StatusUnauthorized, CodeUnauthorized, "Unauthorized", nil
	case errors.Is(err, authpw.ErrEmailTaken):
		return http.StatusConflict, CodeConflict, "Email already registered", nil
	case errors.Is(err, authpw.ErrInvalidCredentials):
		return http.StatusUnauthorized, CodeUnauthorized, "Invalid email or password", nil
	case errors.Is(err, authpw.ErrInvalidSession):
		return http.StatusUnauthorized, CodeUnauthorized, "Invalid or expired session", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
