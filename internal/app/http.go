package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Gi7-ux/app-sub000/internal/auth"
	"github.com/Gi7-ux/app-sub000/internal/rbac"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
	jwtSecret  []byte
	validate   *validator.Validate
}

func NewHTTPServer(service *Service, corsOrigin string, jwtSecret []byte) *HTTPServer {
	validate := validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &HTTPServer{
		service:    service,
		corsOrigin: corsOrigin,
		jwtSecret:  jwtSecret,
		validate:   validate,
	}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		s.handleReady(w, r)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/metrics" {
		s.service.Metrics().Handler().ServeHTTP(w, r)
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) < 2 || parts[0] != "api" {
		writeError(w, http.StatusNotFound, CodeNotFound, "Not found", nil)
		return
	}

	rc, ok := s.requireRequestContext(w, r)
	if !ok {
		return
	}

	switch parts[1] {
	case "threads":
		s.handleThreads(w, r, rc, parts[2:])
	case "projects":
		s.handleProjects(w, r, rc, parts[2:])
	case "messages":
		s.handleMessages(w, r, rc, parts[2:])
	case "notifications":
		s.handleNotifications(w, r, rc, parts[2:])
	default:
		writeError(w, http.StatusNotFound, CodeNotFound, "Not found", nil)
	}
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{
		"database": map[string]any{"status": "ok"},
	}

	if err := s.service.Ping(ctx); err != nil {
		s.service.Logger().Warn("readiness check failed", zap.Error(err))
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
		checks["database"] = map[string]any{"status": "error"}
	}

	// live delivery is optional, so a redis outage degrades but does not fail readiness.
	if configured, err := s.service.PingLive(ctx); configured {
		checks["redis"] = map[string]any{"status": "ok"}
		if err != nil {
			s.service.Logger().Warn("live feed check failed", zap.Error(err))
			checks["redis"] = map[string]any{"status": "error"}
			if status == "ready" {
				status = "degraded"
			}
		}
	}

	writeJSON(w, statusCode, map[string]any{
		"ok":     statusCode == http.StatusOK,
		"status": status,
		"checks": checks,
	})
}

// handleThreads serves /api/threads/...
func (s *HTTPServer) handleThreads(w http.ResponseWriter, r *http.Request, rc RequestContext, rest []string) {
	switch {
	case len(rest) == 0 && r.Method == http.MethodGet:
		threads, err := s.service.ListThreads(r.Context(), rc)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"threads": threads})
		return

	case len(rest) == 1 && rest[0] == "ensure" && r.Method == http.MethodPost:
		var body EnsureThreadInput
		if !s.decodeAndValidate(w, r, &body) {
			return
		}
		result, err := s.service.EnsureThread(r.Context(), rc, body)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		status := http.StatusOK
		if result.Created {
			status = http.StatusCreated
		}
		writeJSON(w, status, result)
		return

	case len(rest) == 2:
		threadID, ok := parseID(w, rest[0], "threadId")
		if !ok {
			return
		}
		switch {
		case rest[1] == "messages" && r.Method == http.MethodGet:
			messages, err := s.service.ListMessages(r.Context(), rc, ListMessagesInput{ThreadIDs: []int64{threadID}})
			if err != nil {
				s.writeServiceError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"messages": messages})
			return

		case rest[1] == "messages" && r.Method == http.MethodPost:
			var body SendMessageInput
			if !s.decodeAndValidate(w, r, &body) {
				return
			}
			result, err := s.service.SendMessage(r.Context(), rc, threadID, body)
			if err != nil {
				s.writeServiceError(w, r, err)
				return
			}
			writeJSON(w, http.StatusCreated, result)
			return

		case rest[1] == "participants" && r.Method == http.MethodPost:
			var body AddParticipantInput
			if !s.decodeAndValidate(w, r, &body) {
				return
			}
			result, err := s.service.AddParticipant(r.Context(), rc, threadID, body)
			if err != nil {
				s.writeServiceError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, result)
			return

		case rest[1] == "read" && r.Method == http.MethodPost:
			result, err := s.service.MarkThreadRead(r.Context(), rc, threadID)
			if err != nil {
				s.writeServiceError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, result)
			return
		}
	}

	writeError(w, http.StatusNotFound, CodeNotFound, "Not found", nil)
}

// handleProjects serves /api/projects/{id}/messages.
func (s *HTTPServer) handleProjects(w http.ResponseWriter, r *http.Request, rc RequestContext, rest []string) {
	if len(rest) == 2 && rest[1] == "messages" && r.Method == http.MethodGet {
		projectID, ok := parseID(w, rest[0], "projectId")
		if !ok {
			return
		}
		messages, err := s.service.ListMessages(r.Context(), rc, ListMessagesInput{ProjectID: &projectID})
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"messages": messages})
		return
	}
	writeError(w, http.StatusNotFound, CodeNotFound, "Not found", nil)
}

// handleMessages serves /api/messages, /api/messages/search and
// /api/messages/{id}/status.
func (s *HTTPServer) handleMessages(w http.ResponseWriter, r *http.Request, rc RequestContext, rest []string) {
	switch {
	case len(rest) == 0 && r.Method == http.MethodGet:
		input, ok := parseListMessagesQuery(w, r)
		if !ok {
			return
		}
		messages, err := s.service.ListMessages(r.Context(), rc, input)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"messages": messages})
		return

	case len(rest) == 1 && rest[0] == "search" && r.Method == http.MethodGet:
		input, ok := parseSearchQuery(w, r)
		if !ok {
			return
		}
		resp, err := s.service.SearchMessages(r.Context(), rc, input)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
		return

	case len(rest) == 2 && rest[1] == "status" && (r.Method == http.MethodPut || r.Method == http.MethodPatch):
		messageID, ok := parseID(w, rest[0], "messageId")
		if !ok {
			return
		}
		if !rbac.Can(rc.Role, rbac.ActionModerate) {
			writeError(w, http.StatusForbidden, CodeForbidden, "Only admins can moderate messages", nil)
			return
		}
		var body ModerateMessageInput
		if !s.decodeAndValidate(w, r, &body) {
			return
		}
		result, err := s.service.ModerateMessage(r.Context(), rc, messageID, body.Status)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
		return
	}

	writeError(w, http.StatusNotFound, CodeNotFound, "Not found", nil)
}

// handleNotifications serves /api/notifications and /api/notifications/{id}/read.
func (s *HTTPServer) handleNotifications(w http.ResponseWriter, r *http.Request, rc RequestContext, rest []string) {
	switch {
	case len(rest) == 0 && r.Method == http.MethodGet:
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		list := s.service.ListNotifications
		if live, _ := strconv.ParseBool(r.URL.Query().Get("live")); live {
			list = s.service.ListLiveNotifications
		}
		items, err := list(r.Context(), rc, limit)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"notifications": items})
		return

	case len(rest) == 2 && rest[1] == "read" && r.Method == http.MethodPost:
		notificationID, ok := parseID(w, rest[0], "notificationId")
		if !ok {
			return
		}
		if err := s.service.MarkNotificationRead(r.Context(), rc, notificationID); err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	writeError(w, http.StatusNotFound, CodeNotFound, "Not found", nil)
}

func (s *HTTPServer) requireRequestContext(w http.ResponseWriter, r *http.Request) (RequestContext, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, CodeUnauthorized, "Unauthorized", nil)
		return RequestContext{}, false
	}
	claims, err := auth.ParseToken(s.jwtSecret, token)
	if err != nil {
		writeError(w, http.StatusUnauthorized, CodeUnauthorized, "Unauthorized", nil)
		return RequestContext{}, false
	}
	role := rbac.Normalize(claims.Role)
	if role == "" {
		writeError(w, http.StatusUnauthorized, CodeUnauthorized, "Unauthorized", nil)
		return RequestContext{}, false
	}
	return RequestContext{UserID: claims.UserID, Role: role}, true
}

func (s *HTTPServer) decodeAndValidate(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := decodeBody(r, target); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return false
	}
	if err := s.validate.Struct(target); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			details := make([]map[string]string, 0, len(fieldErrs))
			for _, fieldErr := range fieldErrs {
				details = append(details, map[string]string{
					"field": fieldErr.Field(),
					"rule":  fieldErr.Tag(),
				})
			}
			writeError(w, http.StatusUnprocessableEntity, CodeValidation, "Invalid request body", details)
			return false
		}
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "Invalid request body", nil)
		return false
	}
	return true
}

func (s *HTTPServer) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		s.service.Logger().Error("request failed",
			zap.String("request_id", requestIDFrom(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}
	writeError(w, status, code, message, details)
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		elapsed := time.Since(started)
		s.service.Metrics().ObserveRequest(r.Method, writer.status, elapsed)
		s.service.Logger().Info("http request",
			zap.String("request_id", requestID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", writer.status),
			zap.Int64("duration_ms", elapsed.Milliseconds()),
		)
	})
}

type requestIDKey struct{}

func requestIDFrom(ctx context.Context) string {
	requestID, _ := ctx.Value(requestIDKey{}).(string)
	return requestID
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,PATCH,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
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
	decoder := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
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

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func parseID(w http.ResponseWriter, raw, name string) (int64, bool) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "Invalid "+name, nil)
		return 0, false
	}
	return id, true
}

func parseOptionalID(w http.ResponseWriter, raw, name string) (*int64, bool) {
	if strings.TrimSpace(raw) == "" {
		return nil, true
	}
	id, ok := parseID(w, raw, name)
	if !ok {
		return nil, false
	}
	return &id, true
}

// parseListMessagesQuery reads ?threadIds=1,2,3 or ?projectId=7.
func parseListMessagesQuery(w http.ResponseWriter, r *http.Request) (ListMessagesInput, bool) {
	query := r.URL.Query()
	var input ListMessagesInput
	if raw := strings.TrimSpace(query.Get("threadIds")); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			id, ok := parseID(w, strings.TrimSpace(part), "threadIds")
			if !ok {
				return ListMessagesInput{}, false
			}
			input.ThreadIDs = append(input.ThreadIDs, id)
		}
	}
	projectID, ok := parseOptionalID(w, query.Get("projectId"), "projectId")
	if !ok {
		return ListMessagesInput{}, false
	}
	input.ProjectID = projectID
	return input, true
}

func parseSearchQuery(w http.ResponseWriter, r *http.Request) (SearchMessagesInput, bool) {
	query := r.URL.Query()
	limit, _ := strconv.Atoi(query.Get("limit"))
	offset, _ := strconv.Atoi(query.Get("offset"))
	input := SearchMessagesInput{
		Query:  query.Get("q"),
		Limit:  limit,
		Offset: offset,
	}
	var ok bool
	if input.ThreadID, ok = parseOptionalID(w, query.Get("threadId"), "threadId"); !ok {
		return SearchMessagesInput{}, false
	}
	if input.ProjectID, ok = parseOptionalID(w, query.Get("projectId"), "projectId"); !ok {
		return SearchMessagesInput{}, false
	}
	return input, true
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, CodeUnauthorized, "Unauthorized", nil
	}
	return http.StatusInternalServerError, CodeStorage, "Server error", nil
}
