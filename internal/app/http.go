package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"homeboard/internal/backend"
	"homeboard/internal/briefing"
	"homeboard/internal/intake"
	"homeboard/internal/search"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin}
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
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "ready"
		statusCode := http.StatusOK
		checks := map[string]any{
			"state": map[string]any{"status": "ok"},
		}
		if err := s.service.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["state"] = map[string]any{
				"status": "error",
				"error":  err.Error(),
			}
		}
		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	// Session routes
	// Browsers keep the fragment client-side; the renderer forwards
	// #token= as ?token=.
	if r.Method == http.MethodGet && r.URL.Path == "/api/auth/callback" {
		if err := s.service.AuthCallback(r.Context(), r.URL.Query(), ""); err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "authenticated": true})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/login" {
		var body struct {
			Username string `json:"username"`
			Password string `json:"password"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if err := s.service.Login(r.Context(), body.Username, body.Password); err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "authenticated": true})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/auth/status" {
		status, err := s.service.AuthStatus(r.Context())
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, status)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/session/logout" {
		if err := s.service.Logout(r.Context()); err != nil {
			log.Printf("app: logout: %v", err)
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	// Dashboard
	if r.Method == http.MethodGet && r.URL.Path == "/api/dashboard" {
		writeJSON(w, http.StatusOK, s.service.Dashboard())
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/dashboard/refresh" {
		snapshot, err := s.service.Refresh(r.Context())
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, snapshot)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/layout/reorder" {
		var body struct {
			Moved  string `json:"moved"`
			Target string `json:"target"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		order, persisted := s.service.Reorder(r.Context(), body.Moved, body.Target)
		writeJSON(w, http.StatusOK, map[string]any{"order": order, "persisted": persisted})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/accordion/toggle" {
		var body struct {
			ID string `json:"id"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		expanded, err := s.service.ToggleSection(body.ID)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"expanded": expanded})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/settings/test-traffic" {
		report, err := s.service.TestTraffic(r.Context())
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, report)
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) < 2 || parts[0] != "api" {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	switch parts[1] {
	case "briefings":
		s.handleBriefings(w, r, parts[2:])
	case "devices":
		s.handleDevices(w, r, parts[2:])
	case "documents":
		s.handleDocuments(w, r, parts[2:])
	case "meals", "budget":
		s.handleShortcutUploads(w, r, parts[1:])
	case "notes":
		s.handleNotes(w, r, parts[2:])
	case "expenses":
		s.handleExpenses(w, r, parts[2:])
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleBriefings(w http.ResponseWriter, r *http.Request, parts []string) {
	switch {
	case len(parts) == 0 && r.Method == http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{"briefings": s.service.Briefings()})

	case len(parts) == 0 && r.Method == http.MethodPut:
		var body struct {
			Briefings []briefing.Config `json:"briefings"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		saved, err := s.service.SaveBriefings(r.Context(), body.Briefings)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"briefings": saved})

	case len(parts) == 0 && r.Method == http.MethodPost:
		var body struct {
			Title string `json:"title"`
			Time  string `json:"time"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		added, err := s.service.AddBriefing(r.Context(), body.Title, body.Time)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, added)

	case len(parts) == 1 && parts[0] == "play" && r.Method == http.MethodPost:
		var body struct {
			BriefingID string `json:"briefing_id"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		cfg, err := s.service.PlayBriefing(body.BriefingID)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]any{"started": true, "briefing": cfg})

	case len(parts) == 1 && parts[0] == "runs" && r.Method == http.MethodGet:
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		runs, err := s.service.BriefingRuns(r.Context(), r.URL.Query().Get("briefing_id"), limit)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"runs": runs})

	case len(parts) == 1 && r.Method == http.MethodDelete:
		if err := s.service.RemoveBriefing(r.Context(), parts[0]); err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleDevices(w http.ResponseWriter, r *http.Request, parts []string) {
	switch {
	case len(parts) == 0 && r.Method == http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{"devices": nonNilDevices(s.service.Devices())})

	case len(parts) == 1 && parts[0] == "refresh" && r.Method == http.MethodPost:
		list, err := s.service.RefreshDevices(r.Context())
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"devices": nonNilDevices(list)})

	case len(parts) == 1 && parts[0] == "sync" && r.Method == http.MethodPost:
		list, err := s.service.SyncDevices(r.Context())
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"devices": nonNilDevices(list)})

	case len(parts) == 2 && parts[1] == "linkage" && r.Method == http.MethodPost:
		var body struct {
			BriefingID string `json:"briefing_id"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		device, err := s.service.ToggleLinkage(r.Context(), parts[0], body.BriefingID)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, device)

	case len(parts) == 2 && parts[1] == "linkage" && r.Method == http.MethodDelete:
		device, err := s.service.ClearLinkage(r.Context(), parts[0])
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, device)

	case len(parts) == 2 && parts[1] == "command" && r.Method == http.MethodPost:
		var body struct {
			Action string `json:"action"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		result, err := s.service.SendCommand(r.Context(), parts[0], body.Action)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleDocuments(w http.ResponseWriter, r *http.Request, parts []string) {
	switch {
	case len(parts) == 0 && r.Method == http.MethodPost:
		filename, content, err := formFile(w, r)
		if err != nil {
			s.fail(w, err)
			return
		}
		defer content.Close()
		result, err := s.service.SubmitDocument(r.Context(), filename, content)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)

	case len(parts) == 1 && parts[0] == "confirm" && r.Method == http.MethodPost:
		var edits *backend.EventDraft
		if r.ContentLength != 0 {
			edits = &backend.EventDraft{}
			if err := decodeBody(r, edits); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
		}
		created, err := s.service.ConfirmDocument(r.Context(), edits)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, created)

	case len(parts) == 1 && parts[0] == "cancel" && r.Method == http.MethodPost:
		s.service.CancelDocument()
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleShortcutUploads(w http.ResponseWriter, r *http.Request, parts []string) {
	if len(parts) != 2 || parts[1] != "upload" || r.Method != http.MethodPost {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	filename, content, err := formFile(w, r)
	if err != nil {
		s.fail(w, err)
		return
	}
	defer content.Close()

	if parts[0] == "meals" {
		plan, err := s.service.UploadMenu(r.Context(), filename, content)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"meals": plan})
		return
	}
	expense, err := s.service.UploadReceipt(r.Context(), filename, content)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, expense)
}

func (s *HTTPServer) handleNotes(w http.ResponseWriter, r *http.Request, parts []string) {
	switch {
	case len(parts) == 0 && r.Method == http.MethodGet:
		notes, err := s.service.Notes(r.Context())
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"notes": notes})

	case len(parts) == 0 && r.Method == http.MethodPost:
		var body struct {
			Content string `json:"content"`
			Author  string `json:"author"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		note, err := s.service.CreateNote(r.Context(), body.Content, body.Author)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, note)

	case len(parts) == 1 && parts[0] == "search" && r.Method == http.MethodGet:
		query := r.URL.Query()
		limit, _ := strconv.Atoi(query.Get("limit"))
		writeJSON(w, http.StatusOK, s.service.SearchNotes(r.Context(), search.Query{
			Text:   query.Get("q"),
			Author: query.Get("author"),
			Limit:  limit,
		}))

	case len(parts) == 1 && r.Method == http.MethodPut:
		var note backend.Note
		if err := decodeBody(r, &note); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		note.ID = parts[0]
		updated, err := s.service.UpdateNote(r.Context(), note)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, updated)

	case len(parts) == 1 && r.Method == http.MethodDelete:
		if err := s.service.DeleteNote(r.Context(), parts[0]); err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleExpenses(w http.ResponseWriter, r *http.Request, parts []string) {
	switch {
	case len(parts) == 0 && r.Method == http.MethodGet:
		expenses, err := s.service.Expenses(r.Context())
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"expenses": expenses})

	case len(parts) == 1 && r.Method == http.MethodDelete:
		if err := s.service.DeleteExpense(r.Context(), parts[0]); err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) fail(w http.ResponseWriter, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		log.Printf("app: %s: %v", code, err)
	}
	writeError(w, status, code, message, details)
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
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
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

// formFile returns the multipart "file" field of an upload.
func formFile(w http.ResponseWriter, r *http.Request) (string, multipart.File, error) {
	r.Body = http.MaxBytesReader(w, r.Body, intake.MaxUploadBytes+1<<20)
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return "", nil, intake.ErrTooLarge
		}
		return "", nil, domainError(http.StatusBadRequest, "INVALID_BODY", "multipart field \"file\" is required", nil)
	}
	return header.Filename, file, nil
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func nonNilDevices(list []backend.Device) []backend.Device {
	if list == nil {
		return []backend.Device{}
	}
	return list
}
