// Package handlers exposes the JSON HTTP API: account management,
// X-ray upload and analysis, history, and PDF report delivery.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strconv"

	"go.uber.org/zap"

	"github.com/osteoview/osteoview/internal/auth"
	"github.com/osteoview/osteoview/internal/config"
	"github.com/osteoview/osteoview/internal/service"
	"github.com/osteoview/osteoview/internal/store"
)

// Handler bundles the API's dependencies.
type Handler struct {
	svc  *service.Service
	auth *auth.Manager
	cfg  *config.Config
	log  *zap.Logger
}

// New creates the HTTP handler set.
func New(svc *service.Service, authMgr *auth.Manager, cfg *config.Config, log *zap.Logger) *Handler {
	return &Handler{svc: svc, auth: authMgr, cfg: cfg, log: log}
}

// Routes registers every endpoint on the mux.
func (h *Handler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.Health)

	mux.HandleFunc("POST /auth/register", h.Register)
	mux.HandleFunc("POST /auth/login", h.Login)
	mux.HandleFunc("POST /auth/logout", h.Logout)

	mux.HandleFunc("POST /predict/upload", h.auth.RequireSession(h.Upload))
	mux.HandleFunc("GET /predict/results/{id}", h.auth.RequireSession(h.Result))
	mux.HandleFunc("GET /predict/history", h.auth.RequireSession(h.History))

	mux.HandleFunc("GET /reports/generate/{id}", h.auth.RequireSession(h.GenerateReport))
	mux.HandleFunc("GET /reports/download/{id}", h.auth.RequireSession(h.DownloadReport))

	mux.Handle("GET /files/",
		http.StripPrefix("/files/", http.FileServer(http.Dir(h.cfg.UploadDir))))
}

func respondJSON(w http.ResponseWriter, data any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, message string, status int) {
	respondJSON(w, map[string]string{"error": message}, status)
}

// fileURL maps a stored path under the upload root to its /files/ URL.
func (h *Handler) fileURL(path string) string {
	rel, err := filepath.Rel(h.cfg.UploadDir, path)
	if err != nil {
		return ""
	}
	return "/files/" + filepath.ToSlash(rel)
}

type predictionResponse struct {
	ID               int64   `json:"id"`
	Class            string  `json:"class"`
	ConfidenceCancer float64 `json:"confidence_cancer"`
	ConfidenceNormal float64 `json:"confidence_normal"`
	OriginalURL      string  `json:"original_url"`
	HeatmapURL       string  `json:"heatmap_url"`
	HasReport        bool    `json:"has_report"`
	CreatedAt        string  `json:"created_at"`
}

func (h *Handler) toResponse(p *store.Prediction) predictionResponse {
	return predictionResponse{
		ID:               p.ID,
		Class:            p.PredictedClass,
		ConfidenceCancer: p.ConfidenceCancer,
		ConfidenceNormal: p.ConfidenceNormal,
		OriginalURL:      h.fileURL(p.OriginalPath),
		HeatmapURL:       h.fileURL(p.HeatmapPath),
		HasReport:        p.ReportPath != "",
		CreatedAt:        p.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
	}
}

// Health reports service liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "healthy"}, http.StatusOK)
}

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Register creates a new account.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "invalid JSON body", http.StatusBadRequest)
		return
	}

	user, err := h.auth.Register(r.Context(), req.Username, req.Email, req.Password)
	var verr *auth.ValidationError
	switch {
	case errors.As(err, &verr):
		respondError(w, verr.Error(), http.StatusBadRequest)
		return
	case errors.Is(err, auth.ErrUsernameTaken):
		respondError(w, "username or email already registered", http.StatusConflict)
		return
	case err != nil:
		h.log.Error("register failed", zap.Error(err))
		respondError(w, "registration failed", http.StatusInternalServerError)
		return
	}

	respondJSON(w, map[string]any{"id": user.ID, "username": user.Username}, http.StatusCreated)
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Login verifies credentials and sets the session cookie.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "invalid JSON body", http.StatusBadRequest)
		return
	}

	sess, user, err := h.auth.Login(r.Context(), req.Username, req.Password)
	if errors.Is(err, auth.ErrInvalidCredentials) {
		respondError(w, "invalid username or password", http.StatusUnauthorized)
		return
	}
	if err != nil {
		h.log.Error("login failed", zap.Error(err))
		respondError(w, "login failed", http.StatusInternalServerError)
		return
	}

	h.auth.SetCookie(w, sess)
	respondJSON(w, map[string]any{"id": user.ID, "username": user.Username}, http.StatusOK)
}

// Logout invalidates the current session.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(auth.CookieName); err == nil {
		if err := h.auth.Logout(r.Context(), cookie.Value); err != nil {
			h.log.Warn("logout failed", zap.Error(err))
		}
	}
	h.auth.ClearCookie(w)
	respondJSON(w, map[string]string{"status": "logged out"}, http.StatusOK)
}

// Upload accepts a multipart X-ray image, runs the analysis pipeline
// and returns the stored prediction.
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.UserFrom(r.Context())

	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxUploadBytes)
	if err := r.ParseMultipartForm(h.cfg.MaxUploadBytes); err != nil {
		respondError(w, "failed to parse form (file too large?)", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		respondError(w, "no file uploaded, use 'file' as the form field name", http.StatusBadRequest)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		respondError(w, "failed to read file", http.StatusInternalServerError)
		return
	}

	pred, err := h.svc.Analyze(r.Context(), user.ID, header.Filename, data)
	if errors.Is(err, service.ErrInvalidFile) {
		respondError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err != nil {
		h.log.Error("analysis failed",
			zap.Int64("user_id", user.ID),
			zap.String("filename", header.Filename),
			zap.Error(err))
		respondError(w, "analysis failed", http.StatusInternalServerError)
		return
	}

	respondJSON(w, h.toResponse(pred), http.StatusCreated)
}

func pathID(r *http.Request) (int64, error) {
	return strconv.ParseInt(r.PathValue("id"), 10, 64)
}

// Result returns one stored prediction.
func (h *Handler) Result(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.UserFrom(r.Context())
	id, err := pathID(r)
	if err != nil {
		respondError(w, "invalid prediction id", http.StatusBadRequest)
		return
	}

	pred, err := h.svc.Result(r.Context(), user.ID, id)
	if h.handleLookupError(w, err, user.ID, id) {
		return
	}
	respondJSON(w, h.toResponse(pred), http.StatusOK)
}

// History lists the user's predictions, newest first.
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.UserFrom(r.Context())

	preds, err := h.svc.History(r.Context(), user.ID)
	if err != nil {
		h.log.Error("history failed", zap.Int64("user_id", user.ID), zap.Error(err))
		respondError(w, "failed to load history", http.StatusInternalServerError)
		return
	}

	out := make([]predictionResponse, 0, len(preds))
	for _, p := range preds {
		out = append(out, h.toResponse(p))
	}
	respondJSON(w, out, http.StatusOK)
}

// GenerateReport builds the PDF (if needed) and streams it for
// download.
func (h *Handler) GenerateReport(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.UserFrom(r.Context())
	id, err := pathID(r)
	if err != nil {
		respondError(w, "invalid prediction id", http.StatusBadRequest)
		return
	}

	path, err := h.svc.Report(r.Context(), user.ID, id)
	if h.handleLookupError(w, err, user.ID, id) {
		return
	}
	h.servePDF(w, r, path, id)
}

// DownloadReport streams an already generated PDF, 404 otherwise.
func (h *Handler) DownloadReport(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.UserFrom(r.Context())
	id, err := pathID(r)
	if err != nil {
		respondError(w, "invalid prediction id", http.StatusBadRequest)
		return
	}

	pred, err := h.svc.Result(r.Context(), user.ID, id)
	if h.handleLookupError(w, err, user.ID, id) {
		return
	}
	if pred.ReportPath == "" {
		respondError(w, "report not found, generate it first", http.StatusNotFound)
		return
	}
	h.servePDF(w, r, pred.ReportPath, id)
}

func (h *Handler) servePDF(w http.ResponseWriter, r *http.Request, path string, id int64) {
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf(`attachment; filename="bone_cancer_report_%d.pdf"`, id))
	http.ServeFile(w, r, path)
}

// handleLookupError maps service lookup failures to HTTP statuses.
// Returns true when a response was written.
func (h *Handler) handleLookupError(w http.ResponseWriter, err error, userID, id int64) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, store.ErrNotFound):
		respondError(w, "prediction not found", http.StatusNotFound)
	case errors.Is(err, service.ErrForbidden):
		respondError(w, "unauthorized access", http.StatusForbidden)
	default:
		h.log.Error("prediction lookup failed",
			zap.Int64("user_id", userID), zap.Int64("prediction_id", id), zap.Error(err))
		respondError(w, "internal error", http.StatusInternalServerError)
	}
	return true
}
