// Package service orchestrates the analysis pipeline: persist the
// upload, classify it, render the saliency overlay and store the
// result.
package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/osteoview/osteoview/internal/classifier"
	"github.com/osteoview/osteoview/internal/config"
	"github.com/osteoview/osteoview/internal/heatmap"
	"github.com/osteoview/osteoview/internal/report"
	"github.com/osteoview/osteoview/internal/store"
)

var (
	// ErrInvalidFile is returned for empty, misnamed or undecodable
	// uploads.
	ErrInvalidFile = errors.New("service: invalid image file")
	// ErrForbidden is returned when a user reads another user's
	// prediction.
	ErrForbidden = errors.New("service: prediction belongs to another user")
)

// Classifier is the verdict producer; satisfied by *classifier.Classifier.
type Classifier interface {
	Classify(img image.Image) (*classifier.Verdict, error)
}

// Service wires the store, classifier and overlay renderer together.
type Service struct {
	store *store.Store
	clf   Classifier
	cfg   *config.Config
	log   *zap.Logger
}

// New creates the analysis service.
func New(st *store.Store, clf Classifier, cfg *config.Config, log *zap.Logger) *Service {
	return &Service{store: st, clf: clf, cfg: cfg, log: log}
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// sanitizeFilename strips directories and unsafe characters from an
// uploaded filename.
func sanitizeFilename(name string) string {
	name = filepath.Base(name)
	name = unsafeChars.ReplaceAllString(name, "_")
	return strings.Trim(name, "._")
}

func allowedExtension(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".png", ".jpg", ".jpeg":
		return true
	}
	return false
}

// Analyze runs the full pipeline for one upload and returns the stored
// prediction.
func (s *Service) Analyze(ctx context.Context, userID int64, filename string, data []byte) (*store.Prediction, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty upload", ErrInvalidFile)
	}
	if !allowedExtension(filename) {
		return nil, fmt.Errorf("%w: only PNG, JPG and JPEG are accepted", ErrInvalidFile)
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFile, err)
	}

	unique := fmt.Sprintf("%d_%s_%s_%s",
		userID,
		time.Now().Format("20060102_150405"),
		uuid.NewString()[:8],
		sanitizeFilename(filename))

	originalPath := filepath.Join(s.cfg.OriginalDir(), unique)
	if err := os.WriteFile(originalPath, data, 0o644); err != nil {
		return nil, fmt.Errorf("save original image: %w", err)
	}

	verdict, err := s.clf.Classify(img)
	if err != nil {
		return nil, fmt.Errorf("classify image: %w", err)
	}

	heatmapPath := filepath.Join(s.cfg.HeatmapDir(), "heatmap_"+unique)
	if err := heatmap.Render(originalPath, heatmapPath, verdict.Class, s.cfg.HeatmapAlpha); err != nil {
		return nil, fmt.Errorf("render heatmap: %w", err)
	}

	pred, err := s.store.CreatePrediction(ctx, &store.Prediction{
		UserID:           userID,
		OriginalPath:     originalPath,
		HeatmapPath:      heatmapPath,
		PredictedClass:   verdict.Class,
		ConfidenceCancer: float64(verdict.Confidences["cancer"]),
		ConfidenceNormal: float64(verdict.Confidences["normal"]),
	})
	if err != nil {
		return nil, fmt.Errorf("store prediction: %w", err)
	}

	s.log.Info("analysis complete",
		zap.Int64("user_id", userID),
		zap.Int64("prediction_id", pred.ID),
		zap.String("class", pred.PredictedClass),
		zap.Float32("confidence", verdict.Confidence),
		zap.String("file", unique))

	return pred, nil
}

// Result fetches one prediction, enforcing ownership.
func (s *Service) Result(ctx context.Context, userID, predictionID int64) (*store.Prediction, error) {
	pred, err := s.store.PredictionByID(ctx, predictionID)
	if err != nil {
		return nil, err
	}
	if pred.UserID != userID {
		return nil, ErrForbidden
	}
	return pred, nil
}

// History lists the user's predictions, newest first.
func (s *Service) History(ctx context.Context, userID int64) ([]*store.Prediction, error) {
	return s.store.PredictionsByUser(ctx, userID)
}

// Report returns the path to the prediction's PDF report, generating
// and caching it on first request.
func (s *Service) Report(ctx context.Context, userID, predictionID int64) (string, error) {
	pred, err := s.Result(ctx, userID, predictionID)
	if err != nil {
		return "", err
	}

	if pred.ReportPath != "" {
		if _, err := os.Stat(pred.ReportPath); err == nil {
			return pred.ReportPath, nil
		}
		// Stale path, regenerate below.
	}

	user, err := s.store.UserByID(ctx, userID)
	if err != nil {
		return "", err
	}

	path := filepath.Join(s.cfg.ReportDir(),
		fmt.Sprintf("report_%d_%d_%s.pdf", userID, pred.ID, time.Now().Format("20060102_150405")))

	err = report.Generate(path, report.Data{
		PredictionID:     pred.ID,
		Username:         user.Username,
		Email:            user.Email,
		PredictedClass:   pred.PredictedClass,
		ConfidenceCancer: pred.ConfidenceCancer,
		ConfidenceNormal: pred.ConfidenceNormal,
		OriginalImage:    pred.OriginalPath,
		HeatmapImage:     pred.HeatmapPath,
		CreatedAt:        pred.CreatedAt,
	})
	if err != nil {
		return "", err
	}

	if err := s.store.SetReportPath(ctx, pred.ID, path); err != nil {
		return "", fmt.Errorf("record report path: %w", err)
	}

	s.log.Info("report generated",
		zap.Int64("user_id", userID),
		zap.Int64("prediction_id", pred.ID),
		zap.String("path", path))
	return path, nil
}
