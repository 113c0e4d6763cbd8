package service

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/osteoview/osteoview/internal/classifier"
	"github.com/osteoview/osteoview/internal/config"
	"github.com/osteoview/osteoview/internal/store"
)

// fakeClassifier returns a canned verdict without an ONNX runtime.
type fakeClassifier struct {
	verdict classifier.Verdict
	err     error
}

func (f *fakeClassifier) Classify(image.Image) (*classifier.Verdict, error) {
	if f.err != nil {
		return nil, f.err
	}
	v := f.verdict
	return &v, nil
}

func cancerVerdict() *fakeClassifier {
	return &fakeClassifier{verdict: classifier.Verdict{
		Class:       "cancer",
		Confidence:  0.87,
		Confidences: map[string]float32{"cancer": 0.87, "normal": 0.13},
	}}
}

func newTestService(t *testing.T, clf Classifier) (*Service, *store.Store, int64) {
	t.Helper()
	dir := t.TempDir()

	cfg := config.Default()
	cfg.UploadDir = filepath.Join(dir, "uploads")
	cfg.DatabasePath = filepath.Join(dir, "instance", "db.sqlite")
	require.NoError(t, cfg.EnsureDirs())

	st, err := store.Open(cfg.DatabasePath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	user, err := st.CreateUser(context.Background(), "tester", "t@example.com", "hash")
	require.NoError(t, err)

	return New(st, clf, cfg, zaptest.NewLogger(t)), st, user.ID
}

func testImageBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			c := color.RGBA{R: 30, G: 30, B: 30, A: 255}
			if x > 20 && x < 44 && y > 20 && y < 44 {
				c = color.RGBA{R: 220, G: 220, B: 220, A: 255}
			}
			img.SetRGBA(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestAnalyzePipeline(t *testing.T) {
	svc, _, userID := newTestService(t, cancerVerdict())
	ctx := context.Background()

	pred, err := svc.Analyze(ctx, userID, "xray.png", testImageBytes(t))
	require.NoError(t, err)

	assert.Equal(t, "cancer", pred.PredictedClass)
	assert.InDelta(t, 0.87, pred.ConfidenceCancer, 1e-6)
	assert.InDelta(t, 0.13, pred.ConfidenceNormal, 1e-6)
	assert.FileExists(t, pred.OriginalPath)
	assert.FileExists(t, pred.HeatmapPath)

	// The persisted record round-trips.
	got, err := svc.Result(ctx, userID, pred.ID)
	require.NoError(t, err)
	assert.Equal(t, pred.HeatmapPath, got.HeatmapPath)
}

func TestAnalyzeRejectsBadUploads(t *testing.T) {
	svc, _, userID := newTestService(t, cancerVerdict())
	ctx := context.Background()

	cases := []struct {
		name     string
		filename string
		data     []byte
	}{
		{"empty payload", "xray.png", nil},
		{"bad extension", "scan.gif", testImageBytes(t)},
		{"undecodable", "xray.png", []byte("not an image at all")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Analyze(ctx, userID, tc.filename, tc.data)
			assert.ErrorIs(t, err, ErrInvalidFile)
		})
	}
}

func TestResultOwnership(t *testing.T) {
	svc, st, userID := newTestService(t, cancerVerdict())
	ctx := context.Background()

	pred, err := svc.Analyze(ctx, userID, "xray.png", testImageBytes(t))
	require.NoError(t, err)

	other, err := st.CreateUser(ctx, "intruder", "i@example.com", "hash")
	require.NoError(t, err)

	_, err = svc.Result(ctx, other.ID, pred.ID)
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = svc.Result(ctx, userID, 999999)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestHistoryNewestFirst(t *testing.T) {
	svc, _, userID := newTestService(t, cancerVerdict())
	ctx := context.Background()

	data := testImageBytes(t)
	first, err := svc.Analyze(ctx, userID, "a.png", data)
	require.NoError(t, err)
	second, err := svc.Analyze(ctx, userID, "b.png", data)
	require.NoError(t, err)

	list, err := svc.History(ctx, userID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second.ID, list[0].ID)
	assert.Equal(t, first.ID, list[1].ID)
}

func TestReportGeneratedOnceAndCached(t *testing.T) {
	svc, _, userID := newTestService(t, cancerVerdict())
	ctx := context.Background()

	pred, err := svc.Analyze(ctx, userID, "xray.png", testImageBytes(t))
	require.NoError(t, err)

	path, err := svc.Report(ctx, userID, pred.ID)
	require.NoError(t, err)
	assert.FileExists(t, path)

	again, err := svc.Report(ctx, userID, pred.ID)
	require.NoError(t, err)
	assert.Equal(t, path, again, "second request reuses the cached report")
}

func TestSanitizeFilename(t *testing.T) {
	cases := map[string]string{
		"simple.png":         "simple.png",
		"../../../etc/x.png": "x.png",
		"my scan (1).jpg":    "my_scan_1_.jpg",
	}
	for in, want := range cases {
		assert.Equal(t, want, sanitizeFilename(in), "input %q", in)
	}
}
