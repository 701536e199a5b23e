package controllers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"sentinel/internal/config"
	"sentinel/internal/models"
	"sentinel/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/go-logr/logr/testr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubSampler struct {
	sample models.Sample
	err    error
}

func (s stubSampler) Sample(ctx context.Context) (models.Sample, error) {
	if s.err != nil {
		return models.Sample{}, s.err
	}
	out := s.sample
	out.Timestamp = time.Now()
	return out, nil
}

type fixture struct {
	h      *Handler
	router *gin.Engine
	dir    string
}

func newFixture(t *testing.T, sample models.Sample) *fixture {
	t.Helper()
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	logger := testr.New(t)

	key, err := services.GenerateKey()
	require.NoError(t, err)
	cipher, err := services.NewCipher(key)
	require.NoError(t, err)

	store, err := services.OpenEncryptedStore(services.StoreOptions{
		InMemory: true,
		Capacity: 10,
		Limiter:  services.NewRateLimiter(3, nil),
		Cipher:   cipher,
		Logger:   logger,
	})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	backups, err := services.OpenBackupManager(services.BackupOptions{Dir: cfg.BackupsDir(), MaxBackups: 3, Logger: logger})
	require.NoError(t, err)
	t.Cleanup(func() { backups.Close() })

	alerts, err := services.OpenAlertLog(cfg.AlertLogPath())
	require.NoError(t, err)
	t.Cleanup(func() { alerts.Close() })

	sampler := stubSampler{sample: sample}
	s, err := services.New(services.Options{
		Config:   cfg,
		Sampler:  sampler,
		Store:    store,
		Backups:  backups,
		AlertLog: alerts,
		Logger:   logger,
	})
	require.NoError(t, err)

	h := &Handler{
		Sentinel: s,
		Live:     sampler,
		Store:    store,
		Backups:  backups,
		Alerts:   alerts,
		Logger:   logger,
	}

	r := gin.New()
	r.GET("/health", h.GetHealth)
	r.GET("/status", h.GetStatus)
	r.GET("/sample", h.GetSample)
	r.GET("/history", h.GetHistory)
	r.GET("/summary", h.GetSummary)
	r.GET("/alerts", h.GetAlerts)
	r.GET("/memory", h.GetMemory)
	r.POST("/memory", h.PostMemory)
	r.GET("/backups", h.GetBackups)
	r.POST("/backups", h.PostSnapshot)
	r.GET("/backups/:id/restore", h.GetRestore)

	return &fixture{h: h, router: r, dir: cfg.DataDir}
}

func (f *fixture) request(t *testing.T, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v), w.Body.String())
}

func TestHealthEndpoint(t *testing.T) {
	f := newFixture(t, models.Sample{CPUPercent: 95, MemoryPercent: 90, DiskPercent: 10})

	w := f.request(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var h models.HealthStatus
	decode(t, w, &h)
	assert.Equal(t, models.HealthHealthy, h.Status)

	require.NoError(t, f.h.Sentinel.Tick(context.Background()))
	w = f.request(t, http.MethodGet, "/health", nil)
	decode(t, w, &h)
	assert.Equal(t, 55, h.Score)
	assert.Equal(t, models.HealthWarning, h.Status)
	assert.Equal(t, "idle", h.State)
}

func TestStatusAndSample(t *testing.T) {
	f := newFixture(t, models.Sample{CPUPercent: 12})

	w := f.request(t, http.MethodGet, "/status", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var status map[string]any
	decode(t, w, &status)
	assert.Equal(t, "idle", status["state"])

	w = f.request(t, http.MethodGet, "/sample", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var s models.Sample
	decode(t, w, &s)
	assert.Equal(t, 12.0, s.CPUPercent)
}

func TestSampleUnavailable(t *testing.T) {
	f := newFixture(t, models.Sample{})
	f.h.Live = stubSampler{err: services.ErrSampleUnavailable}

	w := f.request(t, http.MethodGet, "/sample", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestHistoryAndSummary(t *testing.T) {
	f := newFixture(t, models.Sample{CPUPercent: 40, MemoryPercent: 50})
	for i := 0; i < 3; i++ {
		require.NoError(t, f.h.Sentinel.Tick(context.Background()))
	}

	w := f.request(t, http.MethodGet, "/history?duration=1h", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var hist struct {
		Count int `json:"count"`
	}
	decode(t, w, &hist)
	assert.Equal(t, 3, hist.Count)

	assert.Equal(t, http.StatusBadRequest, f.request(t, http.MethodGet, "/history?duration=soon", nil).Code)

	w = f.request(t, http.MethodGet, "/summary?readings=2", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var sum models.HistorySummary
	decode(t, w, &sum)
	assert.Equal(t, 2, sum.ReadingsCount)
	assert.InDelta(t, 40, sum.CPUAvg, 1e-9)

	assert.Equal(t, http.StatusBadRequest, f.request(t, http.MethodGet, "/summary?readings=0", nil).Code)
}

func TestAlertsEndpoint(t *testing.T) {
	f := newFixture(t, models.Sample{CPUPercent: 95})
	require.NoError(t, f.h.Sentinel.Tick(context.Background()))

	w := f.request(t, http.MethodGet, "/alerts", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Active []models.Alert `json:"active"`
		Recent []models.Alert `json:"recent"`
	}
	decode(t, w, &resp)
	require.Len(t, resp.Active, 1)
	require.Len(t, resp.Recent, 1)
	assert.Equal(t, models.ResourceCPU, resp.Recent[0].Resource)
}

func TestMemoryEndpoints(t *testing.T) {
	f := newFixture(t, models.Sample{})

	w := f.request(t, http.MethodPost, "/memory", gin.H{"content": "deploy key rotated", "source_tag": "ops", "importance": 0.9})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created struct {
		ID string `json:"id"`
	}
	decode(t, w, &created)
	assert.NotEmpty(t, created.ID)

	w = f.request(t, http.MethodGet, "/memory", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Records []recordView `json:"records"`
		Total   int          `json:"total"`
	}
	decode(t, w, &list)
	require.Len(t, list.Records, 1)
	assert.Equal(t, "deploy key rotated", list.Records[0].Content)
	assert.Equal(t, models.DecryptOK, list.Records[0].Status)
	assert.Equal(t, 1, list.Total)
}

func TestMemoryValidation(t *testing.T) {
	f := newFixture(t, models.Sample{})

	assert.Equal(t, http.StatusBadRequest, f.request(t, http.MethodPost, "/memory", gin.H{"content": "x"}).Code, "importance required")
	assert.Equal(t, http.StatusBadRequest, f.request(t, http.MethodPost, "/memory", gin.H{"content": "x", "importance": 1.5}).Code)
	assert.Equal(t, http.StatusBadRequest, f.request(t, http.MethodGet, "/memory?limit=-1", nil).Code)
}

func TestMemoryRateLimited(t *testing.T) {
	f := newFixture(t, models.Sample{})
	body := gin.H{"content": "x", "importance": 0.0}

	for i := 0; i < 3; i++ {
		require.Equal(t, http.StatusCreated, f.request(t, http.MethodPost, "/memory", body).Code)
	}
	assert.Equal(t, http.StatusTooManyRequests, f.request(t, http.MethodPost, "/memory", body).Code)
}

func TestBackupEndpoints(t *testing.T) {
	f := newFixture(t, models.Sample{})

	payload := []byte("buffer contents\x00with binary")
	w := f.request(t, http.MethodPost, "/backups", gin.H{"buffer_id": "working-set", "payload": payload})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var archive models.BackupArchive
	decode(t, w, &archive)

	w = f.request(t, http.MethodGet, "/backups", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Backups []models.BackupArchive `json:"backups"`
		Usage   models.BackupUsage     `json:"usage"`
	}
	decode(t, w, &list)
	require.Len(t, list.Backups, 1)
	assert.Equal(t, 1, list.Usage.Count)

	w = f.request(t, http.MethodGet, "/backups/"+archive.ID+"/restore", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, payload, w.Body.Bytes())

	assert.Equal(t, http.StatusNotFound, f.request(t, http.MethodGet, "/backups/missing/restore", nil).Code)
	assert.Equal(t, http.StatusBadRequest, f.request(t, http.MethodPost, "/backups", gin.H{"payload": payload}).Code)

	path := filepath.Join(f.dir, "backups", archive.ID+".zst")
	require.NoError(t, os.WriteFile(path, []byte("corrupted"), 0o640))
	assert.Equal(t, http.StatusConflict, f.request(t, http.MethodGet, "/backups/"+archive.ID+"/restore", nil).Code)
}

func TestUnconfiguredComponents(t *testing.T) {
	f := newFixture(t, models.Sample{})
	f.h.Store = nil
	f.h.Backups = nil

	assert.Equal(t, http.StatusServiceUnavailable, f.request(t, http.MethodGet, "/memory", nil).Code)
	assert.Equal(t, http.StatusServiceUnavailable, f.request(t, http.MethodGet, "/backups", nil).Code)
}

func TestErrorStatus(t *testing.T) {
	assert.Equal(t, http.StatusTooManyRequests, errorStatus(services.ErrRateLimitExceeded))
	assert.Equal(t, http.StatusInternalServerError, errorStatus(os.ErrPermission))
}
