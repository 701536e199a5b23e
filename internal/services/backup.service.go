package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"sentinel/internal/models"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
)

const (
	manifestName     = "manifest.json"
	archiveExt       = ".zst"
	manifestVersion  = 1
	defaultUploadTTL = 30 * time.Second
)

// BackupOptions configures a BackupManager
type BackupOptions struct {
	Dir           string
	MaxBackups    int
	MinRetention  int
	Uploader      Uploader
	UploadTimeout time.Duration
	Clock         Clock
	Logger        logr.Logger
}

type manifest struct {
	Version  int                    `json:"version"`
	Archives []models.BackupArchive `json:"archives"`
}

// BackupManager keeps rotated, checksummed, zstd-compressed snapshots of
// protected buffers. One file per archive plus a manifest listing them.
type BackupManager struct {
	mu           sync.Mutex
	dir          string
	maxBackups   int
	minRetention int
	archives     []models.BackupArchive // oldest first

	encoder *zstd.Encoder
	decoder *zstd.Decoder
	clock   *stampClock

	uploader      Uploader
	uploadTimeout time.Duration
	uploads       sync.WaitGroup

	logger logr.Logger
}

// OpenBackupManager opens the archive directory, creating it if needed, and
// loads the manifest.
func OpenBackupManager(opts BackupOptions) (*BackupManager, error) {
	if opts.Dir == "" {
		return nil, errors.New("backup directory is required")
	}
	if opts.MaxBackups < 1 {
		return nil, fmt.Errorf("max backups must be at least 1, got %d", opts.MaxBackups)
	}
	if err := os.MkdirAll(opts.Dir, 0o750); err != nil {
		return nil, fmt.Errorf("create backup directory %s: %w", opts.Dir, err)
	}

	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		encoder.Close()
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}

	timeout := opts.UploadTimeout
	if timeout <= 0 {
		timeout = defaultUploadTTL
	}

	m := &BackupManager{
		dir:           opts.Dir,
		maxBackups:    opts.MaxBackups,
		minRetention:  max(opts.MinRetention, 0),
		encoder:       encoder,
		decoder:       decoder,
		clock:         newStampClock(opts.Clock),
		uploader:      opts.Uploader,
		uploadTimeout: timeout,
		logger:        opts.Logger.WithName("backup"),
	}
	if err := m.loadManifest(); err != nil {
		m.Close()
		return nil, err
	}
	backupArchivesGauge.Set(float64(len(m.archives)))
	return m, nil
}

func (m *BackupManager) loadManifest() error {
	data, err := os.ReadFile(filepath.Join(m.dir, manifestName))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read manifest: %w", err)
	}

	var mf manifest
	if err := json.Unmarshal(data, &mf); err != nil {
		return fmt.Errorf("parse manifest: %w", err)
	}
	for _, a := range mf.Archives {
		if _, err := os.Stat(m.archivePath(a.ID)); err != nil {
			m.logger.Info("manifest entry has no archive file, dropping", "id", a.ID)
			continue
		}
		m.archives = append(m.archives, a)
		m.clock.observe(a.CreatedAt)
	}
	m.removeStrayTemps()
	return nil
}

// removeStrayTemps deletes temp files left behind by a crash mid-write
func (m *BackupManager) removeStrayTemps() {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".tmp") {
			os.Remove(filepath.Join(m.dir, e.Name()))
		}
	}
}

// Snapshot archives payload for bufferID and enforces retention. Append and
// trim happen under one lock so concurrent snapshots never race the floor.
func (m *BackupManager) Snapshot(bufferID string, payload []byte, metadata map[string]string) (models.BackupArchive, error) {
	sum := sha256.Sum256(payload)
	compressed := m.encoder.EncodeAll(payload, make([]byte, 0, len(payload)/2))

	m.mu.Lock()
	defer m.mu.Unlock()

	archive := models.BackupArchive{
		ID:             uuid.NewString(),
		BufferID:       bufferID,
		CreatedAt:      m.clock.Now(),
		Checksum:       hex.EncodeToString(sum[:]),
		Size:           int64(len(payload)),
		CompressedSize: int64(len(compressed)),
		Metadata:       copyMetadata(metadata),
	}

	path := m.archivePath(archive.ID)
	if err := writeFileAtomic(path, compressed, 0o640); err != nil {
		backupOperationsTotal.WithLabelValues("snapshot", "error").Inc()
		return models.BackupArchive{}, fmt.Errorf("write archive: %w", err)
	}

	next := append(append([]models.BackupArchive(nil), m.archives...), archive)
	victims := retentionVictims(len(next), m.maxBackups, m.minRetention)
	kept := next[victims:]

	if err := m.writeManifest(kept); err != nil {
		os.Remove(path)
		backupOperationsTotal.WithLabelValues("snapshot", "error").Inc()
		return models.BackupArchive{}, err
	}
	for _, old := range next[:victims] {
		if err := os.Remove(m.archivePath(old.ID)); err != nil && !errors.Is(err, os.ErrNotExist) {
			m.logger.Error(err, "could not remove rotated archive", "id", old.ID)
		}
	}
	m.archives = kept

	backupOperationsTotal.WithLabelValues("snapshot", "ok").Inc()
	backupArchivesGauge.Set(float64(len(m.archives)))
	m.logger.Info("snapshot taken", "id", archive.ID, "buffer", bufferID, "bytes", archive.Size, "rotated", victims)

	if m.uploader != nil {
		m.upload(path, archive.ID+archiveExt)
	}
	return archive, nil
}

// retentionVictims returns how many of the oldest archives to delete: never
// more than the overflow past maxBackups, never one of the newest minRetention.
func retentionVictims(count, maxBackups, minRetention int) int {
	excess := count - maxBackups
	deletable := count - minRetention
	n := min(excess, deletable)
	if n < 0 {
		return 0
	}
	return n
}

// upload ships an archive in the background; failures never fail the snapshot
func (m *BackupManager) upload(path, name string) {
	m.uploads.Add(1)
	go func() {
		defer m.uploads.Done()
		ctx, cancel := context.WithTimeout(context.Background(), m.uploadTimeout)
		defer cancel()
		if err := m.uploader.Upload(ctx, path, name); err != nil {
			backupOperationsTotal.WithLabelValues("upload", "error").Inc()
			m.logger.Error(err, "archive upload failed", "archive", name)
			return
		}
		backupOperationsTotal.WithLabelValues("upload", "ok").Inc()
		m.logger.V(1).Info("archive uploaded", "archive", name)
	}()
}

// Restore returns the original payload of an archive after verifying it
// against the checksum recorded at snapshot time.
func (m *BackupManager) Restore(id string) ([]byte, error) {
	archive, ok := m.find(id)
	if !ok {
		backupOperationsTotal.WithLabelValues("restore", "not_found").Inc()
		return nil, fmt.Errorf("%w: %s", ErrArchiveNotFound, id)
	}

	compressed, err := os.ReadFile(m.archivePath(id))
	if errors.Is(err, os.ErrNotExist) {
		backupOperationsTotal.WithLabelValues("restore", "not_found").Inc()
		return nil, fmt.Errorf("%w: %s", ErrArchiveNotFound, id)
	}
	if err != nil {
		backupOperationsTotal.WithLabelValues("restore", "error").Inc()
		return nil, fmt.Errorf("read archive %s: %w", id, err)
	}

	payload, err := m.decoder.DecodeAll(compressed, nil)
	if err != nil {
		backupOperationsTotal.WithLabelValues("restore", "corrupt").Inc()
		return nil, fmt.Errorf("%w: %s: %v", ErrIntegrity, id, err)
	}
	sum := sha256.Sum256(payload)
	if hex.EncodeToString(sum[:]) != archive.Checksum {
		backupOperationsTotal.WithLabelValues("restore", "corrupt").Inc()
		return nil, fmt.Errorf("%w: %s: checksum mismatch", ErrIntegrity, id)
	}

	backupOperationsTotal.WithLabelValues("restore", "ok").Inc()
	return payload, nil
}

func (m *BackupManager) find(id string) (models.BackupArchive, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.archives {
		if a.ID == id {
			return a, true
		}
	}
	return models.BackupArchive{}, false
}

// List returns archive metadata, newest first
func (m *BackupManager) List() []models.BackupArchive {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.BackupArchive, len(m.archives))
	for i, a := range m.archives {
		out[len(out)-1-i] = a
	}
	return out
}

// Usage reports archive count and on-disk size
func (m *BackupManager) Usage() models.BackupUsage {
	m.mu.Lock()
	defer m.mu.Unlock()
	var u models.BackupUsage
	for _, a := range m.archives {
		u.TotalBytes += a.CompressedSize
	}
	u.Count = len(m.archives)
	if u.Count > 0 {
		u.AverageBytes = float64(u.TotalBytes) / float64(u.Count)
	}
	return u
}

// SetRetention applies new limits. Existing overflow is trimmed on the next snapshot.
func (m *BackupManager) SetRetention(maxBackups, minRetention int) {
	if maxBackups < 1 {
		return
	}
	m.mu.Lock()
	m.maxBackups = maxBackups
	m.minRetention = max(minRetention, 0)
	m.mu.Unlock()
}

// Close waits for in-flight uploads and releases the codecs
func (m *BackupManager) Close() error {
	m.uploads.Wait()
	m.decoder.Close()
	return m.encoder.Close()
}

func (m *BackupManager) archivePath(id string) string {
	return filepath.Join(m.dir, id+archiveExt)
}

func (m *BackupManager) writeManifest(archives []models.BackupArchive) error {
	data, err := json.MarshalIndent(manifest{Version: manifestVersion, Archives: archives}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	if err := writeFileAtomic(filepath.Join(m.dir, manifestName), data, 0o640); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}

// writeFileAtomic writes via a synced temp file and rename
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	tmpPath := path + ".tmp"
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}

func copyMetadata(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
