package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"sentinel/internal/config"
	"sentinel/internal/services"

	"github.com/go-logr/logr"
)

// minFreeDiskGB is the free space below which startup warns
const minFreeDiskGB = 1.0

// app holds the long-lived components of a running sentinel
type app struct {
	cfg      *config.Config
	logger   logr.Logger
	limiter  *services.RateLimiter
	store    *services.EncryptedStore
	backups  *services.BackupManager
	alertLog *services.AlertLog
	uploader *services.GCSUploader
	sampler  *services.HostSampler
	sentinel *services.Sentinel
}

// openApp opens every persistent component under cfg.DataDir. A missing or
// mismatched key is fatal; nothing is generated implicitly.
func openApp(ctx context.Context, cfg *config.Config, logger logr.Logger) (*app, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o750); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	a := &app{cfg: cfg, logger: logger}

	key, err := services.LoadKey(cfg.KeyPath())
	if err != nil {
		return nil, err
	}
	cipher, err := services.NewCipher(key)
	if err != nil {
		return nil, err
	}

	a.limiter = services.NewRateLimiter(cfg.RateLimitPerMinute, nil)
	a.store, err = services.OpenEncryptedStore(services.StoreOptions{
		Path:     cfg.RecordsDir(),
		Capacity: cfg.MaxMemoryEntries,
		Limiter:  a.limiter,
		Cipher:   cipher,
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}

	if cfg.Upload.Enabled {
		a.uploader, err = services.NewGCSUploader(ctx, cfg.Upload)
		if err != nil {
			a.close()
			return nil, err
		}
	}
	backupOpts := services.BackupOptions{
		Dir:           cfg.BackupsDir(),
		MaxBackups:    cfg.MaxBackups,
		MinRetention:  cfg.MinRetention,
		UploadTimeout: cfg.Upload.Timeout,
		Logger:        logger,
	}
	if a.uploader != nil {
		backupOpts.Uploader = a.uploader
	}
	a.backups, err = services.OpenBackupManager(backupOpts)
	if err != nil {
		a.close()
		return nil, err
	}

	a.alertLog, err = services.OpenAlertLog(cfg.AlertLogPath())
	if err != nil {
		a.close()
		return nil, err
	}

	a.sampler = services.NewHostSampler(cfg.DiskPath, nil, logger)
	if ok, err := a.sampler.HasDiskSpace(ctx, minFreeDiskGB); err != nil {
		logger.Error(err, "could not check free disk space", "path", cfg.DiskPath)
	} else if !ok {
		logger.Info("low free disk space, snapshots may fail", "path", cfg.DiskPath, "required_gb", minFreeDiskGB)
	}
	a.sentinel, err = services.New(services.Options{
		Config:   cfg,
		Sampler:  a.sampler,
		Store:    a.store,
		Limiter:  a.limiter,
		Backups:  a.backups,
		AlertLog: a.alertLog,
		Logger:   logger,
	})
	if err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *app) close() error {
	var errs []error
	if a.backups != nil {
		errs = append(errs, a.backups.Close())
	}
	if a.uploader != nil {
		errs = append(errs, a.uploader.Close())
	}
	if a.alertLog != nil {
		errs = append(errs, a.alertLog.Close())
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	return errors.Join(errs...)
}
