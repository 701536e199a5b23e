package cli

import (
	"errors"
	"fmt"

	"sentinel/internal/models"
	"sentinel/internal/services"

	"github.com/spf13/cobra"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Take one reading and print the health status as JSON",
	Long: `Takes a single sample, evaluates it against the configured thresholds and
prints the health status. Exits non-zero when the status is critical.`,
	RunE: checkHealth,
}

var errCritical = errors.New("health is critical")

func checkHealth(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, flush, err := newLogger()
	if err != nil {
		return err
	}
	defer flush()

	s, err := services.New(services.Options{
		Config:  cfg,
		Sampler: services.NewHostSampler(cfg.DiskPath, nil, logger),
		Logger:  logger,
	})
	if err != nil {
		return err
	}
	if err := s.Tick(cmd.Context()); err != nil {
		return fmt.Errorf("sample: %w", err)
	}

	status := s.Health()
	if err := printJSON(cmd.OutOrStdout(), status); err != nil {
		return err
	}
	if status.Status == models.HealthCritical {
		return errCritical
	}
	return nil
}
