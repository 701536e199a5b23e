package cli

import (
	"fmt"
	"os"

	"sentinel/internal/services"

	"github.com/go-logr/logr"
	"github.com/spf13/cobra"
)

var (
	restoreOut string

	backupsCmd = &cobra.Command{
		Use:   "backups",
		Short: "Inspect and restore buffer snapshots",
	}

	backupsListCmd = &cobra.Command{
		Use:   "list",
		Short: "List archives, newest first",
		RunE:  listBackups,
	}

	backupsRestoreCmd = &cobra.Command{
		Use:   "restore <archive-id>",
		Short: "Verify an archive and write its payload",
		Args:  cobra.ExactArgs(1),
		RunE:  restoreBackup,
	}
)

func openBackups(cmd *cobra.Command) (*services.BackupManager, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	return services.OpenBackupManager(services.BackupOptions{
		Dir:          cfg.BackupsDir(),
		MaxBackups:   cfg.MaxBackups,
		MinRetention: cfg.MinRetention,
		Logger:       logr.Discard(),
	})
}

func listBackups(cmd *cobra.Command, args []string) error {
	m, err := openBackups(cmd)
	if err != nil {
		return err
	}
	defer m.Close()
	return printJSON(cmd.OutOrStdout(), map[string]any{
		"backups": m.List(),
		"usage":   m.Usage(),
	})
}

func restoreBackup(cmd *cobra.Command, args []string) error {
	m, err := openBackups(cmd)
	if err != nil {
		return err
	}
	defer m.Close()

	payload, err := m.Restore(args[0])
	if err != nil {
		return err
	}
	if restoreOut == "" {
		_, err = cmd.OutOrStdout().Write(payload)
		return err
	}
	if err := os.WriteFile(restoreOut, payload, 0o640); err != nil {
		return fmt.Errorf("write %s: %w", restoreOut, err)
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "Restored %d bytes to %s\n", len(payload), restoreOut)
	return nil
}
