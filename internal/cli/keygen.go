package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"sentinel/internal/services"

	"github.com/awnumar/memguard"
	"github.com/spf13/cobra"
)

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate the record encryption key",
	Long: `Generates a new 256-bit key at key_file (default <data_dir>/sentinel.key).
Refuses to overwrite an existing key: records sealed with it would become unreadable.`,
	RunE: keygen,
}

func keygen(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	path := cfg.KeyPath()
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create key directory: %w", err)
	}

	key, err := services.GenerateKey()
	if err != nil {
		return fmt.Errorf("generate key: %w", err)
	}
	defer memguard.WipeBytes(key)

	if err := services.WriteKeyFile(path, key); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Key written to %s\nBack it up: records cannot be recovered without it.\n", path)
	return nil
}
