package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"sentinel/internal/config"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	configPath string
	dataDir    string
	listenAddr string
	verbose    bool

	rootCmd = &cobra.Command{
		Use:   "sentinel",
		Short: "Watch a long-running process and protect its state",
		Long: `sentinel samples host and process resources, raises de-duplicated
alerts on threshold breaches and anomalies, keeps an encrypted record store,
and snapshots protected buffers before they are mutated.`,
		SilenceUsage: true,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "sentinel.yaml", "Path to the YAML config file")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "Override data_dir from the config")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose development logging")

	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVar(&listenAddr, "listen", "", "Override the HTTP listen address")

	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(keygenCmd)
	rootCmd.AddCommand(tokenCmd)

	rootCmd.AddCommand(backupsCmd)
	backupsCmd.AddCommand(backupsListCmd)
	backupsCmd.AddCommand(backupsRestoreCmd)
	backupsRestoreCmd.Flags().StringVarP(&restoreOut, "out", "o", "", "Write the payload to this file instead of stdout")
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func newLogger() (logr.Logger, func(), error) {
	zc := zap.NewProductionConfig()
	if verbose {
		zc = zap.NewDevelopmentConfig()
	}
	zl, err := zc.Build()
	if err != nil {
		return logr.Discard(), func() {}, fmt.Errorf("build logger: %w", err)
	}
	return zapr.NewLogger(zl).WithName("sentinel"), func() { _ = zl.Sync() }, nil
}

// loadConfig applies defaults < YAML < env < flags, then validates
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if cmd.Flags().Changed("data-dir") {
		cfg.DataDir = dataDir
	}
	if f := cmd.Flags().Lookup("listen"); f != nil && f.Changed {
		cfg.Listen = listenAddr
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
