package cli

import (
	"fmt"
	"os"

	"sentinel/internal/middleware"
	"sentinel/internal/services"

	"github.com/go-logr/logr"
	"github.com/spf13/cobra"
)

var tokenCmd = &cobra.Command{
	Use:   "token [server-name]",
	Short: "Issue an API token for the HTTP and websocket endpoints",
	Args:  cobra.MaximumNArgs(1),
	RunE:  issueToken,
}

func issueToken(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	name, _ := os.Hostname()
	if len(args) == 1 {
		name = args[0]
	}
	if !middleware.ValidServerName(name) {
		return fmt.Errorf("invalid server name %q", name)
	}

	auth, err := services.NewAuthService(cfg.AuthSecretFile, cfg.TokenExpiry, nil, logr.Discard())
	if err != nil {
		return err
	}
	token, err := auth.GenerateToken(name)
	if err != nil {
		return fmt.Errorf("generate token: %w", err)
	}
	return printJSON(cmd.OutOrStdout(), map[string]any{
		"server":     name,
		"token":      token,
		"expires_at": auth.TokenExpiry(),
		"websocket":  "ws://" + cfg.Listen + "/ws?token=" + token,
	})
}
