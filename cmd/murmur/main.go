package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/murmurchat/murmur/internal/app"
	"github.com/murmurchat/murmur/internal/config"
	"github.com/murmurchat/murmur/internal/log"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:           "murmur",
		Short:         "Unified chat client over federated and hosted backends",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file")

	cmd.AddCommand(
		newConnectCmd(&configPath),
		newChannelsCmd(&configPath),
		newConversationsCmd(&configPath),
		newSendCmd(&configPath),
		newBackupCmd(&configPath),
	)
	return cmd
}

// bootCtx is the wiring every command shares: resolved configuration, the
// logger, and a constructed application.
type bootCtx struct {
	cfg config.Config
	log *zerolog.Logger
	app *app.App
}

// bootstrap loads configuration and builds the application.
func bootstrap(configPath string) (*bootCtx, error) {
	logger := log.New("info")
	cfg, _, err := config.Load(logger, configPath)
	if err != nil {
		return nil, err
	}
	logger = log.New(cfg.LogLevel)

	application, err := app.New(&cfg, logger)
	if err != nil {
		return nil, err
	}
	return &bootCtx{cfg: cfg, log: logger, app: application}, nil
}

func (b *bootCtx) close() {
	b.app.Close()
}
