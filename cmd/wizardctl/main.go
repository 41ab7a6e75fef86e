// Command wizardctl administers agentify wizard deployments: it seeds
// accounts, mints tokens for local development, and inspects saved sessions.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/bizmatters/agent-builder/agentify-wizard/internal/config"
	"github.com/bizmatters/agent-builder/agentify-wizard/internal/logging"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// app carries what every subcommand needs. Tests swap fs and out.
type app struct {
	fs     afero.Fs
	out    io.Writer
	cfg    *config.Config
	logger *zap.Logger
}

func main() {
	a := &app{fs: afero.NewOsFs(), out: os.Stdout}
	if err := newRootCmd(a).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:          "wizardctl",
		Short:        "Administer the agentify wizard",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(a.fs)
			if err != nil {
				return err
			}
			a.cfg = cfg
			if a.logger == nil {
				logger, err := logging.New(cfg.Log.Debug)
				if err != nil {
					return err
				}
				a.logger = logger
			}
			return nil
		},
	}
	root.SetOut(a.out)

	root.AddCommand(
		newSeedUserCmd(a),
		newTokenCmd(a),
		newSessionCmd(a),
		newArtifactsCmd(a),
	)
	return root
}

func (a *app) printf(format string, args ...any) {
	fmt.Fprintf(a.out, format, args...)
}
