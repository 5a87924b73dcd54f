package commands

import (
	"context"
	"fmt"

	"banksync/internal/banksync/protocol"
	"banksync/internal/components/chrono"
	"banksync/internal/components/telemetry"
	"banksync/internal/journal"

	"github.com/spf13/cobra"
)

type flags struct {
	verbose bool
	config  string
	journal string
	dumpDir string
	envFile string
}

type state struct {
	config   Config
	registry protocol.Registry
	clock    chrono.API
}

var (
	rootFlags flags
	current   state
	// clock is replaced in tests.
	clock chrono.API = chrono.StandardImpl{}
)

func newRootCmd() *cobra.Command {
	rootFlags = flags{}
	root := &cobra.Command{
		Use:           "banksync",
		Short:         "banksync exports account transactions from online banking portals.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			telemetry.InitSlogTo(cmd.ErrOrStderr(), rootFlags.verbose)

			config, err := readConfig(rootFlags.config)
			if err != nil {
				return err
			}
			if rootFlags.journal != "" {
				config.Journal = rootFlags.journal
			}
			if config.Journal == "" {
				config.Journal = defaultJournal()
			}
			if rootFlags.dumpDir != "" {
				config.DumpDir = rootFlags.dumpDir
			}
			if rootFlags.envFile != "" {
				config.EnvFile = rootFlags.envFile
			}

			registry, err := protocol.NewRegistry(config.Banks)
			if err != nil {
				return err
			}
			current = state{config: config, registry: registry, clock: clock}
			return nil
		},
	}

	pflags := root.PersistentFlags()
	pflags.BoolVarP(&rootFlags.verbose, "verbose", "v", false, "Log debug output, including redacted form data.")
	pflags.StringVar(&rootFlags.config, "config", DefaultConfigFile, "The json5 config file, <name>.local.json5 is merged over it.")
	pflags.StringVar(&rootFlags.journal, "journal", "", "The sqlite path or libsql url of the run journal.")
	pflags.StringVar(&rootFlags.dumpDir, "dump-dir", "", "Write every http exchange with masked credentials into this directory.")
	pflags.StringVar(&rootFlags.envFile, "env-file", ".env", "A .env file holding BANKSYNC_IDENTIFIER and BANKSYNC_SECRET.")

	root.AddCommand(newExportCmd(), newBanksCmd(), newHistoryCmd())
	return root
}

func openJournal() (*journal.Journal, error) {
	j, err := journal.Open(current.config.Journal)
	if err != nil {
		return nil, fmt.Errorf("open journal %s: %w", current.config.Journal, err)
	}
	return j, nil
}

// ExecuteContext runs the command line and returns the process exit code.
func ExecuteContext(ctx context.Context) int {
	root := newRootCmd()
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(root.ErrOrStderr(), "error:", err)
		return 1
	}
	return 0
}
