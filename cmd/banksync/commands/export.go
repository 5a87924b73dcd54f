package commands

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"banksync/internal/banksync/engine"
	"banksync/internal/banksync/pipeline"
	"banksync/internal/components/telemetry"
	"banksync/internal/credentials"
	"banksync/lib/restyutil"

	"github.com/spf13/cobra"
)

type exportFlags struct {
	bank     string
	base     string
	user     string
	from     string
	to       string
	accounts []int
	outputs  []string
}

func parseDate(name, value string) (time.Time, error) {
	d, err := time.Parse(time.DateOnly, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("--%s must be YYYY-MM-DD: %w", name, err)
	}
	return d, nil
}

// jobs pairs every --account with the --output at the same position. Without outputs
// every account is written to stdout, without accounts the first account is exported.
func (f exportFlags) jobs(today time.Time) ([]pipeline.Job, error) {
	from, err := parseDate("from", f.from)
	if err != nil {
		return nil, err
	}
	to := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, time.UTC)
	if f.to != "" {
		to, err = parseDate("to", f.to)
		if err != nil {
			return nil, err
		}
	}

	accounts := f.accounts
	if len(accounts) == 0 {
		accounts = []int{0}
	}
	if len(f.outputs) > 0 && len(f.outputs) != len(accounts) {
		return nil, fmt.Errorf("got %d --output for %d --account", len(f.outputs), len(accounts))
	}

	jobs := make([]pipeline.Job, len(accounts))
	for i, account := range accounts {
		output := pipeline.StdoutOutput
		if len(f.outputs) > 0 {
			output = f.outputs[i]
		}
		jobs[i] = pipeline.Job{
			Scope:  engine.ExportScope{AccountIndex: account, From: from, To: to},
			Output: output,
		}
	}
	return jobs, nil
}

func newExportCmd() *cobra.Command {
	var f exportFlags
	cmd := &cobra.Command{
		Use:   "export --bank <id> --from YYYY-MM-DD [--to YYYY-MM-DD] [--account n --output path]...",
		Short: "Logs in once and exports the transactions of one or more accounts.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			desc, err := current.registry.Lookup(f.bank)
			if err != nil {
				return err
			}
			jobs, err := f.jobs(current.clock.Now())
			if err != nil {
				return err
			}

			tel := telemetry.SlogAPI{}
			opts := engine.Options{
				BaseURL:           f.base,
				UserAgent:         current.config.UserAgent,
				Timeout:           current.config.Timeout(),
				RequestsPerSecond: current.config.RequestsPerSecond,
				Clock:             current.clock,
				Telemetry:         tel,
			}
			if current.config.DumpDir != "" {
				dump, err := restyutil.NewFilesystemOutput(current.config.DumpDir)
				if err != nil {
					return err
				}
				opts.Dump = dump
			}
			e, err := engine.New(desc, opts)
			if err != nil {
				return err
			}

			runs, err := openJournal()
			if err != nil {
				slog.Warn("runs will not be recorded", "err", err)
			} else {
				defer runs.Close()
			}

			source := &credentials.Source{
				DotEnv: current.config.EnvFile,
				In:     cmd.InOrStdin(),
				Prompt: cmd.ErrOrStderr(),
			}
			if cmd.InOrStdin() == os.Stdin {
				source = credentials.Stdin(current.config.EnvFile)
			}
			creds, err := source.Read(f.user)
			if err != nil {
				return err
			}

			driver := pipeline.NewDriver(e, pipeline.Options{
				Journal:   runs,
				Stdout:    cmd.OutOrStdout(),
				Clock:     current.clock,
				Telemetry: tel,
			})
			reports, err := driver.Run(ctx, creds, jobs)
			for _, report := range reports {
				if report.Err == nil {
					slog.Info(
						"export finished",
						"account", report.Job.Scope.AccountIndex,
						"outcome", report.Outcome,
						"rows", report.Rows,
						"output", report.Job.Output,
					)
				}
			}
			return err
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&f.bank, "bank", "", "The bank id, see `banksync banks`.")
	flags.StringVar(&f.base, "base", "", "The portal url, required for banks without a fixed portal.")
	flags.StringVar(&f.user, "user", "", "The login identifier, read from the environment or prompted when empty.")
	flags.StringVar(&f.from, "from", "", "The first value date to export.")
	flags.StringVar(&f.to, "to", "", "The last value date to export, defaults to today.")
	flags.IntSliceVar(&f.accounts, "account", nil, "The index of an account to export, repeatable.")
	flags.StringSliceVar(&f.outputs, "output", nil, "Where the account at the same position is written, - is stdout.")
	cmd.MarkFlagRequired("bank")
	cmd.MarkFlagRequired("from")
	return cmd
}
