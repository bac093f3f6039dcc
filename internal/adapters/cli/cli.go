// Package cli is the cardops command tree. Commands are thin: they parse
// flags, call the ApplicationService and print the result.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cardops/internal/app"
	"cardops/internal/config"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0
	ExitFailure      = 1 // the command ran but some records or variants failed
	ExitCommandError = 2 // bad input, configuration or unreachable backend
)

// ExitError carries the process exit code for an error.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error { return e.Err }

func wrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error. Errors that are not an
// ExitError map to ExitFailure.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// RootOptions holds global flags and the state shared by subcommands.
type RootOptions struct {
	ConfigPath string
	Format     string // "json" | "text"

	cfg *config.Config
	log *logrus.Logger
	out io.Writer
}

var validFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the cardops CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "cardops",
		Short: "Trading card inventory ingestion and cost accounting",
		Long: `cardops records incoming card inventory, keeps the weighted average cost
of every variant, and keeps the storefront's stock levels in line with the ledger.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			valid := false
			for _, f := range validFormats {
				if f == opts.Format {
					valid = true
				}
			}
			if !valid {
				return wrapExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, validFormats), nil)
			}
			if cmd.Name() == "schema" || (cmd.Parent() != nil && cmd.Parent().Name() == "schema") {
				return nil
			}
			cfg, err := config.Load(opts.ConfigPath)
			if err != nil {
				return wrapExitError(ExitCommandError, "configuration", err)
			}
			opts.cfg = cfg
			opts.log = cfg.NewLogger()
			opts.out = cmd.OutOrStdout()
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "path to a YAML config file (default $CARDOPS_CONFIG)")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(newIngestCommand(opts))
	cmd.AddCommand(newAddCommand(opts))
	cmd.AddCommand(newStockCommand(opts))
	cmd.AddCommand(newHistoryCommand(opts))
	cmd.AddCommand(newReconcileCommand(opts))
	cmd.AddCommand(newPricesCommand(opts))
	cmd.AddCommand(newSeedCommand(opts))
	cmd.AddCommand(newMigrateCommand(opts))
	cmd.AddCommand(newSchemaCommand(opts))
	cmd.AddCommand(newServeCommand(opts))

	return cmd
}

// service opens the configured backends. The returned func must be called
// when the command is done.
func (o *RootOptions) service(ctx context.Context) (app.ApplicationService, func(), error) {
	svc, closeFn, err := app.Open(ctx, o.cfg, o.log)
	if err != nil {
		return nil, nil, wrapExitError(ExitCommandError, "failed to start", err)
	}
	return svc, closeFn, nil
}
