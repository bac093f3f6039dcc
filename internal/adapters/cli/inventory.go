package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"cardops/internal/adapters/csvfile"
	"cardops/internal/app"
	"cardops/internal/core"

	"github.com/spf13/cobra"
)

func newIngestCommand(opts *RootOptions) *cobra.Command {
	var errorsOut, failedOut string

	cmd := &cobra.Command{
		Use:   "ingest <file.csv>",
		Short: "Record a bulk inventory upload",
		Long: `Validate, match and record every row of a CSV upload.

Rows rejected by validation are written to errors_<file>.csv with an
error_reason column. Valid rows that could not be recorded are written to
failed_<file>.csv in the input format; fix the cause and ingest that file
again. Rows already recorded are never in it, so nothing is added twice.

Columns: card_name, set_code, card_number, condition, quantity, unit_cost,
source, notes (optional).`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(cmd, opts, args[0], errorsOut, failedOut)
		},
	}
	cmd.Flags().StringVar(&errorsOut, "errors-out", "", "validation errors file (default errors_<file>.csv)")
	cmd.Flags().StringVar(&failedOut, "failed-out", "", "failed rows file (default failed_<file>.csv)")
	return cmd
}

func runIngest(cmd *cobra.Command, opts *RootOptions, path, errorsOut, failedOut string) error {
	ctx, stop := interruptible(cmd.Context())
	defer stop()

	f, err := os.Open(path)
	if err != nil {
		return wrapExitError(ExitCommandError, "failed to open upload", err)
	}
	defer f.Close()

	svc, closeFn, err := opts.service(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	res, runErr := svc.IngestCSV(ctx, app.IngestRequest{Source: f, Name: filepath.Base(path)})
	if res == nil {
		return wrapExitError(ExitCommandError, "ingest failed", runErr)
	}

	if errorsOut == "" {
		errorsOut = artifactPath(path, "errors")
	}
	if failedOut == "" {
		failedOut = artifactPath(path, "failed")
	}
	nErr, err := writeArtifact(errorsOut, func(w io.Writer) (int, error) {
		return csvfile.WriteValidationErrors(w, res.Header, res.Report)
	})
	if err != nil {
		return wrapExitError(ExitCommandError, "failed to write validation errors", err)
	}
	nFailed, err := writeArtifact(failedOut, func(w io.Writer) (int, error) {
		return csvfile.WriteFailedRows(w, res.Header, res.Report)
	})
	if err != nil {
		return wrapExitError(ExitCommandError, "failed to write failed rows", err)
	}

	if opts.Format == "json" {
		if err := printJSON(opts.out, res.Report); err != nil {
			return err
		}
	} else {
		printBatch(opts.out, res.Report)
		if nErr > 0 {
			fmt.Fprintf(opts.out, "  %d validation error(s) written to %s\n", nErr, errorsOut)
		}
		if nFailed > 0 {
			fmt.Fprintf(opts.out, "  %d failed row(s) written to %s\n", nFailed, failedOut)
		}
	}

	if runErr != nil {
		if errors.Is(runErr, core.ErrCancelled) {
			return wrapExitError(ExitFailure, "batch interrupted", runErr)
		}
		return runErr
	}
	return nil
}

// artifactPath puts prefix_<name> next to the upload.
func artifactPath(upload, prefix string) string {
	return filepath.Join(filepath.Dir(upload), prefix+"_"+filepath.Base(upload))
}

// writeArtifact creates path only when write produced at least one row. With
// no rows, an artifact left by an earlier run of the same upload is removed so
// it cannot be submitted again by mistake.
func writeArtifact(path string, write func(io.Writer) (int, error)) (int, error) {
	var buf bytes.Buffer
	n, err := write(&buf)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return 0, err
		}
		return 0, nil
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return 0, err
	}
	return n, nil
}

func newAddCommand(opts *RootOptions) *cobra.Command {
	var req app.AddLotRequest

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Record a single lot",
		Example: `  cardops add --name "Charizard VMAX" --set swsh1 --number 142 \
    --condition NM --qty 2 --cost 80.00 --source buylist`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, closeFn, err := opts.service(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			res, err := svc.AddLot(cmd.Context(), req)
			if err != nil {
				return err
			}
			if opts.Format == "json" {
				if err := printJSON(opts.out, res.Outcome); err != nil {
					return err
				}
			} else {
				printOutcome(opts.out, res.Outcome)
			}
			if res.Outcome.State == core.StateRejected {
				return wrapExitError(ExitFailure, "lot rejected", res.Outcome.Err)
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&req.CardName, "name", "", "card name")
	f.StringVar(&req.SetCode, "set", "", "set code, e.g. swsh1")
	f.StringVar(&req.CardNumber, "number", "", "card number within the set")
	f.StringVar(&req.Condition, "condition", "", "NM, LP, MP, HP or DMG")
	f.StringVar(&req.Quantity, "qty", "", "units received")
	f.StringVar(&req.UnitCost, "cost", "", "cost per unit")
	f.StringVar(&req.Source, "source", "", "buylist, wholesale, opening, personal, trade, gift, return or other")
	f.StringVar(&req.Notes, "notes", "", "free text")
	return cmd
}

func newStockCommand(opts *RootOptions) *cobra.Command {
	var req app.StockRequest

	cmd := &cobra.Command{
		Use:   "stock",
		Short: "Show stock levels and cost basis",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, closeFn, err := opts.service(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			res, err := svc.StockLevels(cmd.Context(), req)
			if err != nil {
				return err
			}
			if opts.Format == "json" {
				return printJSON(opts.out, res)
			}
			printStock(opts.out, res)
			return nil
		},
	}
	cmd.Flags().StringVar(&req.SetCode, "set", "", "only this set")
	cmd.Flags().BoolVar(&req.InStockOnly, "in-stock", false, "only variants with stock on hand")
	return cmd
}

func newHistoryCommand(opts *RootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history <variant-id>",
		Short: "Show the inventory transactions of a variant, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(strings.TrimSpace(args[0]), 10, 64)
			if err != nil {
				return wrapExitError(ExitCommandError, fmt.Sprintf("invalid variant id %q", args[0]), nil)
			}
			svc, closeFn, err := opts.service(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			res, err := svc.History(cmd.Context(), id, limit)
			if err != nil {
				return err
			}
			if opts.Format == "json" {
				return printJSON(opts.out, res)
			}
			printHistory(opts.out, res)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of transactions")
	return cmd
}

// interruptible returns a context cancelled on SIGINT or SIGTERM.
func interruptible(ctx context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
}
