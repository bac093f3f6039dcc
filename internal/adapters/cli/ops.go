package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"cardops/internal/adapters/web"
	"cardops/internal/app"

	"github.com/spf13/cobra"
)

func newReconcileCommand(opts *RootOptions) *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Push database stock levels to the storefront where they differ",
		Long: `Compare every published variant's quantity with the storefront and set the
storefront to the database value where they differ. This repairs storefront
syncs that failed during ingestion. Use --dry-run to only report the drift.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := interruptible(cmd.Context())
			defer stop()

			svc, closeFn, err := opts.service(ctx)
			if err != nil {
				return err
			}
			defer closeFn()

			report, err := svc.Reconcile(ctx, dryRun)
			if report == nil {
				return wrapExitError(ExitCommandError, "reconcile failed", err)
			}
			if opts.Format == "json" {
				if perr := printJSON(opts.out, report); perr != nil {
					return perr
				}
			} else {
				printReconcile(opts.out, report)
			}
			if err != nil {
				return wrapExitError(ExitFailure, "reconcile interrupted", err)
			}
			if len(report.Errors) > 0 {
				return wrapExitError(ExitFailure, fmt.Sprintf("%d variant(s) could not be reconciled", len(report.Errors)), nil)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report drift without writing")
	return cmd
}

func newPricesCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "prices",
		Short: "Recalculate list prices from market data",
		Long: `Fetch the market price of every card, convert it to the NM list price
(USD_TO_CAD × MARKUP, rounded up to the next 0.50) and scale the other
conditions. A variant is only updated when its price moves by at least 5%
and at least $0.50.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := interruptible(cmd.Context())
			defer stop()

			svc, closeFn, err := opts.service(ctx)
			if err != nil {
				return err
			}
			defer closeFn()

			report, err := svc.UpdatePrices(ctx)
			if report == nil {
				return wrapExitError(ExitCommandError, "price update failed", err)
			}
			if opts.Format == "json" {
				if perr := printJSON(opts.out, report); perr != nil {
					return perr
				}
			} else {
				printPrices(opts.out, report)
			}
			if err != nil {
				return wrapExitError(ExitFailure, "price update interrupted", err)
			}
			return nil
		},
	}
}

func newSeedCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "seed <catalog.csv>",
		Short: "Load cards and variants from a catalog file",
		Long: `Upsert reference cards and their variants. One row per variant with the
columns name, set_code, number, market_ref, condition, sku, external_id,
price_cad. Stock and cost basis are never changed by seeding.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return wrapExitError(ExitCommandError, "failed to open catalog", err)
			}
			defer f.Close()

			svc, closeFn, err := opts.service(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			res, err := svc.SeedCatalog(cmd.Context(), f)
			if err != nil {
				return wrapExitError(ExitCommandError, "seed failed", err)
			}
			if opts.Format == "json" {
				return printJSON(opts.out, res)
			}
			fmt.Fprintf(opts.out, "Seeded %d card(s), %d variant(s).\n", res.Cards, res.Variants)
			return nil
		},
	}
}

func newMigrateCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.Migrate(cmd.Context(), opts.cfg, opts.log); err != nil {
				return wrapExitError(ExitCommandError, "migration failed", err)
			}
			fmt.Fprintln(opts.out, "Database is up to date.")
			return nil
		},
	}
}

func newSchemaCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Print JSON Schemas of the reports cardops produces",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "summary",
		Short: "JSON Schema of the batch summary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, err := app.SummarySchema()
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(schema))
			return err
		},
	})
	return cmd
}

func newServeCommand(opts *RootOptions) *cobra.Command {
	var allowedOrigins string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := interruptible(cmd.Context())
			defer stop()

			svc, closeFn, err := opts.service(ctx)
			if err != nil {
				return err
			}
			defer closeFn()

			if allowedOrigins == "" {
				allowedOrigins = os.Getenv("ALLOWED_ORIGINS")
			}
			srv := &http.Server{
				Addr:              ":" + opts.cfg.ServerPort,
				Handler:           web.NewHandler(svc, allowedOrigins, opts.log),
				ReadHeaderTimeout: 10 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				opts.log.WithField("port", opts.cfg.ServerPort).Info("server starting")
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					return wrapExitError(ExitCommandError, "server", err)
				}
				return nil
			case <-ctx.Done():
			}

			opts.log.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().StringVar(&allowedOrigins, "allowed-origins", "", "comma-separated CORS origins (default $ALLOWED_ORIGINS)")
	return cmd
}
