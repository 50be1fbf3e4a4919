package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/papermatch/papermatch-functions/pkg/config"
	"github.com/papermatch/papermatch-functions/pkg/ledger"
	"github.com/papermatch/papermatch-functions/storage/postgres"
)

func migrateCmd(opts *rootOptions) *cobra.Command {
	var printOnly bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the credits schema to the Postgres ledger",
		Long: `Create the creditor enum, the credits table and its unique reference index.

Examples:
  papermatch-functions migrate
  papermatch-functions migrate --print`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if printOnly {
				fmt.Fprint(cmd.OutOrStdout(), postgres.Schema())
				return nil
			}

			cfg, err := opts.load()
			if err != nil {
				return err
			}
			if cfg.LedgerBackend != config.BackendPostgres {
				return fmt.Errorf("migrate applies to the postgres backend, LEDGER_BACKEND is %q", cfg.LedgerBackend)
			}

			pgCfg := postgres.DefaultConfig()
			pgCfg.ConnectionString = cfg.DatabaseURL
			store, err := postgres.New(cmd.Context(), pgCfg)
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.Migrate(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema applied")
			return nil
		},
	}

	cmd.Flags().BoolVar(&printOnly, "print", false, "print the schema instead of applying it")
	return cmd
}

func grantCmd(opts *rootOptions) *cobra.Command {
	var creditor string

	cmd := &cobra.Command{
		Use:   "grant <user-id> <credits>",
		Short: "Append a manual credit adjustment",
		Long: `Append an entry without an external reference. Negative credits debit.

Examples:
  papermatch-functions grant 5f1c... 3
  papermatch-functions grant 5f1c... 3 --creditor init
  papermatch-functions grant 5f1c... -- -1`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			credits, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("credits must be an integer: %w", err)
			}

			return withWriter(cmd.Context(), opts, func(w *ledger.Writer) error {
				receipt, err := w.Grant(cmd.Context(), args[0], ledger.Creditor(creditor), credits)
				if err != nil {
					return err
				}
				balance, err := w.Balance(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "entry %s: %+d credits (%s), balance %d\n",
					receipt.Entry.ID, receipt.Entry.Credits, receipt.Entry.Creditor, balance)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&creditor, "creditor", string(ledger.CreditorAdmin), "creditor kind (admin, init or match)")
	return cmd
}

func balanceCmd(opts *rootOptions) *cobra.Command {
	var history bool

	cmd := &cobra.Command{
		Use:   "balance <user-id>",
		Short: "Print a user's credit balance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWriter(cmd.Context(), opts, func(w *ledger.Writer) error {
				out := cmd.OutOrStdout()
				if !history {
					balance, err := w.Balance(cmd.Context(), args[0])
					if err != nil {
						return err
					}
					fmt.Fprintln(out, balance)
					return nil
				}

				entries, err := w.Entries(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				var balance int64
				for _, e := range entries {
					balance += e.Credits
					fmt.Fprintf(out, "%s  %+5d  %-10s  %s\n", e.CreatedAt.Format("2006-01-02T15:04:05Z07:00"), e.Credits, e.Creditor, e.CreditorID)
				}
				fmt.Fprintf(out, "balance %d\n", balance)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&history, "history", false, "print every ledger entry")
	return cmd
}

// withWriter opens the configured ledger for the duration of fn
func withWriter(ctx context.Context, opts *rootOptions, fn func(*ledger.Writer) error) error {
	cfg, err := opts.load()
	if err != nil {
		return err
	}
	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	writer, err := ledger.NewWriter(store, ledger.Config{})
	if err != nil {
		return err
	}
	return fn(writer)
}
