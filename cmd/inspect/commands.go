package main

import (
	"campus-sync/domain/ledger"
	"campus-sync/repositories"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/olekukonko/tablewriter"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Database string
	Format   string // "json" | "text"
}

var ValidFormats = []string{"text", "json"}

func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:           "inspect",
		Short:         "Inspect the campus-sync badger store",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}
	cmd.PersistentFlags().StringVar(&opts.Database, "db", "./data/badger", "path to the badger directory")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(newAccountsCommand(opts))
	cmd.AddCommand(newTransactionsCommand(opts))
	cmd.AddCommand(newPostsCommand(opts))
	return cmd
}

func newAccountsCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "accounts",
		Short: "List accounts and their balance",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(opts.Database, func(db *badger.DB) error {
				accounts, err := repositories.NewLedgerRepository(db, slog.Default(), nil).ListAccounts()
				if err != nil {
					return err
				}
				rows := lo.Map(accounts, func(a ledger.Account, _ int) []string {
					return []string{a.ID, a.DisplayName, a.Balance.StringFixed(2)}
				})
				return render(cmd.OutOrStdout(), opts.Format, []string{"Account", "Name", "Balance"}, rows)
			})
		},
	}
}

func newTransactionsCommand(opts *RootOptions) *cobra.Command {
	var limit int
	var cursor string
	cmd := &cobra.Command{
		Use:   "transactions <account_id>",
		Short: "List the transactions of an account, most recent first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(opts.Database, func(db *badger.DB) error {
				var limitPtr, cursorPtr = lo.ToPtr(limit), lo.ToPtr(cursor)
				if limit <= 0 {
					limitPtr = nil
				}
				if cursor == "" {
					cursorPtr = nil
				}
				repository := repositories.NewLedgerRepository(db, slog.Default(), limitPtr)
				transactions, next, err := repository.ListTransactions(args[0], cursorPtr)
				if err != nil {
					return err
				}
				rows := lo.Map(transactions, func(t ledger.Transaction, _ int) []string {
					return []string{
						t.ID,
						t.OccurredAt.Format("2006-01-02 15:04:05"),
						string(t.Kind),
						t.Amount.StringFixed(2),
						t.Description,
					}
				})
				if err = render(cmd.OutOrStdout(), opts.Format, []string{"Id", "At", "Kind", "Amount", "Description"}, rows); err != nil {
					return err
				}
				if opts.Format == "text" && next != nil && *next != "" && limitPtr != nil && len(transactions) == limit {
					fmt.Fprintf(cmd.OutOrStdout(), "\nNext page: --cursor %s\n", *next)
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "page size, 0 lists everything")
	cmd.Flags().StringVar(&cursor, "cursor", "", "resume after this key")
	return cmd
}

func newPostsCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "posts",
		Short: "List forum posts and their reply count",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(opts.Database, func(db *badger.DB) error {
				posts, err := repositories.NewPostRepository(db, slog.Default()).ListPosts()
				if err != nil {
					return err
				}
				rows := make([][]string, 0, len(posts))
				for _, p := range posts {
					rows = append(rows, []string{p.ID, p.Title, fmt.Sprint(len(p.ReplyIDs))})
				}
				return render(cmd.OutOrStdout(), opts.Format, []string{"Post", "Title", "Replies"}, rows)
			})
		},
	}
}

func withDB(path string, fn func(db *badger.DB) error) error {
	db, err := openDB(path)
	if err != nil {
		return fmt.Errorf("opening badger at %s: %w", path, err)
	}
	defer db.Close()
	return fn(db)
}

// openDB opens read only, so a running syncd keeps its lock.
func openDB(path string) (*badger.DB, error) {
	opts := badger.DefaultOptions(path).
		WithReadOnly(true).
		WithLogger(nil).
		WithBypassLockGuard(true)
	return badger.Open(opts)
}

func render(w io.Writer, format string, header []string, rows [][]string) error {
	if format == "json" {
		records := lo.Map(rows, func(row []string, _ int) map[string]string {
			record := make(map[string]string, len(header))
			for i, h := range header {
				record[strings.ToLower(h)] = row[i]
			}
			return record
		})
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		return encoder.Encode(records)
	}

	table := tablewriter.NewWriter(w)
	table.SetHeader(header)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")
	table.AppendBulk(rows)
	table.Render()
	return nil
}
