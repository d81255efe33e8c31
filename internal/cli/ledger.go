package cli

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newBalanceCommand(open Opener) *cobra.Command {
	return &cobra.Command{
		Use:   "balance",
		Short: "Show the account balance and alert state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withAdmin(cmd, open, func(ctx context.Context, admin Admin) error {
				view, err := admin.GetBalance(ctx)
				if err != nil {
					return fmt.Errorf("get balance: %w", err)
				}

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Account:          %s\n", view.AccountID)
				fmt.Fprintf(out, "Balance:          %d %s\n", view.Balance, view.Currency)
				fmt.Fprintf(out, "Cost per message: %d\n", view.CostPerMessage)
				fmt.Fprintf(out, "Alert threshold:  %d\n", view.ThresholdCredits)
				if view.BelowThreshold {
					fmt.Fprintln(out, "Status:           LOW BALANCE")
				} else {
					fmt.Fprintln(out, "Status:           ok")
				}
				return nil
			})
		},
	}
}

func newTopUpCommand(open Opener) *cobra.Command {
	var key string

	cmd := &cobra.Command{
		Use:   "topup <amount>",
		Short: "Credit the account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := parseAmount(args[0])
			if err != nil {
				return err
			}

			return withAdmin(cmd, open, func(ctx context.Context, admin Admin) error {
				result, err := admin.TopUp(ctx, amount, key)
				if err != nil {
					return fmt.Errorf("top up: %w", err)
				}

				txn := result.Transaction
				if result.Replayed {
					fmt.Fprintf(cmd.OutOrStdout(), "Top-up %s already applied (balance after %d)\n", txn.ID, txn.BalanceAfter)
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Credited %d, balance now %d (transaction %s)\n", txn.Amount, txn.BalanceAfter, txn.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&key, "key", "k", "", "Idempotency key; repeating it never credits twice")
	return cmd
}

func newAuditCommand(open Opener) *cobra.Command {
	return &cobra.Command{
		Use:   "audit",
		Short: "Replay the transaction log against the cached balance",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withAdmin(cmd, open, func(ctx context.Context, admin Admin) error {
				report, err := admin.Audit(ctx)
				if err != nil {
					return fmt.Errorf("audit: %w", err)
				}

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Cached balance:       %d\n", report.CachedBalance)
				fmt.Fprintf(out, "Replayed balance:     %d\n", report.ReplayedBalance)
				fmt.Fprintf(out, "Transactions:         %d\n", report.TransactionCount)
				fmt.Fprintf(out, "Pending reservations: %d (%d credits)\n", report.PendingReservations, report.PendingCredits)
				if !report.Consistent {
					return fmt.Errorf("ledger drift of %d credits", report.Drift)
				}
				fmt.Fprintln(out, "Ledger consistent")
				return nil
			})
		},
	}
}

func newTransactionsCommand(open Opener) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "transactions",
		Short: "List recent ledger transactions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withAdmin(cmd, open, func(ctx context.Context, admin Admin) error {
				txns, err := admin.ListTransactions(ctx, limit)
				if err != nil {
					return fmt.Errorf("list transactions: %w", err)
				}

				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintf(w, "CREATED\tKIND\tAMOUNT\tBALANCE\tID\n")
				for _, txn := range txns {
					fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\n",
						txn.CreatedAt.Format("2006-01-02 15:04:05"),
						txn.Kind, txn.Amount, txn.BalanceAfter, txn.ID,
					)
				}
				return w.Flush()
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of transactions to show")
	return cmd
}
