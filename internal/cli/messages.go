package cli

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/kursadbilgin/notification-ledger/internal/domain"
	"github.com/spf13/cobra"
)

func newMessagesCommand(open Opener) *cobra.Command {
	var limit int

	list := &cobra.Command{
		Use:   "list",
		Short: "List recent messages, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withAdmin(cmd, open, func(ctx context.Context, admin Admin) error {
				messages, err := admin.ListRecentMessages(ctx, limit)
				if err != nil {
					return fmt.Errorf("list messages: %w", err)
				}

				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintf(w, "SENT\tSTATUS\tTEMPLATE\tRECIPIENT\tCOST\tID\n")
				for _, m := range messages {
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
						m.SentAt.Format("2006-01-02 15:04:05"),
						m.Status, m.TemplateID, m.Recipient, m.CreditsCost, m.ID,
					)
				}
				return w.Flush()
			})
		},
	}
	list.Flags().IntVarP(&limit, "limit", "n", 20, "Number of messages to show (max 100)")

	counts := &cobra.Command{
		Use:   "counts",
		Short: "Count messages by status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withAdmin(cmd, open, func(ctx context.Context, admin Admin) error {
				byStatus, err := admin.MessageCounts(ctx)
				if err != nil {
					return fmt.Errorf("count messages: %w", err)
				}

				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintf(w, "STATUS\tCOUNT\n")
				for _, status := range []domain.MessageStatus{domain.MessagePending, domain.MessageDelivered, domain.MessageFailed} {
					fmt.Fprintf(w, "%s\t%d\n", status, byStatus[status])
				}
				return w.Flush()
			})
		},
	}

	cmd := &cobra.Command{
		Use:   "messages",
		Short: "Inspect dispatched messages",
	}
	cmd.AddCommand(list, counts)
	return cmd
}
