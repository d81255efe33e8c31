package cli

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/kursadbilgin/notification-ledger/internal/app"
	"github.com/kursadbilgin/notification-ledger/internal/config"
	"github.com/kursadbilgin/notification-ledger/internal/domain"
	"github.com/kursadbilgin/notification-ledger/internal/observability"
	"github.com/kursadbilgin/notification-ledger/internal/service"
	"github.com/spf13/cobra"
)

// Admin is the slice of the notification facade the CLI drives.
type Admin interface {
	GetBalance(ctx context.Context) (*service.BalanceView, error)
	TopUp(ctx context.Context, amount int64, idempotencyKey string) (*service.TopUpResult, error)
	Audit(ctx context.Context) (*service.AuditReport, error)
	ListTemplates(ctx context.Context) ([]domain.Template, error)
	ToggleTemplate(ctx context.Context, id string) (*domain.Template, error)
	SetTemplateActive(ctx context.Context, id string, active bool) (*domain.Template, error)
	ListRecentMessages(ctx context.Context, limit int) ([]domain.Message, error)
	MessageCounts(ctx context.Context) (map[domain.MessageStatus]int64, error)
	ListTransactions(ctx context.Context, limit int) ([]domain.Transaction, error)
}

// Opener connects to the ledger. The returned func releases its resources.
type Opener func(ctx context.Context) (Admin, func() error, error)

// Execute runs the CLI against the stack configured in the environment.
func Execute() {
	if err := NewRootCommand(openStack).Execute(); err != nil {
		os.Exit(1)
	}
}

func NewRootCommand(open Opener) *cobra.Command {
	root := &cobra.Command{
		Use:   "ledgerctl",
		Short: "Administer the notification credit ledger",
		Long: `ledgerctl inspects and adjusts the prepaid credit ledger behind the
notification service. It reads the same environment as the API.`,
		SilenceUsage: true,
	}

	root.AddCommand(
		newBalanceCommand(open),
		newTopUpCommand(open),
		newAuditCommand(open),
		newTransactionsCommand(open),
		newTemplatesCommand(open),
		newMessagesCommand(open),
	)
	return root
}

// withAdmin opens the ledger for the duration of fn.
func withAdmin(cmd *cobra.Command, open Opener, fn func(ctx context.Context, admin Admin) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	admin, closeFn, err := open(ctx)
	if err != nil {
		return err
	}
	defer closeFn() //nolint:errcheck

	return fn(ctx, admin)
}

func openStack(ctx context.Context) (Admin, func() error, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	stack, err := app.Build(ctx, cfg, logger, app.Options{})
	if err != nil {
		return nil, nil, err
	}

	return stack.Service, func() error {
		_ = logger.Sync()
		return stack.Close()
	}, nil
}

func parseAmount(raw string) (int64, error) {
	amount, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: amount %q is not an integer", domain.ErrInvalidAmount, raw)
	}
	return amount, nil
}
