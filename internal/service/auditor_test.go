package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewAuditorValidation(t *testing.T) {
	t.Parallel()

	stack := newTestStack(t, 0, 0)

	if _, err := NewAuditor(nil, "", nil); err == nil {
		t.Fatal("expected error when ledger is nil")
	}
	if _, err := NewAuditor(stack.ledger, "every tuesday", nil); err == nil {
		t.Fatal("expected error for invalid schedule")
	}

	auditor, err := NewAuditor(stack.ledger, "", nil)
	require.NoError(t, err)
	assert.Equal(t, defaultAuditSchedule, auditor.schedule)
}

func TestAuditorRunOnceReportsDrift(t *testing.T) {
	t.Parallel()

	stack := newTestStack(t, 1000, 0)
	ctx := context.Background()

	core, recorded := observer.New(zapcore.InfoLevel)
	auditor, err := NewAuditor(stack.ledger, "@every 1h", zap.New(core))
	require.NoError(t, err)

	report, err := auditor.RunOnce(ctx)
	require.NoError(t, err)
	assert.True(t, report.Consistent)
	assert.Equal(t, 1, recorded.FilterMessage("ledger audit passed").Len())

	// Corrupt the cached balance behind the ledger's back.
	require.NoError(t, stack.db.Exec("UPDATE accounts SET balance = balance + 7 WHERE id = ?", testAccountID).Error)

	report, err = auditor.RunOnce(ctx)
	require.NoError(t, err)
	assert.False(t, report.Consistent)
	assert.Equal(t, int64(7), report.Drift)
	assert.Equal(t, int64(1000), report.ReplayedBalance)
	assert.Equal(t, 1, recorded.FilterMessage("ledger audit found drift").Len())
}
