package retrypolicy_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JonasHeinickeBio/europepmc-cache/internal/retrypolicy"
)

func TestExecute_SucceedsFirstTry(t *testing.T) {
	p := retrypolicy.Default(zap.NewNop())
	calls := 0

	err := p.Execute("test.op", func() error {
		calls++
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestExecute_RetriesThenSucceeds(t *testing.T) {
	p := retrypolicy.Policy{MaxAttempts: 3, InitialDelay: time.Millisecond, TotalBudget: 500 * time.Millisecond, Logger: zap.NewNop()}
	calls := 0

	err := p.Execute("test.op", func() error {
		calls++
		if calls < 2 {
			return errors.New("transient")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestExecute_StopsAtMaxAttempts(t *testing.T) {
	p := retrypolicy.Policy{MaxAttempts: 3, InitialDelay: time.Millisecond, TotalBudget: 500 * time.Millisecond, Logger: zap.NewNop()}
	calls := 0

	err := p.Execute("test.op", func() error {
		calls++
		return errors.New("always fails")
	})

	require.Error(t, err)
	assert.Equal(t, 3, calls)
}

func TestExecute_RespectsTotalBudget(t *testing.T) {
	p := retrypolicy.Policy{MaxAttempts: 100, InitialDelay: 50 * time.Millisecond, TotalBudget: 60 * time.Millisecond, Logger: zap.NewNop()}
	start := time.Now()

	_ = p.Execute("test.op", func() error {
		return errors.New("always fails")
	})

	assert.Less(t, time.Since(start), 500*time.Millisecond)
}
