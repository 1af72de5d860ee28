package tasks

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/franzego/dispatchd/internal/config"
	"github.com/franzego/dispatchd/internal/queue"
)

func testSweepConfig() config.SweepConfig {
	return config.SweepConfig{
		RetentionDays: 30,
		StaleAfter:    2 * time.Hour,
		BatchSize:     100,
	}
}

func mustDeliveries(t *testing.T, q queue.Queue) <-chan queue.Delivery {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	ch, err := q.Deliveries(ctx)
	require.NoError(t, err)
	return ch
}
