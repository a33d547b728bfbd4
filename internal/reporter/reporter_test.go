package reporter

import (
	"testing"

	"polymarket-updown-bot/internal/models"

	"github.com/stretchr/testify/assert"
)

func TestCalculateMetrics(t *testing.T) {
	closed := []models.ClosedPosition{
		{GrossPnlUSD: 10, NetPnlUSD: 9.2, HoldSec: 60, Reason: models.ExitTakeProfit},
		{GrossPnlUSD: -8, NetPnlUSD: -8.6, HoldSec: 120, Reason: models.ExitStopLoss},
		{GrossPnlUSD: 4, NetPnlUSD: 3.6, HoldSec: 90, Reason: models.ExitTrailingStop},
	}

	m := calculateMetrics(closed)
	assert.Equal(t, 3, m.TotalTrades)
	assert.Equal(t, 2, m.WinningTrades)
	assert.Equal(t, 1, m.LosingTrades)
	assert.InDelta(t, 66.666, m.WinRate, 0.01)
	assert.InDelta(t, 4.2, m.NetPnlUSD, 1e-9)
	assert.InDelta(t, 6.0, m.GrossPnlUSD, 1e-9)
	assert.InDelta(t, 1.8, m.TotalFeesUSD, 1e-9)
	assert.InDelta(t, 90.0, m.AvgHoldSec, 1e-9)
	assert.InDelta(t, 9.2, m.BestTradeUSD, 1e-9)
	assert.InDelta(t, -8.6, m.WorstTradeUSD, 1e-9)
	// 平均盈利 6.4 / 平均亏损 8.6
	assert.InDelta(t, 6.4/8.6, m.AvgProfitLoss, 1e-9)
}

func TestCalculateMetricsEmpty(t *testing.T) {
	m := calculateMetrics(nil)
	assert.Equal(t, 0, m.TotalTrades)
	assert.Zero(t, m.NetPnlUSD)
	assert.Zero(t, m.WinRate)
}
