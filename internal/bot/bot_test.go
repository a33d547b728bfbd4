package bot

import (
	"testing"
	"time"

	"polymarket-updown-bot/internal/detector"
	"polymarket-updown-bot/internal/executor"
	"polymarket-updown-bot/internal/models"
	"polymarket-updown-bot/internal/position"
	"polymarket-updown-bot/internal/scanner"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type noopSource struct{}

func (noopSource) MarketBySlug(string) (*models.Market, error) { return nil, nil }

func (noopSource) SearchMarkets(string, int) ([]*models.Market, error) { return nil, nil }

func testConfig() *models.Config {
	return &models.Config{
		Assets:              []models.AssetConfig{{Symbol: "BTC", SpotSymbol: "BTCUSDT", SlugName: "bitcoin"}},
		RoundDurationSec:    300,
		MinRoundAgeSec:      15,
		MinTimeLeftSec:      45,
		ForceExitSec:        20,
		WarmupSec:           90,
		PositionSizeUSD:     50,
		MaxPositions:        2,
		TakeProfitPct:       20,
		StopLossPct:         20,
		MinSpotMovePct:      0.3,
		WindowsSec:          []int{10},
		Buckets:             []models.BucketConfig{{MinPct: 0.3, MaxPct: 0.6}},
		MaxPolyFreshnessSec: 5,
		MaxPolyMidForEntry:  0.85,
		TakerFeeBps:         200,
	}
}

func newTestBot(cfg *models.Config) *TradingBot {
	sc := scanner.NewMarketScanner(cfg, noopSource{})
	det := detector.New(cfg)
	mgr := position.NewManager(cfg)
	exec := executor.NewPaperExecutor(cfg)
	b := NewTradingBot(cfg, sc, det, mgr, exec)
	b.startedAtMs = b.nowFn()
	b.currentDay = time.Now().UTC().Format("2006-01-02")
	return b
}

func testMarket() *models.Market {
	return &models.Market{
		Asset:       "BTC",
		ConditionID: "c1",
		UpTokenID:   "up1",
		DownTokenID: "dn1",
		ExpiresAt:   time.Now().UnixMilli() + 200_000,
	}
}

func TestRebuildTokenIndex(t *testing.T) {
	b := newTestBot(testConfig())
	m := testMarket()

	assert.True(t, b.marketsChanged([]*models.Market{m}))
	b.rebuildTokenIndex([]*models.Market{m})
	assert.False(t, b.marketsChanged([]*models.Market{m}))

	ref, ok := b.tokenIndex["up1"]
	require.True(t, ok)
	assert.Equal(t, models.DirectionUp, ref.direction)
	ref, ok = b.tokenIndex["dn1"]
	require.True(t, ok)
	assert.Equal(t, models.DirectionDown, ref.direction)

	// 市场被整体替换后视为变化
	m2 := testMarket()
	m2.UpTokenID = "up2"
	assert.True(t, b.marketsChanged([]*models.Market{m2}))
}

// 盘口 tick 喂给检测器时统一折算为 Up 方向的隐含中间价
func TestOnBookTickFeedsDetector(t *testing.T) {
	b := newTestBot(testConfig())
	m := testMarket()
	b.rebuildTokenIndex([]*models.Market{m})

	// Down token 的中间价 0.3，等价于 Up 方向 0.7
	b.OnBookTick("dn1", models.OrderbookSnapshot{
		BestBid: 0.29, BestAsk: 0.31, BidDepth: 500, AskDepth: 500, Timestamp: 1_700_000_000_000,
	})

	st := b.detector.GetState("BTC")
	require.NotNil(t, st.LatestPoly)
	assert.InDelta(t, 0.70, st.LatestPoly.Price, 1e-9)

	// 单边报价缺失时不计算中间价
	b.OnBookTick("up1", models.OrderbookSnapshot{BestBid: 0.6, Timestamp: 1_700_000_001_000})
	st = b.detector.GetState("BTC")
	assert.Equal(t, int64(1_700_000_000_000), st.LatestPoly.Ts)
}

// 未知 token 的盘口被忽略
func TestOnBookTickUnknownToken(t *testing.T) {
	b := newTestBot(testConfig())
	b.OnBookTick("mystery", models.OrderbookSnapshot{BestBid: 0.5, BestAsk: 0.52, Timestamp: 1})
	assert.Nil(t, b.detector.GetState("BTC").LatestPoly)
}

// 盘口 tick 驱动持仓的价格跟踪
func TestOnBookTickDrivesPositionTracking(t *testing.T) {
	b := newTestBot(testConfig())
	m := testMarket()
	b.rebuildTokenIndex([]*models.Market{m})

	pos, err := b.manager.Open(position.OpenParams{
		StrategyTag: "BTC_up_s30-60_w10",
		Asset:       "BTC",
		Direction:   models.DirectionUp,
		TokenID:     "up1",
		MarketID:    "c1",
		EntryPrice:  0.50,
		Shares:      100,
		IsMaker:     true,
	})
	require.NoError(t, err)

	b.OnBookTick("up1", models.OrderbookSnapshot{
		BestBid: 0.55, BestAsk: 0.57, BidDepth: 800, Timestamp: time.Now().UnixMilli(),
	})
	assert.InDelta(t, 0.55, pos.CurrentPrice, 1e-9)
	assert.InDelta(t, 800, pos.LastBidDepth, 1e-9)

	// 反方向 token 的盘口不会驱动该持仓
	b.OnBookTick("dn1", models.OrderbookSnapshot{
		BestBid: 0.40, BestAsk: 0.42, Timestamp: time.Now().UnixMilli(),
	})
	assert.InDelta(t, 0.55, pos.CurrentPrice, 1e-9)
}

// 预热期内信号不开仓
func TestTryEnterBlockedByWarmup(t *testing.T) {
	b := newTestBot(testConfig())
	b.rebuildTokenIndex([]*models.Market{testMarket()})

	b.tryEnter(models.DivergenceSignal{
		Asset: "BTC", Direction: models.DirectionUp, StrategyTag: "BTC_up_s30-60_w10",
	})
	assert.Empty(t, b.manager.OpenPositions())
}

// 预热结束后仍须过回合闸门（此处无市场）
func TestTryEnterBlockedByRoundGate(t *testing.T) {
	cfg := testConfig()
	cfg.WarmupSec = 0
	b := newTestBot(cfg)

	b.tryEnter(models.DivergenceSignal{
		Asset: "BTC", Direction: models.DirectionUp, StrategyTag: "BTC_up_s30-60_w10",
	})
	assert.Empty(t, b.manager.OpenPositions())
}

func TestCheckDailyRollover(t *testing.T) {
	b := newTestBot(testConfig())
	b.currentDay = "2000-01-01" // 人为制造跨日

	pos, err := b.manager.Open(position.OpenParams{
		StrategyTag: "t", Asset: "BTC", Direction: models.DirectionUp,
		TokenID: "up1", MarketID: "c1", EntryPrice: 0.5, Shares: 100, IsMaker: true,
	})
	require.NoError(t, err)
	_, err = b.manager.Close(pos.ID, 0.4, models.ExitStopLoss, true)
	require.NoError(t, err)
	require.NotZero(t, b.manager.GetStats().DailyPnlUSD)

	b.checkDailyRollover()
	assert.Zero(t, b.manager.GetStats().DailyPnlUSD)
	assert.Equal(t, time.Now().UTC().Format("2006-01-02"), b.currentDay)
}
