package detector

import (
	"testing"

	"polymarket-updown-bot/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *models.Config {
	return &models.Config{
		MinSpotMovePct: 0.3,
		WindowsSec:     []int{10},
		Buckets: []models.BucketConfig{
			{MinPct: 0.3, MaxPct: 0.6},
		},
		MaxPolyFreshnessSec: 5,
		MaxPolyMidForEntry:  0.85,
	}
}

const baseTs = int64(1_700_000_000_000)

// 现货 10 秒内 100 -> 100.5，中间价 0.2 且 2 秒新鲜：恰好一个 up 信号
func TestDetectSingleUpSignal(t *testing.T) {
	d := New(testConfig())

	d.OnSpotTick("BTC", 100, baseTs)
	d.OnPolyTick("BTC", 0.2, baseTs+8_000)
	d.OnSpotTick("BTC", 100.5, baseTs+10_000)

	signals := d.Detect("BTC")
	require.Len(t, signals, 1)

	sig := signals[0]
	assert.Equal(t, models.DirectionUp, sig.Direction)
	assert.Equal(t, 10, sig.WindowSec)
	assert.Equal(t, "s30-60", sig.Bucket)
	assert.Equal(t, "BTC_up_s30-60_w10", sig.StrategyTag)
	assert.Equal(t, "BTC_up_w10", sig.WindowTag)
	assert.Equal(t, "BTC_up_s30-60", sig.ThresholdTag)
	assert.InDelta(t, 0.5, sig.MovePct, 1e-9)
	assert.InDelta(t, 0.2, sig.PolyMid, 1e-9)
	assert.InDelta(t, 2.0, sig.PolyFreshnessSec, 1e-9)
	// 0.7·min(1, 0.5/0.30) + 0.3·(1 − 2/5)
	assert.InDelta(t, 0.88, sig.Confidence, 1e-9)
}

func TestDetectDownDirection(t *testing.T) {
	d := New(testConfig())

	d.OnSpotTick("ETH", 100, baseTs)
	d.OnPolyTick("ETH", 0.5, baseTs+9_000)
	d.OnSpotTick("ETH", 99.5, baseTs+10_000)

	signals := d.Detect("ETH")
	require.Len(t, signals, 1)
	assert.Equal(t, models.DirectionDown, signals[0].Direction)
	assert.InDelta(t, -0.5, signals[0].MovePct, 1e-9)
	assert.Equal(t, "ETH_down_s30-60_w10", signals[0].StrategyTag)
}

// 中间价太陈旧时整次检测作废
func TestDetectAbortsOnStalePoly(t *testing.T) {
	d := New(testConfig())

	d.OnSpotTick("BTC", 100, baseTs)
	d.OnPolyTick("BTC", 0.2, baseTs+2_000)
	d.OnSpotTick("BTC", 100.5, baseTs+10_000) // 新鲜度 8s > 5s

	assert.Empty(t, d.Detect("BTC"))
}

// 中间价过高说明行情已被定价
func TestDetectAbortsWhenPricedIn(t *testing.T) {
	d := New(testConfig())

	d.OnSpotTick("BTC", 100, baseTs)
	d.OnPolyTick("BTC", 0.9, baseTs+8_000)
	d.OnSpotTick("BTC", 100.5, baseTs+10_000)

	assert.Empty(t, d.Detect("BTC"))
}

// 波动低于阈值或落不进任何分桶都不产信号
func TestDetectFiltersSmallAndUnbucketedMoves(t *testing.T) {
	d := New(testConfig())

	d.OnSpotTick("BTC", 100, baseTs)
	d.OnPolyTick("BTC", 0.2, baseTs+8_000)
	d.OnSpotTick("BTC", 100.1, baseTs+10_000) // 0.1% < 0.3%
	assert.Empty(t, d.Detect("BTC"))

	// 0.8% 超出了唯一分桶 [0.3, 0.6) 的上界
	d2 := New(testConfig())
	d2.OnSpotTick("BTC", 100, baseTs)
	d2.OnPolyTick("BTC", 0.2, baseTs+8_000)
	d2.OnSpotTick("BTC", 100.8, baseTs+10_000)
	assert.Empty(t, d2.Detect("BTC"))
}

// 没有中间价或现货历史不足时静默跳过
func TestDetectRequiresBothFeeds(t *testing.T) {
	d := New(testConfig())

	d.OnSpotTick("BTC", 100, baseTs)
	d.OnSpotTick("BTC", 100.5, baseTs+10_000)
	assert.Empty(t, d.Detect("BTC")) // 无 poly tick

	d2 := New(testConfig())
	d2.OnPolyTick("BTC", 0.2, baseTs)
	d2.OnSpotTick("BTC", 100, baseTs)
	assert.Empty(t, d2.Detect("BTC")) // 现货只有一个 tick

	assert.Empty(t, d.Detect("DOGE")) // 未知标的
}

// 每个满足条件的窗口独立产出信号
func TestDetectMultipleWindows(t *testing.T) {
	cfg := testConfig()
	cfg.WindowsSec = []int{10, 30}
	cfg.Buckets = []models.BucketConfig{
		{MinPct: 0.3, MaxPct: 0.6},
		{MinPct: 0.6, MaxPct: 0}, // 上不封顶
	}
	d := New(cfg)

	d.OnSpotTick("BTC", 100, baseTs)
	d.OnSpotTick("BTC", 100.3, baseTs+20_000)
	d.OnPolyTick("BTC", 0.3, baseTs+28_000)
	d.OnSpotTick("BTC", 100.7, baseTs+30_000)

	signals := d.Detect("BTC")
	require.Len(t, signals, 2)

	byWindow := map[int]models.DivergenceSignal{}
	for _, s := range signals {
		byWindow[s.WindowSec] = s
	}
	// w10: 100.3 -> 100.7 ≈ +0.399%，落在 [0.3, 0.6)
	assert.Equal(t, "s30-60", byWindow[10].Bucket)
	// w30: 100 -> 100.7 = +0.7%，落在上不封顶的桶
	assert.Equal(t, "s60+", byWindow[30].Bucket)
	assert.Equal(t, "BTC_up_s60+_w30", byWindow[30].StrategyTag)
}

// 窗口覆盖不到时跳过该窗口而非中止整次检测
func TestDetectSkipsUncoveredWindow(t *testing.T) {
	cfg := testConfig()
	cfg.WindowsSec = []int{10, 60}
	d := New(cfg)

	d.OnSpotTick("BTC", 100, baseTs)
	d.OnPolyTick("BTC", 0.2, baseTs+8_000)
	d.OnSpotTick("BTC", 100.5, baseTs+10_000)

	signals := d.Detect("BTC")
	require.Len(t, signals, 1)
	assert.Equal(t, 10, signals[0].WindowSec)
}

func TestSignalCounts(t *testing.T) {
	d := New(testConfig())

	d.OnSpotTick("BTC", 100, baseTs)
	d.OnPolyTick("BTC", 0.2, baseTs+8_000)
	d.OnSpotTick("BTC", 100.5, baseTs+10_000)
	d.Detect("BTC")
	d.Detect("BTC")

	counts := d.SignalCounts()
	assert.Equal(t, int64(2), counts["BTC_up_s30-60_w10"])
}

func TestGetState(t *testing.T) {
	d := New(testConfig())
	assert.Equal(t, 0, d.GetState("BTC").TickCount)

	d.OnSpotTick("BTC", 100, baseTs)
	d.OnPolyTick("BTC", 0.4, baseTs-3_000)
	d.OnSpotTick("BTC", 101, baseTs+1_000)

	st := d.GetState("BTC")
	assert.Equal(t, 2, st.TickCount)
	require.NotNil(t, st.LatestSpot)
	require.NotNil(t, st.LatestPoly)
	assert.Equal(t, 101.0, st.LatestSpot.Price)
	assert.InDelta(t, 4.0, st.PolyFreshnessSec, 1e-9)
}

func TestBucketLabels(t *testing.T) {
	assert.Equal(t, "s30-60", bucketLabel(models.BucketConfig{MinPct: 0.3, MaxPct: 0.6}))
	assert.Equal(t, "s10-30", bucketLabel(models.BucketConfig{MinPct: 0.1, MaxPct: 0.3}))
	assert.Equal(t, "s60+", bucketLabel(models.BucketConfig{MinPct: 0.6}))
}

// 分桶区间为左闭右开
func TestBucketForBoundaries(t *testing.T) {
	buckets := []models.BucketConfig{
		{MinPct: 0.3, MaxPct: 0.6},
		{MinPct: 0.6, MaxPct: 0},
	}

	label, ok := bucketFor(buckets, 0.3)
	require.True(t, ok)
	assert.Equal(t, "s30-60", label)

	label, ok = bucketFor(buckets, 0.6)
	require.True(t, ok)
	assert.Equal(t, "s60+", label)

	_, ok = bucketFor(buckets, 0.2)
	assert.False(t, ok)
}

// 标签表满后按插入顺序淘汰最旧的
func TestTagCounterEviction(t *testing.T) {
	c := newTagCounter(2)
	c.Inc("a")
	c.Inc("a")
	c.Inc("b")
	c.Inc("c") // 淘汰 a

	counts := c.Snapshot()
	assert.NotContains(t, counts, "a")
	assert.Equal(t, int64(1), counts["b"])
	assert.Equal(t, int64(1), counts["c"])
}
