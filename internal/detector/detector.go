package detector

import (
	"fmt"
	"math"
	"sync"

	"polymarket-updown-bot/internal/models"
)

// Detector 持有每个标的的现货价格缓冲与最新的市场中间价，
// 在每个现货 tick 上计算多窗口的百分比波动信号。
type Detector struct {
	mu     sync.Mutex
	cfg    *models.Config
	spot   map[string]*RollingPriceBuffer
	poly   map[string]models.PriceTick
	counts *tagCounter // 各策略标签的触发次数（有界）
}

// State 是 GetState 返回的诊断快照
type State struct {
	TickCount        int
	LatestSpot       *models.PriceTick
	LatestPoly       *models.PriceTick
	PolyFreshnessSec float64
}

// New 创建检测器
func New(cfg *models.Config) *Detector {
	return &Detector{
		cfg:    cfg,
		spot:   make(map[string]*RollingPriceBuffer),
		poly:   make(map[string]models.PriceTick),
		counts: newTagCounter(512),
	}
}

// OnSpotTick 接收一个现货价格 tick（时间戳须按标的非递减）
func (d *Detector) OnSpotTick(asset string, price float64, ts int64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	buf, ok := d.spot[asset]
	if !ok {
		buf = NewRollingPriceBuffer()
		d.spot[asset] = buf
	}
	buf.Append(price, ts)
}

// OnPolyTick 记录市场隐含中间价，仅保留每个标的最新的一份
func (d *Detector) OnPolyTick(asset string, mid float64, ts int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.poly[asset] = models.PriceTick{Price: mid, Ts: ts}
}

// Detect 对单个标的做一次检测。每个满足条件的窗口独立产出一个信号，
// 一次调用可能返回零个、一个或多个信号。
func (d *Detector) Detect(asset string) []models.DivergenceSignal {
	d.mu.Lock()
	defer d.mu.Unlock()

	buf, ok := d.spot[asset]
	if !ok || buf.Len() < 2 {
		return nil
	}
	polyTick, ok := d.poly[asset]
	if !ok {
		return nil
	}

	latest, _ := buf.Latest()
	freshnessSec := float64(latest.Ts-polyTick.Ts) / 1000
	if freshnessSec > d.cfg.MaxPolyFreshnessSec {
		return nil // 市场中间价太陈旧，不可作为对照
	}
	if polyTick.Price > d.cfg.MaxPolyMidForEntry {
		return nil // 行情已被市场定价，没有背离可吃
	}

	var signals []models.DivergenceSignal
	for _, window := range d.cfg.WindowsSec {
		pastPrice, ok := buf.PriceAt(window)
		if !ok {
			continue // 缓冲区还覆盖不到该窗口
		}
		movePct := (latest.Price - pastPrice) / pastPrice * 100
		if math.Abs(movePct) < d.cfg.MinSpotMovePct {
			continue
		}
		bucket, ok := bucketFor(d.cfg.Buckets, math.Abs(movePct))
		if !ok {
			continue
		}

		direction := models.DirectionUp
		if movePct < 0 {
			direction = models.DirectionDown
		}

		sig := models.DivergenceSignal{
			Asset:            asset,
			Direction:        direction,
			MovePct:          movePct,
			WindowSec:        window,
			PolyMid:          polyTick.Price,
			PolyFreshnessSec: freshnessSec,
			SpotPrice:        latest.Price,
			Bucket:           bucket,
			StrategyTag:      fmt.Sprintf("%s_%s_%s_w%d", asset, direction, bucket, window),
			WindowTag:        fmt.Sprintf("%s_%s_w%d", asset, direction, window),
			ThresholdTag:     fmt.Sprintf("%s_%s_%s", asset, direction, bucket),
			Confidence:       confidence(movePct, freshnessSec, d.cfg.MaxPolyFreshnessSec),
			Timestamp:        latest.Ts,
		}
		d.counts.Inc(sig.StrategyTag)
		signals = append(signals, sig)
	}
	return signals
}

// GetState 返回单个标的的诊断快照
func (d *Detector) GetState(asset string) State {
	d.mu.Lock()
	defer d.mu.Unlock()

	st := State{}
	if buf, ok := d.spot[asset]; ok {
		st.TickCount = buf.Len()
		if latest, ok := buf.Latest(); ok {
			tick := latest
			st.LatestSpot = &tick
		}
	}
	if polyTick, ok := d.poly[asset]; ok {
		tick := polyTick
		st.LatestPoly = &tick
		if st.LatestSpot != nil {
			st.PolyFreshnessSec = float64(st.LatestSpot.Ts-polyTick.Ts) / 1000
		}
	}
	return st
}

// SignalCounts 返回各策略标签的累计触发次数
func (d *Detector) SignalCounts() map[string]int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.counts.Snapshot()
}

// confidence 综合波动幅度与中间价新鲜度给出 [0,1] 置信度
func confidence(movePct, freshnessSec, maxFreshnessSec float64) float64 {
	moveTerm := math.Min(1, math.Abs(movePct)/0.30)
	freshTerm := math.Max(0, 1-freshnessSec/maxFreshnessSec)
	return 0.7*moveTerm + 0.3*freshTerm
}

// bucketFor 返回包含 |movePct| 的分桶标签，区间为 [min, max)，
// max <= 0 表示上不封顶。
func bucketFor(buckets []models.BucketConfig, absMovePct float64) (string, bool) {
	for _, b := range buckets {
		if absMovePct < b.MinPct {
			continue
		}
		if b.MaxPct > 0 && absMovePct >= b.MaxPct {
			continue
		}
		return bucketLabel(b), true
	}
	return "", false
}

// bucketLabel 生成 "s30-60" 或 "s60+" 形式的分桶标签
func bucketLabel(b models.BucketConfig) string {
	lo := int(math.Round(b.MinPct * 100))
	if b.MaxPct <= 0 {
		return fmt.Sprintf("s%02d+", lo)
	}
	hi := int(math.Round(b.MaxPct * 100))
	return fmt.Sprintf("s%02d-%02d", lo, hi)
}
