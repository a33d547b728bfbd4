package bot

import (
	"fmt"
	"sync"
	"time"

	"polymarket-updown-bot/internal/detector"
	"polymarket-updown-bot/internal/executor"
	"polymarket-updown-bot/internal/feed"
	"polymarket-updown-bot/internal/logger"
	"polymarket-updown-bot/internal/models"
	"polymarket-updown-bot/internal/persistence"
	"polymarket-updown-bot/internal/position"
	"polymarket-updown-bot/internal/recorder"
	"polymarket-updown-bot/internal/scanner"
)

// tokenRef 把一个结果 token 映射回它所属的市场与方向
type tokenRef struct {
	market    *models.Market
	direction models.Direction
}

// TradingBot 是策略驱动层：把现货流、盘口流、回合扫描器、
// 背离检测器和仓位管理器接在一起，并执行开平仓。
type TradingBot struct {
	cfg      *models.Config
	scanner  *scanner.MarketScanner
	detector *detector.Detector
	manager  *position.Manager
	exec     executor.Executor

	saver *persistence.Saver // 可为 nil
	rec   *recorder.Recorder // 可为 nil

	spotFeed *feed.SpotFeed
	polyFeed *feed.PolyFeed

	mu          sync.Mutex
	tokenIndex  map[string]tokenRef
	lastBook    map[string]models.OrderbookSnapshot
	isRunning   bool
	stopChannel chan bool
	startedAtMs int64
	startedAt   time.Time
	currentDay  string
	nowFn       func() int64 // 毫秒时钟，测试可替换
}

// NewTradingBot 创建策略驱动层实例
func NewTradingBot(cfg *models.Config, sc *scanner.MarketScanner, det *detector.Detector,
	mgr *position.Manager, exec executor.Executor) *TradingBot {
	return &TradingBot{
		cfg:        cfg,
		scanner:    sc,
		detector:   det,
		manager:    mgr,
		exec:       exec,
		tokenIndex: make(map[string]tokenRef),
		lastBook:   make(map[string]models.OrderbookSnapshot),
		nowFn:      func() int64 { return time.Now().UnixMilli() },
	}
}

// AttachSaver 启用会话状态的异步持久化
func (b *TradingBot) AttachSaver(s *persistence.Saver) { b.saver = s }

// AttachRecorder 启用行情录制
func (b *TradingBot) AttachRecorder(r *recorder.Recorder) { b.rec = r }

// Start 启动实盘模式：发现市场、订阅行情并启动后台循环
func (b *TradingBot) Start() error {
	b.mu.Lock()
	if b.isRunning {
		b.mu.Unlock()
		return fmt.Errorf("机器人已在运行")
	}
	b.isRunning = true
	b.stopChannel = make(chan bool)
	b.startedAt = time.Now()
	b.startedAtMs = b.nowFn()
	b.currentDay = time.Now().UTC().Format("2006-01-02")
	b.mu.Unlock()

	// 1. 先做一次市场发现，拿到当前回合
	markets := b.scanner.Refresh()
	if len(markets) == 0 {
		logger.S().Warn("启动时未发现任何市场，等待扫描循环重试。")
	}
	b.rebuildTokenIndex(markets)

	// 2. 建立行情订阅
	b.spotFeed = feed.NewSpotFeed(b.cfg, b.OnSpotTick)
	b.polyFeed = feed.NewPolyFeed(b.cfg, b.OnBookTick)
	b.polyFeed.UpdateMarkets(markets)
	b.spotFeed.Start()
	b.polyFeed.Start()

	// 3. 启动后台循环
	b.scanner.Start()
	go b.exitLoop()
	go b.roundWatchLoop()
	go b.monitorStatus()

	logger.S().Infof("机器人已启动。标的数=%d 回合时长=%ds 预热期=%.0fs",
		len(b.cfg.Assets), b.cfg.RoundDurationSec, b.cfg.WarmupSec)
	return nil
}

// Stop 停止机器人并保存最终状态
func (b *TradingBot) Stop() {
	b.mu.Lock()
	if !b.isRunning {
		b.mu.Unlock()
		return
	}
	b.isRunning = false
	close(b.stopChannel)
	b.mu.Unlock()

	if b.spotFeed != nil {
		b.spotFeed.Stop()
	}
	if b.polyFeed != nil {
		b.polyFeed.Stop()
	}
	b.scanner.Stop()

	b.persistSnapshot()
	logger.S().Info("机器人已停止。")
}

// StartedAt 返回会话开始时间
func (b *TradingBot) StartedAt() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.startedAt
}

// OnSpotTick 处理一条现货成交：更新缓冲并立即做一次检测
func (b *TradingBot) OnSpotTick(asset string, price float64, tsMs int64) {
	if b.rec != nil {
		if err := b.rec.RecordSpot(asset, price, tsMs); err != nil {
			logger.S().Warnf("录制现货 tick 失败: %v", err)
		}
	}

	b.detector.OnSpotTick(asset, price, tsMs)
	for _, sig := range b.detector.Detect(asset) {
		b.tryEnter(sig)
	}
}

// OnBookTick 处理一条盘口快照：刷新市场价、喂给检测器并驱动持仓跟踪
func (b *TradingBot) OnBookTick(tokenID string, snap models.OrderbookSnapshot) {
	if b.rec != nil {
		if err := b.rec.RecordBook(tokenID, snap); err != nil {
			logger.S().Warnf("录制盘口快照失败: %v", err)
		}
	}

	b.mu.Lock()
	b.lastBook[tokenID] = snap
	ref, ok := b.tokenIndex[tokenID]
	b.mu.Unlock()
	if !ok {
		return
	}

	// 双边都有报价才能算中间价
	if snap.BestBid > 0 && snap.BestAsk > 0 {
		mid := (snap.BestBid + snap.BestAsk) / 2
		upMid := mid
		downMid := 1 - mid
		if ref.direction == models.DirectionDown {
			upMid, downMid = downMid, upMid
		}
		b.scanner.UpdatePrice(ref.market.ConditionID, upMid, downMid)
		b.detector.OnPolyTick(ref.market.Asset, upMid, snap.Timestamp)
	}

	// 持仓在该 token 上时，用买一价驱动盈亏跟踪
	if pos, ok := b.manager.OpenByAsset(ref.market.Asset); ok && pos.TokenID == tokenID && snap.BestBid > 0 {
		b.manager.Tick(pos.ID, snap.BestBid, &snap)
	}
}

// tryEnter 对一个背离信号依次过各道闸门，全部通过后开仓
func (b *TradingBot) tryEnter(sig models.DivergenceSignal) {
	if float64(b.nowFn()-b.startedAtMs)/1000 < b.cfg.WarmupSec {
		return // 预热期内只收数据
	}

	if ok, reason := b.scanner.CanTrade(); !ok {
		logger.S().Debugf("信号 %s 被回合闸门拦下: %s", sig.StrategyTag, reason)
		return
	}

	market, ok := b.scanner.GetMarket(sig.Asset)
	if !ok {
		return
	}

	entryPrice := market.PriceForDirection(sig.Direction)
	if entryPrice <= 0 || entryPrice >= 1 {
		return
	}
	if entryPrice > b.cfg.MaxPolyMidForEntry {
		logger.S().Debugf("信号 %s 已被市场定价 (%.3f)，放弃", sig.StrategyTag, entryPrice)
		return
	}

	if ok, reason := b.manager.CanOpen(sig.Asset, sig.Direction); !ok {
		logger.S().Debugf("信号 %s 被风控拦下: %s", sig.StrategyTag, reason)
		return
	}

	tokenID := market.TokenIDForDirection(sig.Direction)
	fill, err := b.exec.Buy(tokenID, entryPrice, b.cfg.PositionSizeUSD, false)
	if err != nil {
		logger.S().Errorf("开仓下单失败 (%s): %v", sig.StrategyTag, err)
		return
	}

	b.mu.Lock()
	entryBidDepth := b.lastBook[tokenID].BidDepth
	b.mu.Unlock()

	pos, err := b.manager.Open(position.OpenParams{
		StrategyTag:   sig.StrategyTag,
		Asset:         sig.Asset,
		Direction:     sig.Direction,
		TokenID:       tokenID,
		MarketID:      market.ConditionID,
		EntryPrice:    fill.Price,
		Shares:        fill.Shares,
		IsMaker:       fill.IsMaker,
		ExpiresAt:     market.ExpiresAt,
		EntryBidDepth: entryBidDepth,
		Timestamp:     fill.FilledAt,
	})
	if err != nil {
		logger.S().Errorf("登记仓位失败 (%s): %v", sig.StrategyTag, err)
		return
	}

	logger.S().Infof("开仓: id=%s tag=%s 方向=%s 价格=%.4f 份额=%.2f 置信度=%.2f 窗口=%ds 波动=%.3f%%",
		pos.ID, sig.StrategyTag, sig.Direction, fill.Price, fill.Shares,
		sig.Confidence, sig.WindowSec, sig.MovePct)
	b.persistSnapshot()
}

// exitLoop 每秒评估一遍退出级联，并处理跨日重置
func (b *TradingBot) exitLoop() {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopChannel:
			return
		case <-ticker.C:
			b.checkDailyRollover()
			round := b.scanner.GetRound()
			for _, req := range b.manager.CheckExits(round.TimeLeftSec) {
				b.executeExit(req)
			}
		}
	}
}

// executeExit 执行一条退出请求并结算仓位
func (b *TradingBot) executeExit(req models.ExitRequest) {
	pos, ok := b.manager.Get(req.PositionID)
	if !ok {
		return
	}

	fill, err := b.exec.Sell(req.TokenID, req.TargetPrice, pos.Shares, req.PreferMaker)
	if err != nil {
		logger.S().Errorf("平仓下单失败 (id=%s, 原因=%s): %v", req.PositionID, req.Reason, err)
		return
	}

	closed, err := b.manager.Close(req.PositionID, fill.Price, req.Reason, fill.IsMaker)
	if err != nil {
		logger.S().Errorf("结算仓位失败 (id=%s): %v", req.PositionID, err)
		return
	}

	logger.S().Infof("平仓: id=%s tag=%s 原因=%s 入场=%.4f 出场=%.4f 净盈亏=%.2f%% (%.2f USD) 持仓=%.0fs",
		closed.ID, closed.StrategyTag, closed.Reason, closed.EntryPrice,
		closed.ExitPrice, closed.NetPnlPct, closed.NetPnlUSD, closed.HoldSec)
	b.persistSnapshot()
}

// checkDailyRollover 检测 UTC 跨日并重置每日风控计数
func (b *TradingBot) checkDailyRollover() {
	day := time.Now().UTC().Format("2006-01-02")
	b.mu.Lock()
	changed := day != b.currentDay
	if changed {
		b.currentDay = day
	}
	b.mu.Unlock()

	if changed {
		b.manager.ResetDaily()
		logger.S().Infof("UTC 跨日，每日盈亏计数已重置: %s", day)
	}
}

// roundWatchLoop 监测回合切换：市场集合变化时重建索引并重新订阅盘口
func (b *TradingBot) roundWatchLoop() {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopChannel:
			return
		case <-ticker.C:
			round := b.scanner.GetRound()
			if b.marketsChanged(round.Markets) {
				logger.S().Infof("检测到回合切换 (slot=%d)，重新订阅盘口。", round.Slot)
				b.rebuildTokenIndex(round.Markets)
				b.polyFeed.UpdateMarkets(round.Markets)
			}
		}
	}
}

// marketsChanged 判断当前回合的 token 集合是否与索引不一致
func (b *TradingBot) marketsChanged(markets []*models.Market) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	count := 0
	for _, m := range markets {
		if _, ok := b.tokenIndex[m.UpTokenID]; !ok {
			return true
		}
		if _, ok := b.tokenIndex[m.DownTokenID]; !ok {
			return true
		}
		count += 2
	}
	return count != len(b.tokenIndex)
}

// rebuildTokenIndex 用给定市场集合整体替换 token 索引
func (b *TradingBot) rebuildTokenIndex(markets []*models.Market) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.tokenIndex = make(map[string]tokenRef, len(markets)*2)
	for _, m := range markets {
		b.tokenIndex[m.UpTokenID] = tokenRef{market: m, direction: models.DirectionUp}
		b.tokenIndex[m.DownTokenID] = tokenRef{market: m, direction: models.DirectionDown}
	}
}

// monitorStatus 定期打印运行状态
func (b *TradingBot) monitorStatus() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopChannel:
			return
		case <-ticker.C:
			b.printStatus()
		}
	}
}

func (b *TradingBot) printStatus() {
	round := b.scanner.GetRound()
	stats := b.manager.GetStats()

	logger.S().Infof("状态: slot=%d 剩余=%.0fs 持仓=%d 已平仓=%d 当日盈亏=%.2f USD",
		round.Slot, round.TimeLeftSec, stats.OpenCount, stats.ClosedCount, stats.DailyPnlUSD)

	for _, pos := range b.manager.OpenPositions() {
		logger.S().Infof("  持仓 %s: %s %s 入场=%.4f 现价=%.4f 盈亏=%.2f%% 确认高点=%.2f%%",
			pos.ID, pos.Asset, pos.Direction, pos.EntryPrice, pos.CurrentPrice,
			pos.PnlPct(), pos.ConfirmedHighPct())
	}
}

// persistSnapshot 异步保存一份会话状态快照
func (b *TradingBot) persistSnapshot() {
	if b.saver == nil {
		return
	}
	state := b.manager.Snapshot()
	b.saver.Enqueue(&state)
}

// Replay 以离线方式回放录制文件：现货 tick 走完整的检测管线，
// 盘口快照喂给检测器，最终打印各策略标签的触发统计。
// 回放不经过回合闸门与执行通道，用于信号研究。
func (b *TradingBot) Replay(path string) error {
	tokenAssets := make(map[string]string) // token -> asset（由配置无法还原，按首见现货标的近似）

	err := recorder.Replay(path, func(ev recorder.Event) error {
		switch ev.Kind {
		case recorder.KindSpot:
			b.detector.OnSpotTick(ev.Key, ev.Price, ev.Ts)
			for _, sig := range b.detector.Detect(ev.Key) {
				logger.S().Infof("回放信号: tag=%s 波动=%.3f%% 窗口=%ds 中间价=%.3f 置信度=%.2f",
					sig.StrategyTag, sig.MovePct, sig.WindowSec, sig.PolyMid, sig.Confidence)
			}
		case recorder.KindBook:
			snap := ev.Snapshot()
			if snap.BestBid <= 0 || snap.BestAsk <= 0 {
				return nil
			}
			asset, ok := tokenAssets[ev.Key]
			if !ok {
				// 单标的录制时直接归属该标的；多标的录制需逐 token 标注
				if len(b.cfg.Assets) == 1 {
					asset = b.cfg.Assets[0].Symbol
					tokenAssets[ev.Key] = asset
				} else {
					return nil
				}
			}
			mid := (snap.BestBid + snap.BestAsk) / 2
			b.detector.OnPolyTick(asset, mid, snap.Timestamp)
		}
		return nil
	})
	if err != nil {
		return err
	}

	counts := b.detector.SignalCounts()
	logger.S().Infof("回放完成，共 %d 个策略标签有触发:", len(counts))
	for tag, n := range counts {
		logger.S().Infof("  %s: %d", tag, n)
	}
	return nil
}
