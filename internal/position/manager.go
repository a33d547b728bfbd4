package position

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"polymarket-updown-bot/internal/models"

	"github.com/jxskiss/base62"
)

// closedRingCap 是已平仓记录环的容量，超出后丢弃最旧的
const closedRingCap = 5000

// Manager 持有全部活动仓位，负责高水位/停滞/进展追踪、
// 九级退出级联与多维风控门控。所有方法都是同步且无 I/O 的；
// 多协程宿主须通过内部互斥锁串行访问同一个实例。
type Manager struct {
	mu  sync.Mutex
	cfg *models.Config

	open    map[string]*models.OpenPosition // id -> 仓位
	byAsset map[string]string               // asset -> id（同一标的至多一笔）

	closed []models.ClosedPosition

	dailyPnlUSD    float64
	lastStopLossMs int64            // 最近一次止损的时间戳，全局冷却
	exitCooldowns  map[string]int64 // "ASSET:dir" -> 最近平仓时间戳

	idCounter int64

	nowFn func() int64 // 毫秒时钟，测试可替换
}

// OpenParams 携带开仓所需的全部入参
type OpenParams struct {
	StrategyTag   string
	Asset         string
	Direction     models.Direction
	TokenID       string
	MarketID      string
	EntryPrice    float64
	Shares        float64
	IsMaker       bool
	ExpiresAt     int64 // 所属回合的到期时间 (epoch ms)
	EntryBidDepth float64
	Timestamp     int64 // epoch ms，0 表示取当前时间
}

// NewManager 创建仓位管理器
func NewManager(cfg *models.Config) *Manager {
	return &Manager{
		cfg:           cfg,
		open:          make(map[string]*models.OpenPosition),
		byAsset:       make(map[string]string),
		closed:        make([]models.ClosedPosition, 0, 64),
		exitCooldowns: make(map[string]int64),
		nowFn:         func() int64 { return time.Now().UnixMilli() },
	}
}

// CanOpen 检查所有风控门控。返回 false 时附带失败原因，
// 这是预期内的控制流结果而非错误。
func (m *Manager) CanOpen(asset string, direction models.Direction) (bool, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.canOpenLocked(asset, direction)
}

func (m *Manager) canOpenLocked(asset string, direction models.Direction) (bool, string) {
	now := m.nowFn()

	if len(m.open) >= m.cfg.MaxPositions {
		return false, fmt.Sprintf("max positions reached (%d)", m.cfg.MaxPositions)
	}
	if m.cfg.MaxDailyLossUSD > 0 && m.dailyPnlUSD <= -m.cfg.MaxDailyLossUSD {
		return false, fmt.Sprintf("daily loss limit hit (%.2f)", m.dailyPnlUSD)
	}
	if m.cfg.StopLossCooldownSec > 0 && m.lastStopLossMs > 0 {
		elapsed := float64(now-m.lastStopLossMs) / 1000
		if elapsed < m.cfg.StopLossCooldownSec {
			return false, fmt.Sprintf("stop-loss cooldown (%.0fs left)", m.cfg.StopLossCooldownSec-elapsed)
		}
	}
	if asset != "" {
		if _, exists := m.byAsset[asset]; exists {
			return false, fmt.Sprintf("position already open for %s", asset)
		}
	}
	if asset != "" && direction != "" && m.cfg.ExitCooldownSec > 0 {
		if ts, ok := m.exitCooldowns[cooldownKey(asset, direction)]; ok {
			elapsed := float64(now-ts) / 1000
			if elapsed < m.cfg.ExitCooldownSec {
				return false, fmt.Sprintf("exit cooldown for %s %s (%.0fs left)", asset, direction, m.cfg.ExitCooldownSec-elapsed)
			}
		}
	}
	return true, ""
}

// Open 开一笔新仓位。高水位与确认高点以入场价初始化。
func (m *Manager) Open(p OpenParams) (*models.OpenPosition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ok, reason := m.canOpenLocked(p.Asset, p.Direction); !ok {
		return nil, fmt.Errorf("开仓被风控拒绝: %s", reason)
	}
	if p.EntryPrice <= 0 || p.Shares <= 0 {
		return nil, fmt.Errorf("开仓参数无效: price=%.4f shares=%.2f", p.EntryPrice, p.Shares)
	}

	now := p.Timestamp
	if now == 0 {
		now = m.nowFn()
	}

	m.idCounter++
	id := "p" + string(base62.FormatInt(m.idCounter))

	entryFeePct := 0.0
	if !p.IsMaker {
		entryFeePct = m.takerFeePct(p.EntryPrice)
	}

	pos := &models.OpenPosition{
		ID:                 id,
		StrategyTag:        p.StrategyTag,
		Asset:              p.Asset,
		Direction:          p.Direction,
		TokenID:            p.TokenID,
		MarketID:           p.MarketID,
		EntryPrice:         p.EntryPrice,
		CurrentPrice:       p.EntryPrice,
		Shares:             p.Shares,
		CostBasis:          p.EntryPrice * p.Shares,
		EntryIsMaker:       p.IsMaker,
		EntryFeePct:        entryFeePct,
		HighWaterMark:      p.EntryPrice,
		ConfirmedHigh:      p.EntryPrice,
		EntryTime:          now,
		ExpiresAt:          p.ExpiresAt,
		LastBidChangeTs:    now,
		LastProgressTs:     now,
		LastProgressPnlPct: 0,
		EntryBidDepth:      p.EntryBidDepth,
		LastBidDepth:       p.EntryBidDepth,
		PrevPrice:          p.EntryPrice,
	}

	m.open[id] = pos
	m.byAsset[p.Asset] = id
	return pos, nil
}

// Tick 用最新价格（和可选的盘口快照）更新一笔仓位。
// 盘口缺失时沿用上次的盘口数据，价格照常更新。
func (m *Manager) Tick(id string, price float64, book *models.OrderbookSnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pos, ok := m.open[id]
	if !ok || price <= 0 {
		return
	}
	now := m.nowFn()

	pos.PrevPrice = pos.CurrentPrice
	pos.CurrentPrice = price

	pnl := pos.PnlPct()
	if pnl > pos.HighPnlPct {
		pos.HighPnlPct = pnl
	}
	if pnl < pos.LowPnlPct {
		pos.LowPnlPct = pnl
	}
	if pnl > 0 {
		pos.WasEverPositive = true
	}

	// 高水位确认：严格新高把计数重置为 1；落在容差内累加计数，
	// 达到确认数后才把 ConfirmedHigh 提升到高水位；其余情况清零。
	switch {
	case price > pos.HighWaterMark:
		pos.HighWaterMark = price
		pos.HWMConfirmTicks = 1
	case price >= pos.HighWaterMark*(1-m.cfg.RatchetConfirmTolerancePct/100):
		pos.HWMConfirmTicks++
	default:
		pos.HWMConfirmTicks = 0
	}
	if pos.HWMConfirmTicks >= m.cfg.RatchetConfirmTicks && pos.ConfirmedHigh < pos.HighWaterMark {
		pos.ConfirmedHigh = pos.HighWaterMark
	}

	if book != nil {
		if book.BestBid != pos.LastBestBid {
			pos.LastBestBid = book.BestBid
			pos.LastBidChangeTs = now
		}
		pos.LastBidDepth = book.BidDepth
	}

	// 盈亏相对上次记录变化超过 1 个百分点视为有进展
	if math.Abs(pnl-pos.LastProgressPnlPct) > 1 {
		pos.LastProgressTs = now
		pos.LastProgressPnlPct = pnl
	}
}

// CheckExits 对每笔仓位按严格优先级评估九个退出条件，
// 每笔仓位每轮至多产出一条建议（first match wins）。
func (m *Manager) CheckExits(timeLeftSec float64) []models.ExitRequest {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]string, 0, len(m.open))
	for id := range m.open {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var exits []models.ExitRequest
	for _, id := range ids {
		if req, ok := m.evaluateExit(m.open[id], timeLeftSec); ok {
			exits = append(exits, req)
		}
	}
	return exits
}

func (m *Manager) evaluateExit(pos *models.OpenPosition, timeLeftSec float64) (models.ExitRequest, bool) {
	now := m.nowFn()
	pnl := pos.PnlPct()

	makeReq := func(reason models.ExitReason, preferMaker bool) (models.ExitRequest, bool) {
		return models.ExitRequest{
			PositionID:  pos.ID,
			Asset:       pos.Asset,
			TokenID:     pos.TokenID,
			Reason:      reason,
			TargetPrice: pos.CurrentPrice,
			PreferMaker: preferMaker,
		}, true
	}

	// 1. 强制平仓：距到期太近，不计成本吃单离场
	if timeLeftSec <= m.cfg.ForceExitSec {
		return makeReq(models.ExitForce, false)
	}

	// 2. 止盈
	if pnl >= m.cfg.TakeProfitPct {
		return makeReq(models.ExitTakeProfit, m.cfg.MakerForExits)
	}

	// 3. 止损：亏损时速度优先于手续费
	if pnl <= -m.cfg.StopLossPct {
		return makeReq(models.ExitStopLoss, false)
	}

	// 4. 棘轮地板：确认高点越高，允许的回撤越小
	if m.cfg.RatchetEnabled {
		floor := ratchetFloor(pos.ConfirmedHighPct())
		if pnl <= floor {
			return makeReq(models.ExitRatchetFloor, false)
		}
	}

	// 5. 移动止盈：从最高盈利回撤超过动态容差
	if m.cfg.TrailingEnabled && pos.HighPnlPct > 0 {
		trail := math.Min(profitTrail(pos.HighPnlPct), timeTrail(timeLeftSec))
		if pos.HighPnlPct-pnl >= trail {
			return makeReq(models.ExitTrailingStop, false)
		}
	}

	// 6. 深度坍塌：买盘深度较入场大幅缩水且价格走弱、仍有利润时先走
	if m.cfg.DepthCollapsePct > 0 && pos.EntryBidDepth > 0 {
		dropPct := (pos.EntryBidDepth - pos.LastBidDepth) / pos.EntryBidDepth * 100
		if dropPct >= m.cfg.DepthCollapsePct && pos.CurrentPrice < pos.PrevPrice && pnl >= 2 {
			return makeReq(models.ExitDepthCollapse, false)
		}
	}

	// 7. 盈利但买一价长期不动
	if m.cfg.StaleBidSec > 0 && pnl >= m.cfg.StaleProfitPct && m.cfg.StaleProfitPct > 0 {
		if float64(now-pos.LastBidChangeTs)/1000 >= m.cfg.StaleBidSec {
			return makeReq(models.ExitStaleProfit, true)
		}
	}

	// 8. 盈利停滞：有一定浮盈但离止盈尚远且长时间无进展
	if m.cfg.StagnantSec > 0 && pnl >= m.cfg.StagnantProfitPct && m.cfg.StagnantProfitPct > 0 && pnl < m.cfg.TakeProfitPct {
		if float64(now-pos.LastProgressTs)/1000 >= m.cfg.StagnantSec {
			return makeReq(models.ExitStagnantProfit, true)
		}
	}

	// 9. 时间退出
	if timeLeftSec <= m.cfg.MinTimeLeftSec {
		return makeReq(models.ExitTime, m.cfg.MakerForExits)
	}

	return models.ExitRequest{}, false
}

// Close 以给定成交价终结一笔仓位，计入手续费后的净盈亏，
// 累加当日盈亏并记录冷却时间戳。每笔仓位只会被终结一次。
func (m *Manager) Close(id string, exitPrice float64, reason models.ExitReason, wasMaker bool) (*models.ClosedPosition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pos, ok := m.open[id]
	if !ok {
		return nil, fmt.Errorf("仓位 %s 不存在或已平仓", id)
	}
	now := m.nowFn()

	exitFeePct := 0.0
	if !wasMaker {
		exitFeePct = m.takerFeePct(exitPrice)
	}

	grossPnl := (exitPrice - pos.EntryPrice) * pos.Shares
	entryFeeUSD := pos.EntryFeePct / 100 * pos.EntryPrice * pos.Shares
	exitFeeUSD := exitFeePct / 100 * exitPrice * pos.Shares
	netPnl := grossPnl - entryFeeUSD - exitFeeUSD

	closed := models.ClosedPosition{
		OpenPosition: *pos,
		ExitPrice:    exitPrice,
		Reason:       reason,
		ExitTime:     now,
		ExitIsMaker:  wasMaker,
		ExitFeePct:   exitFeePct,
		GrossPnlUSD:  grossPnl,
		FinalPnlPct:  (exitPrice - pos.EntryPrice) / pos.EntryPrice * 100,
		NetPnlUSD:    netPnl,
		HoldSec:      float64(now-pos.EntryTime) / 1000,
	}
	if pos.CostBasis > 0 {
		closed.NetPnlPct = netPnl / pos.CostBasis * 100
	}

	m.dailyPnlUSD += netPnl
	if reason == models.ExitStopLoss {
		m.lastStopLossMs = now
	}
	m.exitCooldowns[cooldownKey(pos.Asset, pos.Direction)] = now

	m.closed = append(m.closed, closed)
	if len(m.closed) > closedRingCap {
		m.closed = m.closed[len(m.closed)-closedRingCap:]
	}

	delete(m.open, id)
	delete(m.byAsset, pos.Asset)
	return &closed, nil
}

// Get 返回指定 id 的活动仓位
func (m *Manager) Get(id string) (*models.OpenPosition, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pos, ok := m.open[id]
	return pos, ok
}

// OpenByAsset 返回指定标的的活动仓位（若有）
func (m *Manager) OpenByAsset(asset string) (*models.OpenPosition, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byAsset[asset]
	if !ok {
		return nil, false
	}
	return m.open[id], true
}

// OpenPositions 返回全部活动仓位（按 id 排序）
func (m *Manager) OpenPositions() []*models.OpenPosition {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]string, 0, len(m.open))
	for id := range m.open {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]*models.OpenPosition, 0, len(ids))
	for _, id := range ids {
		out = append(out, m.open[id])
	}
	return out
}

// ClosedPositions 返回已平仓记录的一份拷贝
func (m *Manager) ClosedPositions() []models.ClosedPosition {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.ClosedPosition, len(m.closed))
	copy(out, m.closed)
	return out
}

// GetStats 聚合当前会话的交易统计
func (m *Manager) GetStats() models.StatsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := models.StatsSnapshot{
		OpenCount:     len(m.open),
		ClosedCount:   len(m.closed),
		DailyPnlUSD:   m.dailyPnlUSD,
		ExitsByReason: make(map[models.ExitReason]int),
	}

	var holdSum float64
	for _, c := range m.closed {
		st.TotalNetUSD += c.NetPnlUSD
		st.TotalFeesUSD += c.GrossPnlUSD - c.NetPnlUSD
		holdSum += c.HoldSec
		st.ExitsByReason[c.Reason]++
		if c.NetPnlUSD > 0 {
			st.Wins++
		} else {
			st.Losses++
		}
	}
	if st.ClosedCount > 0 {
		st.WinRate = float64(st.Wins) / float64(st.ClosedCount) * 100
		st.AvgHoldSec = holdSum / float64(st.ClosedCount)
	}
	return st
}

// ResetDaily 由外部调度器在跨天时调用，清零当日计数与冷却
func (m *Manager) ResetDaily() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dailyPnlUSD = 0
	m.lastStopLossMs = 0
	m.exitCooldowns = make(map[string]int64)
}

// Snapshot 导出需要跨重启持久化的风控状态
func (m *Manager) Snapshot() models.SessionState {
	m.mu.Lock()
	defer m.mu.Unlock()

	cooldowns := make(map[string]int64, len(m.exitCooldowns))
	for k, v := range m.exitCooldowns {
		cooldowns[k] = v
	}
	closed := make([]models.ClosedPosition, len(m.closed))
	copy(closed, m.closed)

	return models.SessionState{
		Day:             time.Now().UTC().Format("2006-01-02"),
		DailyPnlUSD:     m.dailyPnlUSD,
		LastStopLossMs:  m.lastStopLossMs,
		ExitCooldowns:   cooldowns,
		Closed:          closed,
		PositionCounter: m.idCounter,
		LastUpdateMs:    m.nowFn(),
	}
}

// Restore 从持久化状态恢复风控计数（活动仓位不恢复）
func (m *Manager) Restore(state models.SessionState) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.dailyPnlUSD = state.DailyPnlUSD
	m.lastStopLossMs = state.LastStopLossMs
	m.exitCooldowns = make(map[string]int64, len(state.ExitCooldowns))
	for k, v := range state.ExitCooldowns {
		m.exitCooldowns[k] = v
	}
	m.closed = make([]models.ClosedPosition, len(state.Closed))
	copy(m.closed, state.Closed)
	if state.PositionCounter > m.idCounter {
		m.idCounter = state.PositionCounter
	}
}

// takerFeePct 按入场/出场价计算 taker 手续费占名义金额的百分比。
// 费用与 min(p, 1-p) 成正比，换算为相对 p*shares 的百分比。
func (m *Manager) takerFeePct(price float64) float64 {
	if price <= 0 || price >= 1 {
		return 0
	}
	base := m.cfg.TakerFeeBps / 10000
	return base * math.Min(price, 1-price) / price * 100
}

func cooldownKey(asset string, dir models.Direction) string {
	return asset + ":" + string(dir)
}
