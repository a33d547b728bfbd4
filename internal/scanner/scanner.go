package scanner

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"polymarket-updown-bot/internal/logger"
	"polymarket-updown-bot/internal/models"
)

// pollIntervalSec 是回合轮询的周期，也是 Refresh 的最小间隔
const pollIntervalSec = 10

// MarketSource 是市场发现所依赖的行情查询接口（由 marketdata 包实现）。
// MarketBySlug 未命中时返回 (nil, nil)。
type MarketSource interface {
	MarketBySlug(slug string) (*models.Market, error)
	SearchMarkets(query string, limit int) ([]*models.Market, error)
}

// MarketScanner 追踪当前回合槽位，发现并缓存各标的的回合市场，
// 并提供开仓用的时间门控。
type MarketScanner struct {
	mu     sync.Mutex
	cfg    *models.Config
	source MarketSource

	markets []*models.Market
	byAsset map[string]*models.Market
	byID    map[string]*models.Market // condition id -> market

	lastRefreshMs int64
	lastSlot      int64

	running bool
	stopCh  chan struct{}

	nowFn func() int64 // 毫秒时钟，测试可替换
}

// NewMarketScanner 创建扫描器
func NewMarketScanner(cfg *models.Config, source MarketSource) *MarketScanner {
	return &MarketScanner{
		cfg:     cfg,
		source:  source,
		byAsset: make(map[string]*models.Market),
		byID:    make(map[string]*models.Market),
		nowFn:   func() int64 { return time.Now().UnixMilli() },
	}
}

// GetRound 根据墙钟与配置的回合时长计算当前回合的时间状态
func (s *MarketScanner) GetRound() models.RoundInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roundLocked()
}

func (s *MarketScanner) roundLocked() models.RoundInfo {
	now := s.nowFn()
	dur := s.cfg.RoundDurationSec
	slot := now / 1000 / dur
	expiresAt := (slot + 1) * dur * 1000
	timeLeft := float64(expiresAt-now) / 1000

	return models.RoundInfo{
		Slot:        slot,
		ExpiresAt:   expiresAt,
		Markets:     s.markets,
		AgeSec:      float64(dur) - timeLeft,
		TimeLeftSec: timeLeft,
	}
}

// GetMarket 在当前缓存中查找指定标的的回合市场
func (s *MarketScanner) GetMarket(asset string) (*models.Market, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.byAsset[asset]
	return m, ok
}

// CanTrade 检查时间门控。返回 false 时附带原因。
func (s *MarketScanner) CanTrade() (bool, string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	round := s.roundLocked()
	if len(s.markets) == 0 {
		return false, "no markets"
	}
	if round.AgeSec < s.cfg.MinRoundAgeSec {
		return false, "round too young"
	}
	if round.TimeLeftSec < s.cfg.MinTimeLeftSec {
		return false, "too close to expiry"
	}
	return true, ""
}

// UpdatePrice 就地更新缓存市场的隐含概率，与回合生命周期无关
func (s *MarketScanner) UpdatePrice(marketID string, upPrice, downPrice float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.byID[marketID]; ok {
		m.UpPrice = upPrice
		m.DownPrice = downPrice
	}
}

// Refresh 强制拉取当前回合的市场并整体替换缓存，
// 同时重置轮询的限频时钟。单个标的发现失败只记日志不影响其他标的。
func (s *MarketScanner) Refresh() []*models.Market {
	s.mu.Lock()
	round := s.roundLocked()
	s.lastRefreshMs = s.nowFn()
	s.lastSlot = round.Slot
	s.mu.Unlock()

	found := make([]*models.Market, 0, len(s.cfg.Assets))
	for _, asset := range s.cfg.Assets {
		m, err := s.discover(asset, round.Slot)
		if err != nil {
			logger.S().Warnf("发现 %s 回合市场失败: %v", asset.Symbol, err)
			continue
		}
		if m == nil {
			logger.S().Debugf("当前回合未找到 %s 的市场", asset.Symbol)
			continue
		}
		found = append(found, m)
	}

	s.mu.Lock()
	s.markets = found
	s.byAsset = make(map[string]*models.Market, len(found))
	s.byID = make(map[string]*models.Market, len(found))
	for _, m := range found {
		s.byAsset[m.Asset] = m
		s.byID[m.ConditionID] = m
	}
	s.mu.Unlock()

	logger.S().Infof("回合 %d 市场刷新完成: %d/%d 个标的", round.Slot, len(found), len(s.cfg.Assets))
	return found
}

// discover 为单个标的发现当前回合的市场：
// 先按槽位推导的 slug 直查，失败后退回到关键字搜索。
func (s *MarketScanner) discover(asset models.AssetConfig, slot int64) (*models.Market, error) {
	slug := s.roundSlug(asset, slot)
	m, err := s.source.MarketBySlug(slug)
	if err != nil {
		return nil, err
	}
	if m != nil && m.UpTokenID != "" && m.DownTokenID != "" {
		s.fill(m, asset)
		return m, nil
	}

	return s.discoverBySearch(asset)
}

// discoverBySearch 是 slug 直查失败后的文本搜索回退路径。
// 候选须在 (0, 回合时长+60s] 内到期、命名中编码了回合时长；
// 同一标的的多个候选取最早到期者（closest-expiry-wins）。
func (s *MarketScanner) discoverBySearch(asset models.AssetConfig) (*models.Market, error) {
	query := fmt.Sprintf("%s up or down", asset.SlugName)
	candidates, err := s.source.SearchMarkets(query, 20)
	if err != nil {
		return nil, err
	}

	now := s.nowFn()
	maxExpiryMs := s.cfg.RoundDurationSec*1000 + 60_000
	label := durationLabel(s.cfg.RoundDurationSec)

	var best *models.Market
	for _, c := range candidates {
		untilExpiry := c.ExpiresAt - now
		if untilExpiry <= 0 || untilExpiry > maxExpiryMs {
			continue
		}
		if !strings.Contains(c.Slug, label) && !strings.Contains(strings.ToLower(c.Question), label) {
			continue
		}
		if c.UpTokenID == "" || c.DownTokenID == "" {
			continue
		}
		if best == nil || c.ExpiresAt < best.ExpiresAt {
			best = c
		}
	}
	if best != nil {
		s.fill(best, asset)
	}
	return best, nil
}

// fill 补全发现结果上与配置相关的字段。
// 槽位取到期前一刻所在的回合：恰好在回合边界到期的市场属于当前槽位。
func (s *MarketScanner) fill(m *models.Market, asset models.AssetConfig) {
	m.Asset = asset.Symbol
	m.RoundSlot = (m.ExpiresAt/1000 - 1) / s.cfg.RoundDurationSec
}

// roundSlug 生成槽位推导的市场 slug，
// 形如 "bitcoin-up-or-down-5m-2026-08-26-1430"（回合开始时刻，UTC）。
func (s *MarketScanner) roundSlug(asset models.AssetConfig, slot int64) string {
	startMs := slot * s.cfg.RoundDurationSec * 1000
	start := time.UnixMilli(startMs).UTC()
	return fmt.Sprintf("%s-up-or-down-%s-%s",
		asset.SlugName, durationLabel(s.cfg.RoundDurationSec), start.Format("2006-01-02-1504"))
}

// durationLabel 把回合时长编码为 slug 中的时长段, e.g. 300 -> "5m"
func durationLabel(durSec int64) string {
	switch {
	case durSec%3600 == 0:
		return fmt.Sprintf("%dh", durSec/3600)
	case durSec%60 == 0:
		return fmt.Sprintf("%dm", durSec/60)
	default:
		return fmt.Sprintf("%ds", durSec)
	}
}

// Start 启动约 10 秒一次的轮询，检测槽位切换并触发刷新。
// 即使多次检测到切换，刷新也被限频为每 10 秒至多一次。
func (s *MarketScanner) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.mu.Unlock()

	go s.pollLoop()
	logger.S().Info("市场扫描器已启动")
}

// Stop 停止轮询
func (s *MarketScanner) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.running = false
	close(s.stopCh)
	logger.S().Info("市场扫描器已停止")
}

func (s *MarketScanner) pollLoop() {
	ticker := time.NewTicker(pollIntervalSec * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.checkTransition()
		}
	}
}

// checkTransition 在槽位变化且距上次刷新超过限频间隔时刷新
func (s *MarketScanner) checkTransition() {
	s.mu.Lock()
	round := s.roundLocked()
	transitioned := round.Slot != s.lastSlot
	rateLimited := s.nowFn()-s.lastRefreshMs < pollIntervalSec*1000
	s.mu.Unlock()

	if transitioned && !rateLimited {
		logger.S().Infof("检测到回合切换 -> %d，刷新市场", round.Slot)
		s.Refresh()
	}
}
