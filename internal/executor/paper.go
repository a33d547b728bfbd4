package executor

import (
	"fmt"
	"sync"
	"time"

	"polymarket-updown-bot/internal/logger"
	"polymarket-updown-bot/internal/models"
)

// PaperExecutor 实现了 Executor 接口，用于模拟成交。
// 挂单按目标价原价成交；吃单按滑点率调整成交价。
type PaperExecutor struct {
	mu           sync.Mutex
	slippageRate float64
	fillCount    int64
	nowFn        func() int64
}

// NewPaperExecutor 创建一个新的 PaperExecutor 实例
func NewPaperExecutor(cfg *models.Config) *PaperExecutor {
	return &PaperExecutor{
		slippageRate: cfg.SlippageRate,
		nowFn:        func() int64 { return time.Now().UnixMilli() },
	}
}

// Buy 模拟买入。吃单时按滑点率上浮成交价。
func (e *PaperExecutor) Buy(tokenID string, price, amountUSD float64, preferMaker bool) (*Fill, error) {
	if price <= 0 || price >= 1 {
		return nil, fmt.Errorf("无效的买入价格: %.4f", price)
	}
	if amountUSD <= 0 {
		return nil, fmt.Errorf("无效的买入金额: %.2f", amountUSD)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	fillPrice := price
	if !preferMaker {
		fillPrice = clampPrice(price * (1 + e.slippageRate))
	}
	shares := amountUSD / fillPrice
	e.fillCount++

	fill := &Fill{
		TokenID:  tokenID,
		Price:    fillPrice,
		Shares:   shares,
		CostUSD:  amountUSD,
		IsMaker:  preferMaker,
		FilledAt: e.nowFn(),
	}
	logger.S().Infof("模拟买入成交: token=%s 价格=%.4f 份额=%.2f 金额=%.2f maker=%v",
		truncToken(tokenID), fillPrice, shares, amountUSD, preferMaker)
	return fill, nil
}

// Sell 模拟卖出。吃单时按滑点率下调成交价。
func (e *PaperExecutor) Sell(tokenID string, price, shares float64, preferMaker bool) (*Fill, error) {
	if price <= 0 || price >= 1 {
		return nil, fmt.Errorf("无效的卖出价格: %.4f", price)
	}
	if shares <= 0 {
		return nil, fmt.Errorf("无效的卖出份额: %.2f", shares)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	fillPrice := price
	if !preferMaker {
		fillPrice = clampPrice(price * (1 - e.slippageRate))
	}
	proceeds := fillPrice * shares
	e.fillCount++

	fill := &Fill{
		TokenID:  tokenID,
		Price:    fillPrice,
		Shares:   shares,
		CostUSD:  proceeds,
		IsMaker:  preferMaker,
		FilledAt: e.nowFn(),
	}
	logger.S().Infof("模拟卖出成交: token=%s 价格=%.4f 份额=%.2f 回款=%.2f maker=%v",
		truncToken(tokenID), fillPrice, shares, proceeds, preferMaker)
	return fill, nil
}

// FillCount 返回累计成交笔数
func (e *PaperExecutor) FillCount() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.fillCount
}

// clampPrice 把滑点后的价格限制在合法区间内
func clampPrice(p float64) float64 {
	if p < 0.001 {
		return 0.001
	}
	if p > 0.999 {
		return 0.999
	}
	return p
}

func truncToken(tokenID string) string {
	if len(tokenID) > 12 {
		return tokenID[:12] + "..."
	}
	return tokenID
}
