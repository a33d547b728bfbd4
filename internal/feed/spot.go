package feed

import (
	"strconv"
	"sync"
	"time"

	"polymarket-updown-bot/internal/logger"
	"polymarket-updown-bot/internal/models"

	"github.com/adshao/go-binance/v2"
)

// SpotHandler 接收一个现货成交价 tick（时间戳为毫秒）
type SpotHandler func(asset string, price float64, tsMs int64)

// SpotFeed 订阅币安 aggTrade 流，把现货成交价转发给策略核心。
// 每个标的一条独立的流，断开后 5 秒重连。
type SpotFeed struct {
	cfg     *models.Config
	handler SpotHandler

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
}

// NewSpotFeed 创建现货行情源
func NewSpotFeed(cfg *models.Config, handler SpotHandler) *SpotFeed {
	return &SpotFeed{cfg: cfg, handler: handler}
}

// Start 为每个标的启动一条 aggTrade 流
func (f *SpotFeed) Start() {
	f.mu.Lock()
	if f.running {
		f.mu.Unlock()
		return
	}
	f.running = true
	f.stopCh = make(chan struct{})
	f.mu.Unlock()

	for _, asset := range f.cfg.Assets {
		go f.streamLoop(asset)
	}
}

// Stop 停止所有流
func (f *SpotFeed) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.running {
		return
	}
	f.running = false
	close(f.stopCh)
}

// streamLoop 维持单个标的的流连接，断开后自动重连
func (f *SpotFeed) streamLoop(asset models.AssetConfig) {
	for {
		select {
		case <-f.stopCh:
			return
		default:
		}

		doneC, stopC, err := binance.WsAggTradeServe(asset.SpotSymbol,
			func(event *binance.WsAggTradeEvent) {
				price, err := strconv.ParseFloat(event.Price, 64)
				if err != nil {
					logger.S().Warnf("解析 %s 现货价格失败: %v", asset.SpotSymbol, err)
					return
				}
				f.handler(asset.Symbol, price, event.TradeTime)
			},
			func(err error) {
				logger.S().Warnf("%s 现货流错误: %v", asset.SpotSymbol, err)
			})
		if err != nil {
			logger.S().Warnf("连接 %s 现货流失败: %v，5秒后重试...", asset.SpotSymbol, err)
			time.Sleep(5 * time.Second)
			continue
		}

		logger.S().Infof("%s 现货流已连接", asset.SpotSymbol)

		select {
		case <-f.stopCh:
			close(stopC)
			return
		case <-doneC:
			logger.S().Warnf("%s 现货流已断开，准备重连...", asset.SpotSymbol)
			time.Sleep(5 * time.Second)
		}
	}
}
