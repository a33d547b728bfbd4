package feed

import (
	"sort"

	"polymarket-updown-bot/internal/models"
)

// depthBook 维护单个 token 的轻量盘口：价格 -> 数量。
// 全量 book 事件整体替换，price_change 事件增量修补。
type depthBook struct {
	bids map[float64]float64
	asks map[float64]float64
}

func newDepthBook() *depthBook {
	return &depthBook{
		bids: make(map[float64]float64),
		asks: make(map[float64]float64),
	}
}

// replace 用全量档位重建一侧
func (b *depthBook) replace(side string, levels map[float64]float64) {
	if side == "buy" {
		b.bids = levels
	} else {
		b.asks = levels
	}
}

// apply 应用一条增量变更，size 为 0 表示该档位被撤掉
func (b *depthBook) apply(side string, price, size float64) {
	m := b.asks
	if side == "buy" {
		m = b.bids
	}
	if size == 0 {
		delete(m, price)
	} else {
		m[price] = size
	}
}

// snapshot 汇总出买一/卖一与前五档深度
func (b *depthBook) snapshot(ts int64) models.OrderbookSnapshot {
	snap := models.OrderbookSnapshot{Timestamp: ts}

	bidPrices := sortedKeys(b.bids, true)
	askPrices := sortedKeys(b.asks, false)

	if len(bidPrices) > 0 {
		snap.BestBid = bidPrices[0]
	}
	if len(askPrices) > 0 {
		snap.BestAsk = askPrices[0]
	}
	for i, p := range bidPrices {
		if i >= 5 {
			break
		}
		snap.BidDepth += b.bids[p]
	}
	for i, p := range askPrices {
		if i >= 5 {
			break
		}
		snap.AskDepth += b.asks[p]
	}
	return snap
}

func sortedKeys(m map[float64]float64, descending bool) []float64 {
	keys := make([]float64, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Float64s(keys)
	if descending {
		for i, j := 0, len(keys)-1; i < j; i, j = i+1, j-1 {
			keys[i], keys[j] = keys[j], keys[i]
		}
	}
	return keys
}
