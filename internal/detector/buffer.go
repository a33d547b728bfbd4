package detector

import (
	"sort"

	"polymarket-updown-bot/internal/models"
)

// bufferRetentionMs 是现货价格缓冲区的保留时长。
// 最大回看窗口为 120 秒，150 秒保证任何窗口加余量都可解析。
const bufferRetentionMs int64 = 150_000

// RollingPriceBuffer 是单标的的有界自修剪时间序列。
// 假定 Append 的时间戳非递减（由上游行情流保证）。
type RollingPriceBuffer struct {
	ticks []models.PriceTick
}

// NewRollingPriceBuffer 创建一个空缓冲区
func NewRollingPriceBuffer() *RollingPriceBuffer {
	return &RollingPriceBuffer{ticks: make([]models.PriceTick, 0, 256)}
}

// Append 追加一个价格点，并修剪掉超出保留时长的旧数据
func (b *RollingPriceBuffer) Append(price float64, ts int64) {
	b.ticks = append(b.ticks, models.PriceTick{Price: price, Ts: ts})

	cutoff := ts - bufferRetentionMs
	i := 0
	for i < len(b.ticks) && b.ticks[i].Ts < cutoff {
		i++
	}
	if i > 0 {
		b.ticks = b.ticks[i:]
	}
}

// PriceAt 返回最新 tick 往前 secsAgo 秒处的价格：
// 即时间戳 <= (latest.Ts - secsAgo*1000) 的最右侧 tick。
// 缓冲区覆盖不到那么远时返回 ok=false。
func (b *RollingPriceBuffer) PriceAt(secsAgo int) (float64, bool) {
	if len(b.ticks) == 0 {
		return 0, false
	}
	target := b.ticks[len(b.ticks)-1].Ts - int64(secsAgo)*1000
	if b.ticks[0].Ts > target {
		return 0, false
	}

	// sort.Search 找到第一个 ts > target 的下标，其前一个即为所求
	idx := sort.Search(len(b.ticks), func(i int) bool {
		return b.ticks[i].Ts > target
	})
	return b.ticks[idx-1].Price, true
}

// Latest 返回最新的一个 tick
func (b *RollingPriceBuffer) Latest() (models.PriceTick, bool) {
	if len(b.ticks) == 0 {
		return models.PriceTick{}, false
	}
	return b.ticks[len(b.ticks)-1], true
}

// Len 返回当前保留的 tick 数
func (b *RollingPriceBuffer) Len() int {
	return len(b.ticks)
}
