package recorder

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"polymarket-updown-bot/internal/models"
)

// 事件类型
const (
	KindSpot = "spot" // 现货逐笔成交
	KindBook = "book" // 盘口快照
)

// Event 是录制文件中的一行：现货价或盘口快照
type Event struct {
	Ts   int64
	Kind string
	Key  string // 现货事件为资产符号，盘口事件为 token id
	// 现货字段
	Price float64
	// 盘口字段
	BestBid  float64
	BestAsk  float64
	BidDepth float64
	AskDepth float64
}

// Snapshot 把盘口事件还原为快照结构
func (e *Event) Snapshot() models.OrderbookSnapshot {
	return models.OrderbookSnapshot{
		BestBid:   e.BestBid,
		BestAsk:   e.BestAsk,
		BidDepth:  e.BidDepth,
		AskDepth:  e.AskDepth,
		Timestamp: e.Ts,
	}
}

var csvHeader = []string{"ts", "kind", "key", "price", "best_bid", "best_ask", "bid_depth", "ask_depth"}

// Recorder 把实时行情追加写入CSV文件，供离线回放使用
type Recorder struct {
	mu     sync.Mutex
	file   *os.File
	writer *csv.Writer
}

// NewRecorder 创建录制器。目录不存在时自动创建。
func NewRecorder(filePath string) (*Recorder, error) {
	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("无法创建目录 %s: %v", dir, err)
	}

	file, err := os.Create(filePath)
	if err != nil {
		return nil, fmt.Errorf("无法创建文件 %s: %v", filePath, err)
	}

	writer := csv.NewWriter(file)
	if err := writer.Write(csvHeader); err != nil {
		file.Close()
		return nil, fmt.Errorf("写入CSV表头失败: %v", err)
	}

	return &Recorder{file: file, writer: writer}, nil
}

// RecordSpot 录制一条现货成交价
func (r *Recorder) RecordSpot(asset string, price float64, tsMs int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.writer.Write([]string{
		strconv.FormatInt(tsMs, 10),
		KindSpot,
		asset,
		strconv.FormatFloat(price, 'f', -1, 64),
		"", "", "", "",
	})
}

// RecordBook 录制一条盘口快照
func (r *Recorder) RecordBook(tokenID string, snap models.OrderbookSnapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.writer.Write([]string{
		strconv.FormatInt(snap.Timestamp, 10),
		KindBook,
		tokenID,
		"",
		strconv.FormatFloat(snap.BestBid, 'f', -1, 64),
		strconv.FormatFloat(snap.BestAsk, 'f', -1, 64),
		strconv.FormatFloat(snap.BidDepth, 'f', -1, 64),
		strconv.FormatFloat(snap.AskDepth, 'f', -1, 64),
	})
}

// Close 刷盘并关闭文件
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writer.Flush()
	if err := r.writer.Error(); err != nil {
		r.file.Close()
		return err
	}
	return r.file.Close()
}
