package feed

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"polymarket-updown-bot/internal/logger"
	"polymarket-updown-bot/internal/models"

	"github.com/gorilla/websocket"
)

// BookHandler 接收某个结果 token 的最新盘口快照
type BookHandler func(tokenID string, snap models.OrderbookSnapshot)

// PolyFeed 订阅 Polymarket CLOB 的 market 频道，为每个结果 token
// 维护轻量盘口并把快照转发给驱动层。回合切换时通过
// UpdateMarkets 替换订阅的 token 集合（触发重连）。
type PolyFeed struct {
	cfg     *models.Config
	handler BookHandler

	mu      sync.Mutex
	tokens  []string
	books   map[string]*depthBook
	conn    *websocket.Conn
	running bool
	stopCh  chan struct{}
}

// NewPolyFeed 创建 Polymarket 行情源
func NewPolyFeed(cfg *models.Config, handler BookHandler) *PolyFeed {
	return &PolyFeed{
		cfg:     cfg,
		handler: handler,
		books:   make(map[string]*depthBook),
	}
}

// UpdateMarkets 用新回合的市场替换订阅集合。
// 已建立的连接会被关闭，由重连循环带着新 token 重新订阅。
func (f *PolyFeed) UpdateMarkets(markets []*models.Market) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.tokens = f.tokens[:0]
	f.books = make(map[string]*depthBook)
	for _, m := range markets {
		f.tokens = append(f.tokens, m.UpTokenID, m.DownTokenID)
	}
	if f.conn != nil {
		f.conn.Close() // 读循环随之出错并重连
	}
}

// Start 启动连接维护循环
func (f *PolyFeed) Start() {
	f.mu.Lock()
	if f.running {
		f.mu.Unlock()
		return
	}
	f.running = true
	f.stopCh = make(chan struct{})
	f.mu.Unlock()

	go f.connectionLoop()
}

// Stop 关闭连接并停止循环
func (f *PolyFeed) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.running {
		return
	}
	f.running = false
	close(f.stopCh)
	if f.conn != nil {
		f.conn.Close()
	}
}

// connectionLoop 负责维持连接与重连
func (f *PolyFeed) connectionLoop() {
	for {
		select {
		case <-f.stopCh:
			logger.S().Info("Polymarket 行情循环已停止。")
			return
		default:
			if err := f.connect(); err != nil {
				logger.S().Warnf("连接 Polymarket 行情失败: %v。5秒后重试...", err)
				time.Sleep(5 * time.Second)
				continue
			}

			logger.S().Info("Polymarket 行情连接成功。")
			if err := f.handleMessages(); err != nil {
				logger.S().Warnf("Polymarket 行情处理出错: %v", err)
			}

			f.mu.Lock()
			if f.conn != nil {
				f.conn.Close()
				f.conn = nil
			}
			f.mu.Unlock()

			select {
			case <-f.stopCh:
				return
			default:
				logger.S().Info("Polymarket 行情连接已断开，准备重连...")
				time.Sleep(5 * time.Second)
			}
		}
	}
}

// connect 建立连接并发送订阅消息
func (f *PolyFeed) connect() error {
	f.mu.Lock()
	tokens := make([]string, len(f.tokens))
	copy(tokens, f.tokens)
	f.mu.Unlock()

	if len(tokens) == 0 {
		return fmt.Errorf("尚无可订阅的 token")
	}

	conn, _, err := websocket.DefaultDialer.Dial(f.cfg.ClobWSURL, nil)
	if err != nil {
		return err
	}

	sub := map[string]interface{}{
		"type":       "market",
		"assets_ids": tokens,
	}
	if err := conn.WriteJSON(sub); err != nil {
		conn.Close()
		return fmt.Errorf("发送订阅消息失败: %v", err)
	}

	f.mu.Lock()
	f.conn = conn
	f.mu.Unlock()
	return nil
}

// handleMessages 为一个已建立的连接处理消息，并实现心跳机制
func (f *PolyFeed) handleMessages() error {
	const (
		pongWait   = 60 * time.Second
		pingPeriod = (pongWait * 9) / 10
	)

	f.mu.Lock()
	conn := f.conn
	f.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("连接不存在")
	}

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	pingTicker := time.NewTicker(pingPeriod)
	defer pingTicker.Stop()
	pingStop := make(chan struct{})
	defer close(pingStop)

	go func() {
		for {
			select {
			case <-pingTicker.C:
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			case <-pingStop:
				return
			case <-f.stopCh:
				return
			}
		}
	}()

	for {
		select {
		case <-f.stopCh:
			return nil
		default:
			_, message, err := conn.ReadMessage()
			if err != nil {
				return fmt.Errorf("读取消息失败: %v", err)
			}
			f.processMessage(message)
		}
	}
}

// wsLevel 是一档盘口 (市场频道的数字都是字符串编码)
type wsLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// wsEvent 覆盖 market 频道我们关心的两类事件：book 与 price_change
type wsEvent struct {
	EventType string    `json:"event_type"`
	AssetID   string    `json:"asset_id"`
	Market    string    `json:"market"`
	Bids      []wsLevel `json:"bids"`
	Asks      []wsLevel `json:"asks"`
	Changes   []struct {
		Price string `json:"price"`
		Side  string `json:"side"`
		Size  string `json:"size"`
	} `json:"changes"`
	Timestamp string `json:"timestamp"`
}

// processMessage 解析一条消息（单个事件或事件数组）并分发
func (f *PolyFeed) processMessage(message []byte) {
	trimmed := bytes.TrimSpace(message)
	if len(trimmed) == 0 {
		return
	}

	var events []wsEvent
	if trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &events); err != nil {
			logger.S().Debugf("解析行情消息失败: %v", err)
			return
		}
	} else {
		var ev wsEvent
		if err := json.Unmarshal(trimmed, &ev); err != nil {
			logger.S().Debugf("解析行情消息失败: %v", err)
			return
		}
		events = append(events, ev)
	}

	for _, ev := range events {
		f.processEvent(ev)
	}
}

func (f *PolyFeed) processEvent(ev wsEvent) {
	if ev.AssetID == "" {
		return
	}

	switch ev.EventType {
	case "book":
		f.mu.Lock()
		book := f.bookLocked(ev.AssetID)
		book.replace("buy", levelsToMap(ev.Bids))
		book.replace("sell", levelsToMap(ev.Asks))
		snap := book.snapshot(parseTs(ev.Timestamp))
		f.mu.Unlock()
		f.handler(ev.AssetID, snap)

	case "price_change":
		f.mu.Lock()
		book := f.bookLocked(ev.AssetID)
		for _, ch := range ev.Changes {
			price, _ := strconv.ParseFloat(ch.Price, 64)
			size, _ := strconv.ParseFloat(ch.Size, 64)
			book.apply(strings.ToLower(ch.Side), price, size)
		}
		snap := book.snapshot(parseTs(ev.Timestamp))
		f.mu.Unlock()
		f.handler(ev.AssetID, snap)
	}
}

func (f *PolyFeed) bookLocked(tokenID string) *depthBook {
	book, ok := f.books[tokenID]
	if !ok {
		book = newDepthBook()
		f.books[tokenID] = book
	}
	return book
}

func levelsToMap(levels []wsLevel) map[float64]float64 {
	out := make(map[float64]float64, len(levels))
	for _, l := range levels {
		price, err1 := strconv.ParseFloat(l.Price, 64)
		size, err2 := strconv.ParseFloat(l.Size, 64)
		if err1 != nil || err2 != nil || size == 0 {
			continue
		}
		out[price] = size
	}
	return out
}

func parseTs(s string) int64 {
	if ts, err := strconv.ParseInt(s, 10, 64); err == nil && ts > 0 {
		return ts
	}
	return time.Now().UnixMilli()
}
