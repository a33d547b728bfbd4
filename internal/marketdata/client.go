package marketdata

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"polymarket-updown-bot/internal/models"

	"github.com/tidwall/gjson"
)

// Client 封装 Polymarket 的 Gamma（市场元数据）与 CLOB（盘口）查询接口。
// Gamma 的若干字段（outcomes / outcomePrices / clobTokenIds）是嵌在
// JSON 里的 JSON 字符串，用 gjson 解析最省事。
type Client struct {
	gammaURL   string
	clobURL    string
	httpClient *http.Client
}

// APIError 表示上游返回的非 2xx 响应
type APIError struct {
	Status int
	URL    string
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API错误: status=%d url=%s body=%s", e.Status, e.URL, e.Body)
}

// NewClient 创建行情查询客户端
func NewClient(gammaURL, clobURL string) *Client {
	return &Client{
		gammaURL:   strings.TrimRight(gammaURL, "/"),
		clobURL:    strings.TrimRight(clobURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// MarketBySlug 按 slug 直查回合市场。未命中或市场已关闭时返回 (nil, nil)。
func (c *Client) MarketBySlug(slug string) (*models.Market, error) {
	body, err := c.get(fmt.Sprintf("%s/markets/slug/%s", c.gammaURL, url.PathEscape(slug)))
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
			return nil, nil
		}
		return nil, err
	}

	m := parseGammaMarket(gjson.ParseBytes(body))
	if m == nil {
		return nil, nil
	}
	return m, nil
}

// SearchMarkets 按关键字搜索活跃市场（文本搜索回退路径）
func (c *Client) SearchMarkets(query string, limit int) ([]*models.Market, error) {
	q := url.Values{}
	q.Set("_q", query)
	q.Set("active", "true")
	q.Set("closed", "false")
	q.Set("_limit", fmt.Sprintf("%d", limit))

	body, err := c.get(fmt.Sprintf("%s/markets?%s", c.gammaURL, q.Encode()))
	if err != nil {
		return nil, err
	}

	var out []*models.Market
	gjson.ParseBytes(body).ForEach(func(_, item gjson.Result) bool {
		if m := parseGammaMarket(item); m != nil {
			out = append(out, m)
		}
		return true
	})
	return out, nil
}

// Orderbook 拉取指定 token 的盘口快照，深度取买卖各前五档的合计
func (c *Client) Orderbook(tokenID string) (*models.OrderbookSnapshot, error) {
	q := url.Values{}
	q.Set("token_id", tokenID)

	body, err := c.get(fmt.Sprintf("%s/book?%s", c.clobURL, q.Encode()))
	if err != nil {
		return nil, err
	}

	book := gjson.ParseBytes(body)
	snap := &models.OrderbookSnapshot{Timestamp: time.Now().UnixMilli()}

	bids := book.Get("bids").Array()
	asks := book.Get("asks").Array()
	if len(bids) > 0 {
		snap.BestBid = bids[0].Get("price").Float()
	}
	if len(asks) > 0 {
		snap.BestAsk = asks[0].Get("price").Float()
	}
	for i, b := range bids {
		if i >= 5 {
			break
		}
		snap.BidDepth += b.Get("size").Float()
	}
	for i, a := range asks {
		if i >= 5 {
			break
		}
		snap.AskDepth += a.Get("size").Float()
	}
	return snap, nil
}

// parseGammaMarket 把一条 Gamma 市场记录解析为内部 Market。
// 只接受仍然开放、且同时具备 Up 与 Down 两个结果的市场。
func parseGammaMarket(item gjson.Result) *models.Market {
	if !item.Exists() || item.Get("closed").Bool() {
		return nil
	}
	if item.Get("active").Exists() && !item.Get("active").Bool() {
		return nil
	}

	m := &models.Market{
		ConditionID: item.Get("conditionId").String(),
		Question:    item.Get("question").String(),
		Slug:        item.Get("slug").String(),
		NegRisk:     item.Get("negRisk").Bool(),
	}
	if m.ConditionID == "" {
		m.ConditionID = item.Get("condition_id").String()
	}

	endDate := item.Get("endDate").String()
	if endDate == "" {
		endDate = item.Get("endDateIso").String()
	}
	if t, err := time.Parse(time.RFC3339, endDate); err == nil {
		m.ExpiresAt = t.UnixMilli()
	}

	// outcomes/clobTokenIds/outcomePrices 是 JSON 字符串，需要二次解析
	outcomes := gjson.Parse(item.Get("outcomes").String()).Array()
	tokenIDs := gjson.Parse(item.Get("clobTokenIds").String()).Array()
	prices := gjson.Parse(item.Get("outcomePrices").String()).Array()

	for i, o := range outcomes {
		name := strings.ToLower(o.String())
		var tokenID string
		var price float64
		if i < len(tokenIDs) {
			tokenID = tokenIDs[i].String()
		}
		if i < len(prices) {
			price = prices[i].Float()
		}
		switch name {
		case "up", "yes":
			m.UpTokenID = tokenID
			m.UpPrice = price
		case "down", "no":
			m.DownTokenID = tokenID
			m.DownPrice = price
		}
	}

	if m.UpTokenID == "" || m.DownTokenID == "" {
		return nil
	}
	return m
}

func (c *Client) get(rawURL string) ([]byte, error) {
	resp, err := c.httpClient.Get(rawURL)
	if err != nil {
		return nil, fmt.Errorf("请求 %s 失败: %v", rawURL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("读取 %s 响应失败: %v", rawURL, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{Status: resp.StatusCode, URL: rawURL, Body: truncate(string(body), 200)}
	}
	return body, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
