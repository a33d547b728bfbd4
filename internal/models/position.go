package models

// ExitReason 枚举了仓位被平掉的九种原因
type ExitReason string

const (
	ExitForce          ExitReason = "force_exit"      // 距到期太近，强制 taker 平仓
	ExitTakeProfit     ExitReason = "take_profit"     // 达到止盈阈值
	ExitStopLoss       ExitReason = "stop_loss"       // 达到止损阈值
	ExitRatchetFloor   ExitReason = "ratchet_floor"   // 回撤击穿确认高点对应的棘轮地板
	ExitTrailingStop   ExitReason = "trailing_stop"   // 从最高盈利回撤超过动态容差
	ExitDepthCollapse  ExitReason = "depth_collapse"  // 买盘深度坍塌且价格走弱
	ExitStaleProfit    ExitReason = "stale_profit"    // 盈利但买一价长期不动
	ExitStagnantProfit ExitReason = "stagnant_profit" // 盈利停滞无进展
	ExitTime           ExitReason = "time_exit"       // 临近到期的常规退出
)

// OpenPosition 代表一笔活动仓位。不变式：同一标的同时至多一笔；
// 一旦收到过 tick，HighWaterMark >= EntryPrice 且 ConfirmedHigh <= HighWaterMark。
type OpenPosition struct {
	ID          string    `json:"id"`
	StrategyTag string    `json:"strategy_tag"`
	Asset       string    `json:"asset"`
	Direction   Direction `json:"direction"`
	TokenID     string    `json:"token_id"`
	MarketID    string    `json:"market_id"` // condition id

	EntryPrice   float64 `json:"entry_price"`
	CurrentPrice float64 `json:"current_price"`
	Shares       float64 `json:"shares"`
	CostBasis    float64 `json:"cost_basis"` // EntryPrice * Shares

	EntryIsMaker bool    `json:"entry_is_maker"` // maker 入场免手续费
	EntryFeePct  float64 `json:"entry_fee_pct"`

	// 高水位追踪。ConfirmedHigh 只有在连续 N 个 tick 落在
	// 高水位容差内之后才会被提升，防止单 tick 毛刺收紧地板。
	HighWaterMark   float64 `json:"high_water_mark"`
	HWMConfirmTicks int     `json:"hwm_confirm_ticks"`
	ConfirmedHigh   float64 `json:"confirmed_high"`

	EntryTime int64 `json:"entry_time"` // epoch ms
	ExpiresAt int64 `json:"expires_at"` // 所属回合的到期时间 (epoch ms)

	// 买一价停滞追踪
	LastBestBid     float64 `json:"last_best_bid"`
	LastBidChangeTs int64   `json:"last_bid_change_ts"`

	// 盈亏进展追踪：PnlPct 相对上次记录变化超过 1 个百分点即视为有进展
	LastProgressTs     int64   `json:"last_progress_ts"`
	LastProgressPnlPct float64 `json:"last_progress_pnl_pct"`

	EntryBidDepth float64 `json:"entry_bid_depth"` // 入场时的买盘深度
	LastBidDepth  float64 `json:"last_bid_depth"`  // 最近一次盘口快照的买盘深度

	HighPnlPct      float64 `json:"high_pnl_pct"`
	LowPnlPct       float64 `json:"low_pnl_pct"`
	WasEverPositive bool    `json:"was_ever_positive"`

	// 上一个 tick 的价格，用于 depth_collapse 的价格走弱判断
	PrevPrice float64 `json:"prev_price"`
}

// PnlPct 返回当前价格相对入场价的百分比盈亏
func (p *OpenPosition) PnlPct() float64 {
	if p.EntryPrice == 0 {
		return 0
	}
	return (p.CurrentPrice - p.EntryPrice) / p.EntryPrice * 100
}

// ConfirmedHighPct 返回确认高点相对入场价的百分比涨幅
func (p *OpenPosition) ConfirmedHighPct() float64 {
	if p.EntryPrice == 0 {
		return 0
	}
	return (p.ConfirmedHigh - p.EntryPrice) / p.EntryPrice * 100
}

// ClosedPosition 是 OpenPosition 的终态快照，由 Close 恰好创建一次，之后不可变
type ClosedPosition struct {
	OpenPosition

	ExitPrice   float64    `json:"exit_price"`
	Reason      ExitReason `json:"reason"`
	ExitTime    int64      `json:"exit_time"` // epoch ms
	ExitIsMaker bool       `json:"exit_is_maker"`
	ExitFeePct  float64    `json:"exit_fee_pct"`

	GrossPnlUSD float64 `json:"gross_pnl_usd"`
	FinalPnlPct float64 `json:"final_pnl_pct"`
	NetPnlUSD   float64 `json:"net_pnl_usd"` // 扣除出入场手续费后的净盈亏
	NetPnlPct   float64 `json:"net_pnl_pct"`
	HoldSec     float64 `json:"hold_sec"`
}

// ExitRequest 是 CheckExits 给驱动层的平仓建议；核心自身从不下单
type ExitRequest struct {
	PositionID  string     `json:"position_id"`
	Asset       string     `json:"asset"`
	TokenID     string     `json:"token_id"`
	Reason      ExitReason `json:"reason"`
	TargetPrice float64    `json:"target_price"` // 建议的平仓价（当前价或买一价）
	PreferMaker bool       `json:"prefer_maker"`
}

// StatsSnapshot 聚合当前会话的交易统计，用于报表与观测
type StatsSnapshot struct {
	OpenCount     int                `json:"open_count"`
	ClosedCount   int                `json:"closed_count"`
	Wins          int                `json:"wins"`
	Losses        int                `json:"losses"`
	WinRate       float64            `json:"win_rate"` // 百分比
	DailyPnlUSD   float64            `json:"daily_pnl_usd"`
	TotalNetUSD   float64            `json:"total_net_usd"`
	TotalFeesUSD  float64            `json:"total_fees_usd"`
	AvgHoldSec    float64            `json:"avg_hold_sec"`
	ExitsByReason map[ExitReason]int `json:"exits_by_reason"`
}

// SessionState 定义了需要跨重启持久化的风控状态
type SessionState struct {
	Day             string           `json:"day"` // UTC 日期 "2006-01-02"，跨天时清零
	DailyPnlUSD     float64          `json:"daily_pnl_usd"`
	LastStopLossMs  int64            `json:"last_stop_loss_ms"` // 最近一次止损的时间戳
	ExitCooldowns   map[string]int64 `json:"exit_cooldowns"`    // "ASSET:direction" -> 最近平仓时间戳
	Closed          []ClosedPosition `json:"closed"`            // 有界环（上限 5000）
	PositionCounter int64            `json:"position_counter"`  // 单调递增的仓位 id 计数
	LastUpdateMs    int64            `json:"last_update_ms"`
}
