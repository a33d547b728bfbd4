package models

// Config 结构体定义了机器人的所有配置参数
type Config struct {
	Assets           []AssetConfig `json:"assets"`             // 交易的标的列表
	RoundDurationSec int64         `json:"round_duration_sec"` // 回合时长（秒），例如 300 = 5分钟回合
	MinRoundAgeSec   float64       `json:"min_round_age_sec"`  // 回合开始后多少秒才允许开仓
	MinTimeLeftSec   float64       `json:"min_time_left_sec"`  // 距离到期少于多少秒禁止开仓（也是 time_exit 阈值）
	ForceExitSec     float64       `json:"force_exit_sec"`     // 距离到期少于多少秒强制平仓
	WarmupSec        float64       `json:"warmup_sec"`         // 启动后的预热期（秒），期间只收数据不开仓

	// 仓位与风控
	PositionSizeUSD float64 `json:"position_size_usd"` // 单笔仓位金额 (USDC)
	MaxPositions    int     `json:"max_positions"`     // 最大同时持仓数
	MaxDailyLossUSD float64 `json:"max_daily_loss_usd"`
	TakeProfitPct   float64 `json:"take_profit_pct"` // 止盈阈值（百分比）
	StopLossPct     float64 `json:"stop_loss_pct"`   // 止损阈值（正数，百分比）

	StopLossCooldownSec float64 `json:"stop_loss_cooldown_sec"` // 止损后的全局冷却期
	ExitCooldownSec     float64 `json:"exit_cooldown_sec"`      // 平仓后同一 (标的,方向) 的冷却期

	// 确认高点棘轮 (ratchet)
	RatchetEnabled             bool    `json:"ratchet_enabled"`
	RatchetConfirmTolerancePct float64 `json:"ratchet_confirm_tolerance_pct"` // 与高点的容差（百分比）
	RatchetConfirmTicks        int     `json:"ratchet_confirm_ticks"`         // 连续多少个 tick 确认高点

	// 移动止盈 (trailing)
	TrailingEnabled bool `json:"trailing_enabled"`

	// 盘口与停滞退出
	DepthCollapsePct  float64 `json:"depth_collapse_pct"`  // 买盘深度较入场跌多少比例触发
	StaleProfitPct    float64 `json:"stale_profit_pct"`    // 盈利且买一价长期不动时的退出阈值
	StaleBidSec       float64 `json:"stale_bid_sec"`       // 买一价不动多少秒算 stale
	StagnantProfitPct float64 `json:"stagnant_profit_pct"` // 盈利停滞退出的下限
	StagnantSec       float64 `json:"stagnant_sec"`        // 盈亏无进展多少秒算 stagnant

	// maker/taker 策略
	MakerForExits bool    `json:"maker_for_exits"` // 止盈与时间退出是否允许 maker 单
	TakerFeeBps   float64 `json:"taker_fee_bps"`   // taker 基础费率 (bps)，maker 为 0

	// 背离检测
	MinSpotMovePct      float64        `json:"min_spot_move_pct"`      // 现货最小波动阈值（百分比）
	WindowsSec          []int          `json:"windows_sec"`            // 回看窗口列表（秒），上限 120
	Buckets             []BucketConfig `json:"buckets"`                // 波动幅度分桶
	MaxPolyFreshnessSec float64        `json:"max_poly_freshness_sec"` // 市场中间价允许的最大陈旧秒数
	MaxPolyMidForEntry  float64        `json:"max_poly_mid_for_entry"` // 中间价高于该值视为行情已被定价

	// 外部服务
	GammaAPIURL string `json:"gamma_api_url"`
	ClobAPIURL  string `json:"clob_api_url"`
	ClobWSURL   string `json:"clob_ws_url"`

	DBPath       string  `json:"db_path"`       // 会话状态数据库路径 (badger)
	RecordPath   string  `json:"record_path"`   // tick 录制文件路径，空则不录制
	SlippageRate float64 `json:"slippage_rate"` // 纸面成交的滑点率（回放模式）

	LogConfig LogConfig `json:"log"`
}

// AssetConfig 描述一个可交易标的在各外部系统中的命名
type AssetConfig struct {
	Symbol     string `json:"symbol"`      // 内部标识, e.g. "BTC"
	SpotSymbol string `json:"spot_symbol"` // 币安现货流的交易对, e.g. "BTCUSDT"
	SlugName   string `json:"slug_name"`   // Polymarket slug 中的名称, e.g. "bitcoin"
}

// BucketConfig 定义一个波动幅度分桶 [MinPct, MaxPct)。
// MaxPct <= 0 表示上不封顶。
type BucketConfig struct {
	MinPct float64 `json:"min_pct"`
	MaxPct float64 `json:"max_pct"`
}

// LogConfig 定义了日志相关的配置
type LogConfig struct {
	Level      string `json:"level"`       // 日志级别, e.g., "debug", "info", "warn", "error"
	Output     string `json:"output"`      // 输出模式: "console", "file", "both"
	File       string `json:"file"`        // 日志文件路径
	MaxSize    int    `json:"max_size"`    // 单个日志文件的最大大小 (MB)
	MaxBackups int    `json:"max_backups"` // 保留的旧日志文件最大数量
	MaxAge     int    `json:"max_age"`     // 旧日志文件的最大保留天数
	Compress   bool   `json:"compress"`    // 是否压缩旧日志文件
}

// Market 代表一个回合市场：每个标的在每个回合各有一个
type Market struct {
	Asset       string  `json:"asset"`
	ConditionID string  `json:"condition_id"`
	UpTokenID   string  `json:"up_token_id"`
	DownTokenID string  `json:"down_token_id"`
	UpPrice     float64 `json:"up_price"`   // Up 结果的隐含概率，由行情流实时刷新
	DownPrice   float64 `json:"down_price"` // Down 结果的隐含概率
	ExpiresAt   int64   `json:"expires_at"` // 到期时间 (epoch ms)
	RoundSlot   int64   `json:"round_slot"` // floor(ExpiresAt / roundDurationSec)
	NegRisk     bool    `json:"neg_risk"`   // 特殊风险核算标记
	Question    string  `json:"question"`
	Slug        string  `json:"slug"`
}

// TokenIDForDirection 返回给定方向对应的结果 token id
func (m *Market) TokenIDForDirection(dir Direction) string {
	if dir == DirectionUp {
		return m.UpTokenID
	}
	return m.DownTokenID
}

// PriceForDirection 返回给定方向当前的隐含概率
func (m *Market) PriceForDirection(dir Direction) float64 {
	if dir == DirectionUp {
		return m.UpPrice
	}
	return m.DownPrice
}

// RoundInfo 描述当前回合的时间状态与已发现的市场
type RoundInfo struct {
	Slot        int64     `json:"slot"`
	ExpiresAt   int64     `json:"expires_at"` // epoch ms
	Markets     []*Market `json:"markets"`
	AgeSec      float64   `json:"age_sec"`
	TimeLeftSec float64   `json:"time_left_sec"`
}

// OrderbookSnapshot 是外部行情流推送的盘口快照（只读消费）
type OrderbookSnapshot struct {
	BestBid   float64 `json:"best_bid"`
	BestAsk   float64 `json:"best_ask"`
	BidDepth  float64 `json:"bid_depth"`
	AskDepth  float64 `json:"ask_depth"`
	Timestamp int64   `json:"timestamp"` // epoch ms
}

// PriceTick 是一个带时间戳的价格点
type PriceTick struct {
	Price float64 `json:"price"`
	Ts    int64   `json:"ts"` // epoch ms
}

// Direction 表示做多的结果方向
type Direction string

const (
	DirectionUp   Direction = "up"
	DirectionDown Direction = "down"
)

// DivergenceSignal 是检测器每次 Detect 产出的瞬时信号，核心不持久化
type DivergenceSignal struct {
	Asset            string    `json:"asset"`
	Direction        Direction `json:"direction"`
	MovePct          float64   `json:"move_pct"` // 现货在窗口内的百分比波动（带符号）
	WindowSec        int       `json:"window_sec"`
	PolyMid          float64   `json:"poly_mid"`           // 市场隐含中间价
	PolyFreshnessSec float64   `json:"poly_freshness_sec"` // 中间价相对最新现货 tick 的陈旧秒数
	SpotPrice        float64   `json:"spot_price"`
	Bucket           string    `json:"bucket"`        // 幅度分桶标签, e.g. "s30-60"
	StrategyTag      string    `json:"strategy_tag"`  // {ASSET}_{DIR}_{bucket}_w{window}
	WindowTag        string    `json:"window_tag"`    // {ASSET}_{DIR}_w{window}
	ThresholdTag     string    `json:"threshold_tag"` // {ASSET}_{DIR}_{bucket}
	Confidence       float64   `json:"confidence"`    // [0,1]
	Timestamp        int64     `json:"timestamp"`     // epoch ms
}
