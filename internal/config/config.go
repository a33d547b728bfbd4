package config

import (
	"encoding/json"
	"fmt"
	"os"

	"polymarket-updown-bot/internal/models"
)

// LoadConfig 从指定路径加载JSON配置文件并解析到Config结构体中，
// 同时补全默认值并做范围校验。
func LoadConfig(path string) (*models.Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	decoder := json.NewDecoder(file)
	cfg := &models.Config{}
	if err := decoder.Decode(cfg); err != nil {
		return nil, err
	}

	applyDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyDefaults 为未填写的字段补上安全默认值
func applyDefaults(cfg *models.Config) {
	if cfg.RoundDurationSec == 0 {
		cfg.RoundDurationSec = 300
	}
	if cfg.GammaAPIURL == "" {
		cfg.GammaAPIURL = "https://gamma-api.polymarket.com"
	}
	if cfg.ClobAPIURL == "" {
		cfg.ClobAPIURL = "https://clob.polymarket.com"
	}
	if cfg.ClobWSURL == "" {
		cfg.ClobWSURL = "wss://ws-subscriptions-clob.polymarket.com/ws/market"
	}
	if cfg.MaxPolyFreshnessSec == 0 {
		cfg.MaxPolyFreshnessSec = 5
	}
	if cfg.MaxPolyMidForEntry == 0 {
		cfg.MaxPolyMidForEntry = 0.85
	}
	if len(cfg.WindowsSec) == 0 {
		cfg.WindowsSec = []int{10, 30, 60}
	}
	if cfg.RatchetConfirmTicks == 0 {
		cfg.RatchetConfirmTicks = 3
	}
	if cfg.RatchetConfirmTolerancePct == 0 {
		cfg.RatchetConfirmTolerancePct = 0.5
	}
	if cfg.TakerFeeBps == 0 {
		cfg.TakerFeeBps = 200
	}
	if cfg.MaxPositions == 0 {
		cfg.MaxPositions = 2
	}
	if cfg.DBPath == "" {
		cfg.DBPath = "session_state"
	}
}

// validate 做属于配置装载层的范围校验；策略核心假定拿到的配置已合法
func validate(cfg *models.Config) error {
	if len(cfg.Assets) == 0 {
		return fmt.Errorf("配置错误: assets 不能为空")
	}
	for _, a := range cfg.Assets {
		if a.Symbol == "" || a.SpotSymbol == "" || a.SlugName == "" {
			return fmt.Errorf("配置错误: 标的 %+v 缺少 symbol/spot_symbol/slug_name", a)
		}
	}
	if cfg.RoundDurationSec <= 0 {
		return fmt.Errorf("配置错误: round_duration_sec 必须为正数")
	}
	if cfg.MinRoundAgeSec < 0 || cfg.MinTimeLeftSec < 0 || cfg.ForceExitSec < 0 {
		return fmt.Errorf("配置错误: 回合时间门控不能为负数")
	}
	if cfg.ForceExitSec > cfg.MinTimeLeftSec {
		return fmt.Errorf("配置错误: force_exit_sec (%.0f) 不应大于 min_time_left_sec (%.0f)",
			cfg.ForceExitSec, cfg.MinTimeLeftSec)
	}
	if cfg.PositionSizeUSD <= 0 {
		return fmt.Errorf("配置错误: position_size_usd 必须为正数")
	}
	if cfg.TakeProfitPct <= 0 || cfg.StopLossPct <= 0 {
		return fmt.Errorf("配置错误: take_profit_pct 和 stop_loss_pct 必须为正数")
	}
	if cfg.MinSpotMovePct <= 0 {
		return fmt.Errorf("配置错误: min_spot_move_pct 必须为正数")
	}
	for _, w := range cfg.WindowsSec {
		if w <= 0 || w > 120 {
			return fmt.Errorf("配置错误: 回看窗口 %d 超出 (0, 120] 秒范围", w)
		}
	}
	for i, b := range cfg.Buckets {
		if b.MinPct < 0 {
			return fmt.Errorf("配置错误: 分桶 %d 的 min_pct 不能为负数", i)
		}
		if b.MaxPct > 0 && b.MaxPct <= b.MinPct {
			return fmt.Errorf("配置错误: 分桶 %d 的区间 [%.2f, %.2f) 无效", i, b.MinPct, b.MaxPct)
		}
	}
	if len(cfg.Buckets) == 0 {
		return fmt.Errorf("配置错误: buckets 不能为空")
	}
	return nil
}
