package executor

// Fill 描述一笔成交结果
type Fill struct {
	TokenID  string  // 成交的结果 token
	Price    float64 // 实际成交价
	Shares   float64 // 成交份额
	CostUSD  float64 // 成交金额 (买入为支出，卖出为收入)
	IsMaker  bool    // 是否以挂单方式成交
	FilledAt int64   // 成交时间 (毫秒)
}

// Executor 定义了下单通道必须提供的通用方法。
// 这使得交易机器人可以在模拟盘和实盘之间轻松切换。
type Executor interface {
	// Buy 按目标价买入指定金额的结果 token
	Buy(tokenID string, price, amountUSD float64, preferMaker bool) (*Fill, error)
	// Sell 按目标价卖出指定份额的结果 token
	Sell(tokenID string, price, shares float64, preferMaker bool) (*Fill, error)
}
