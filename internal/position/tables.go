package position

// thresholdEntry 是 (阈值, 值) 的一项。各表按阈值降序排列，
// 查找时取第一个 threshold <= x 的项（first descending match）。
type thresholdEntry struct {
	Threshold float64
	Value     float64
}

// ratchetFloorTable 把确认高点涨幅映射为棘轮地板（允许回撤到的盈亏百分比）。
// 确认高点越高，交还的利润比例越小。
var ratchetFloorTable = []thresholdEntry{
	{100, 94},
	{50, 44},
	{40, 35},
	{30, 25},
	{25, 20},
	{20, 15},
	{15, 10},
	{10, 6},
	{8, 4},
	{6, 3},
	{5, 2},
	{4, 1},
	{3, 0},
	{2, -2},
	{1, -4},
}

// ratchetDefaultFloor 在确认高点尚未达到任何表项时生效
const ratchetDefaultFloor = -12.0

// ratchetFloor 查表返回给定确认高点涨幅对应的地板
func ratchetFloor(confirmedHighPct float64) float64 {
	return lookupDescending(ratchetFloorTable, confirmedHighPct, ratchetDefaultFloor)
}

// profitTrailTable 把历史最高盈亏映射为允许的回撤幅度
var profitTrailTable = []thresholdEntry{
	{20, 12},
	{15, 10},
	{10, 7},
	{5, 5},
}

const profitTrailDefault = 8.0

func profitTrail(highPnlPct float64) float64 {
	return lookupDescending(profitTrailTable, highPnlPct, profitTrailDefault)
}

// timeTrail 返回随剩余时间收紧的回撤容差：离到期越近越不容忍回撤
func timeTrail(timeLeftSec float64) float64 {
	switch {
	case timeLeftSec > 420:
		return 15
	case timeLeftSec > 180:
		return 10
	default:
		return 7
	}
}

// lookupDescending 在降序表中返回第一个 Threshold <= x 的 Value
func lookupDescending(table []thresholdEntry, x, fallback float64) float64 {
	for _, e := range table {
		if x >= e.Threshold {
			return e.Value
		}
	}
	return fallback
}
