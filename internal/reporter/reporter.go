package reporter

import (
	"fmt"
	"math"
	"os"
	"time"

	"polymarket-updown-bot/internal/models"

	"github.com/jedib0t/go-pretty/v6/table"
)

// Metrics 存储会话结束时计算出的所有性能指标
type Metrics struct {
	TotalTrades   int
	WinningTrades int
	LosingTrades  int
	WinRate       float64
	NetPnlUSD     float64
	GrossPnlUSD   float64
	TotalFeesUSD  float64
	AvgProfitLoss float64
	AvgHoldSec    float64
	BestTradeUSD  float64
	WorstTradeUSD float64
}

// GenerateReport 根据已平仓记录计算并打印会话报告
func GenerateReport(closed []models.ClosedPosition, startTime, endTime time.Time) {
	metrics := calculateMetrics(closed)

	fmt.Printf("\n========== 会话结果报告 ==========\n")
	fmt.Printf("会话周期: %s 到 %s\n",
		startTime.Format("2006-01-02 15:04"), endTime.Format("2006-01-02 15:04"))

	renderTradesTable(closed)
	renderSummaryTable(metrics)
}

// renderTradesTable 打印逐笔平仓明细
func renderTradesTable(closed []models.ClosedPosition) {
	if len(closed) == 0 {
		fmt.Println("本次会话没有平仓记录。")
		return
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"ID", "资产", "方向", "策略标签", "入场价", "出场价", "平仓原因", "净盈亏%", "净盈亏USD", "持仓秒"})
	for _, c := range closed {
		t.AppendRow(table.Row{
			c.ID,
			c.Asset,
			c.Direction,
			c.StrategyTag,
			fmt.Sprintf("%.4f", c.EntryPrice),
			fmt.Sprintf("%.4f", c.ExitPrice),
			c.Reason,
			fmt.Sprintf("%.2f", c.NetPnlPct),
			fmt.Sprintf("%.2f", c.NetPnlUSD),
			c.HoldSec,
		})
	}
	t.Render()
}

// renderSummaryTable 打印汇总指标
func renderSummaryTable(m *Metrics) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"指标", "数值"})
	t.AppendRows([]table.Row{
		{"总交易次数", m.TotalTrades},
		{"盈利次数", m.WinningTrades},
		{"亏损次数", m.LosingTrades},
		{"胜率", fmt.Sprintf("%.2f%%", m.WinRate)},
		{"净盈亏", fmt.Sprintf("%.2f USD", m.NetPnlUSD)},
		{"毛盈亏", fmt.Sprintf("%.2f USD", m.GrossPnlUSD)},
		{"总手续费", fmt.Sprintf("%.2f USD", m.TotalFeesUSD)},
		{"平均盈亏比", fmt.Sprintf("%.2f", m.AvgProfitLoss)},
		{"平均持仓时间", fmt.Sprintf("%.0f 秒", m.AvgHoldSec)},
		{"最佳单笔", fmt.Sprintf("%.2f USD", m.BestTradeUSD)},
		{"最差单笔", fmt.Sprintf("%.2f USD", m.WorstTradeUSD)},
	})
	t.Render()
}

func calculateMetrics(closed []models.ClosedPosition) *Metrics {
	m := &Metrics{TotalTrades: len(closed)}
	if len(closed) == 0 {
		return m
	}

	var totalProfit, totalLoss, totalHold float64
	m.BestTradeUSD = math.Inf(-1)
	m.WorstTradeUSD = math.Inf(1)

	for _, c := range closed {
		m.NetPnlUSD += c.NetPnlUSD
		m.GrossPnlUSD += c.GrossPnlUSD
		m.TotalFeesUSD += c.GrossPnlUSD - c.NetPnlUSD
		totalHold += float64(c.HoldSec)

		if c.NetPnlUSD > 0 {
			m.WinningTrades++
			totalProfit += c.NetPnlUSD
		} else {
			m.LosingTrades++
			totalLoss += c.NetPnlUSD
		}
		if c.NetPnlUSD > m.BestTradeUSD {
			m.BestTradeUSD = c.NetPnlUSD
		}
		if c.NetPnlUSD < m.WorstTradeUSD {
			m.WorstTradeUSD = c.NetPnlUSD
		}
	}

	m.WinRate = float64(m.WinningTrades) / float64(m.TotalTrades) * 100
	m.AvgHoldSec = totalHold / float64(m.TotalTrades)
	if m.WinningTrades > 0 && m.LosingTrades > 0 {
		avgWin := totalProfit / float64(m.WinningTrades)
		avgLoss := math.Abs(totalLoss / float64(m.LosingTrades))
		if avgLoss > 0 {
			m.AvgProfitLoss = avgWin / avgLoss
		}
	}
	return m
}
