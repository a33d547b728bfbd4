package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"polymarket-updown-bot/internal/bot"
	"polymarket-updown-bot/internal/config"
	"polymarket-updown-bot/internal/detector"
	"polymarket-updown-bot/internal/executor"
	"polymarket-updown-bot/internal/logger"
	"polymarket-updown-bot/internal/marketdata"
	"polymarket-updown-bot/internal/models"
	"polymarket-updown-bot/internal/persistence"
	"polymarket-updown-bot/internal/position"
	"polymarket-updown-bot/internal/recorder"
	"polymarket-updown-bot/internal/reporter"
	"polymarket-updown-bot/internal/scanner"

	"github.com/joho/godotenv"
)

func main() {
	// --- 命令行参数定义 ---
	configPath := flag.String("config", "config.json", "path to the config file")
	mode := flag.String("mode", "live", "running mode: live or replay")
	dataPath := flag.String("data", "", "path to a recorded tick file for replay mode")
	flag.Parse()

	// --- 初始化日志 (提前，加载配置前就能记录) ---
	logger.InitLogger(models.LogConfig{Level: "info", Output: "console"})

	// --- 加载 .env 文件 ---
	if err := godotenv.Load(); err != nil {
		logger.S().Info("未找到 .env 文件，将从系统环境变量中读取。")
	} else {
		logger.S().Info("成功从 .env 文件加载配置。")
	}

	// --- 加载 JSON 配置 ---
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.S().Fatalf("无法加载配置文件: %v", err)
	}

	// --- 使用文件中的配置重新初始化日志 ---
	logger.InitLogger(cfg.LogConfig)
	defer logger.S().Sync()

	switch *mode {
	case "live":
		runLiveMode(cfg)
	case "replay":
		if *dataPath == "" {
			logger.S().Fatal("回放模式必须通过 -data 指定录制文件。")
		}
		runReplayMode(cfg, *dataPath)
	default:
		logger.S().Fatalf("未知的运行模式: %s。请选择 'live' 或 'replay'。", *mode)
	}
}

// runLiveMode 组装全部组件并运行至收到退出信号
func runLiveMode(cfg *models.Config) {
	client := marketdata.NewClient(cfg.GammaAPIURL, cfg.ClobAPIURL)
	sc := scanner.NewMarketScanner(cfg, client)
	det := detector.New(cfg)
	mgr := position.NewManager(cfg)
	exec := executor.NewPaperExecutor(cfg)

	tradingBot := bot.NewTradingBot(cfg, sc, det, mgr, exec)

	// 会话状态持久化
	repo, err := persistence.NewBadgerRepository(cfg.DBPath)
	if err != nil {
		logger.S().Fatalf("无法打开会话状态数据库: %v", err)
	}
	defer repo.Close()

	if state, err := repo.LoadState(); err != nil {
		logger.S().Warnf("加载会话状态失败，按全新会话启动: %v", err)
	} else if state != nil {
		mgr.Restore(*state)
		logger.S().Infof("已恢复会话状态: day=%s 当日盈亏=%.2f USD", state.Day, state.DailyPnlUSD)
	}

	saver := persistence.NewSaver(repo)
	saver.Start()
	defer saver.Stop()
	tradingBot.AttachSaver(saver)

	// 可选的行情录制
	if cfg.RecordPath != "" {
		rec, err := recorder.NewRecorder(cfg.RecordPath)
		if err != nil {
			logger.S().Fatalf("无法创建录制文件: %v", err)
		}
		defer rec.Close()
		tradingBot.AttachRecorder(rec)
		logger.S().Infof("行情录制已启用: %s", cfg.RecordPath)
	}

	if err := tradingBot.Start(); err != nil {
		logger.S().Fatalf("机器人启动失败: %v", err)
	}

	// 等待退出信号
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.S().Info("收到退出信号，正在停止...")

	tradingBot.Stop()
	reporter.GenerateReport(mgr.ClosedPositions(), tradingBot.StartedAt(), time.Now())
}

// runReplayMode 对录制文件做离线信号回放
func runReplayMode(cfg *models.Config, dataPath string) {
	det := detector.New(cfg)
	mgr := position.NewManager(cfg)
	exec := executor.NewPaperExecutor(cfg)
	client := marketdata.NewClient(cfg.GammaAPIURL, cfg.ClobAPIURL)
	sc := scanner.NewMarketScanner(cfg, client)

	tradingBot := bot.NewTradingBot(cfg, sc, det, mgr, exec)

	logger.S().Infof("开始回放: %s", dataPath)
	start := time.Now()
	if err := tradingBot.Replay(dataPath); err != nil {
		logger.S().Fatalf("回放失败: %v", err)
	}
	logger.S().Infof("回放耗时: %s", time.Since(start))
}
