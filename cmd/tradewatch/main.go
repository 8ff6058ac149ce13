package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/betbot/tradewatch/internal/derive"
	"github.com/betbot/tradewatch/internal/domain"
	"github.com/betbot/tradewatch/internal/metrics"
	"github.com/betbot/tradewatch/internal/session"
	"github.com/betbot/tradewatch/internal/snapshot"
	"github.com/betbot/tradewatch/internal/state"
	"github.com/betbot/tradewatch/internal/statusapi"
	"github.com/betbot/tradewatch/internal/tui"
	"github.com/betbot/tradewatch/pkg/config"
	"github.com/betbot/tradewatch/pkg/logger"
	"github.com/betbot/tradewatch/pkg/shutdown"
)

const gracefulShutdownPeriod = 10 * time.Second

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "tradewatch",
		Short:         "Live trade monitor for the trading backend",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "配置文件路径 (.yaml/.yml/.json)")

	watchCmd := &cobra.Command{
		Use:   "watch",
		Short: "终端界面：实时价格、交易状态和下单",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := setup(configPath, true)
			if err != nil {
				return err
			}
			return runWatch(cfg)
		},
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "无界面运行，提供本地状态 API 和 metrics",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := setup(configPath, false)
			if err != nil {
				return err
			}
			return runHeadless(cfg)
		},
	}

	var draft domain.TradeDraft
	submitCmd := &cobra.Command{
		Use:   "submit",
		Short: "提交一笔新交易",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := setup(configPath, false)
			if err != nil {
				return err
			}
			return runSubmit(cmd.Context(), cfg, draft)
		},
	}
	submitCmd.Flags().StringVar(&draft.BuyPrice, "buy", "", "买入价")
	submitCmd.Flags().StringVar(&draft.SellPrice, "sell", "", "止盈价")
	submitCmd.Flags().StringVar(&draft.StopLoss, "stop", "", "止损价")
	submitCmd.Flags().StringVar(&draft.Quantity, "qty", "", "数量")
	submitCmd.Flags().StringVar(&draft.Symbol, "symbol", "", "交易对（默认取配置）")
	submitCmd.Flags().Int64Var(&draft.UserID, "user", 0, "用户 id（默认取配置）")

	var asJSON bool
	snapshotCmd := &cobra.Command{
		Use:   "snapshot",
		Short: "拉取一次快照并打印交易和已实现盈亏",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := setup(configPath, false)
			if err != nil {
				return err
			}
			return runSnapshot(cmd.Context(), cfg, asJSON)
		},
	}
	snapshotCmd.Flags().BoolVar(&asJSON, "json", false, "以 JSON 输出")

	rootCmd.AddCommand(watchCmd, runCmd, submitCmd, snapshotCmd)

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// setup 加载配置并初始化日志；quiet 为 true 时日志不写控制台
func setup(configPath string, quiet bool) (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := logger.Init(logger.Config{
		Level:      cfg.Log.Level,
		OutputFile: cfg.Log.File,
		MaxSize:    cfg.Log.MaxSize,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAge,
		Compress:   cfg.Log.Compress,
		Quiet:      quiet,
	}); err != nil {
		return nil, fmt.Errorf("初始化日志失败: %w", err)
	}
	return cfg, nil
}

func runWatch(cfg *config.Config) error {
	ctx, stop := shutdown.SignalContext(context.Background())
	defer stop()

	s := session.New(cfg, session.Deps{})
	defer s.Close()
	if err := s.Start(ctx); err != nil {
		return fmt.Errorf("连接后端失败: %w", err)
	}
	return tui.Run(ctx, s, cfg.Symbol)
}

func runHeadless(cfg *config.Config) error {
	ctx, stop := shutdown.SignalContext(context.Background())
	defer stop()

	mgr := shutdown.NewManager()
	s := session.New(cfg, session.Deps{})
	mgr.OnShutdown("session", func(context.Context) error { return s.Close() })

	if err := s.Start(ctx); err != nil {
		_ = s.Close()
		return fmt.Errorf("连接后端失败: %w", err)
	}

	if cfg.StatusListen != "" {
		srv, err := statusapi.StartAsync(ctx, cfg.StatusListen, s)
		if err != nil {
			_ = s.Close()
			return err
		}
		mgr.OnShutdown("statusapi", srv.Shutdown)
	}
	if cfg.MetricsListen != "" {
		srv, err := metrics.StartAsync(ctx, cfg.MetricsListen)
		if err != nil {
			_ = s.Close()
			return err
		}
		mgr.OnShutdown("metrics", srv.Shutdown)
	}

	logger.Infof("✅ tradewatch 已启动 session=%s，按 Ctrl+C 停止", s.ID())
	select {
	case <-ctx.Done():
		logger.Info("收到停止信号，正在关闭...")
	case <-s.PushDone():
		logger.Errorf("推送通道已永久关闭，退出")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), gracefulShutdownPeriod)
	defer cancel()
	return mgr.Shutdown(shutdownCtx)
}

func runSubmit(ctx context.Context, cfg *config.Config, draft domain.TradeDraft) error {
	s := session.New(cfg, session.Deps{})
	defer s.Close()

	receipt, err := s.Submit(ctx, draft)
	if err != nil {
		return err
	}
	if id := receipt.TradeID(); id > 0 {
		fmt.Printf("Trade created #%d\n", id)
	} else {
		fmt.Println("Trade created")
	}
	return nil
}

func runSnapshot(ctx context.Context, cfg *config.Config, asJSON bool) error {
	snap, err := snapshot.NewHTTPFetcher(cfg.BackendURL, cfg.RequestTimeout).FetchAll(ctx)
	if err != nil {
		return err
	}
	open, closed, dropped := state.Normalize(snap.Active, snap.History)
	if dropped > 0 {
		logger.Warnf("丢弃 %d 条无法识别状态的交易", dropped)
	}

	status := derive.AggregateStatus(open)
	realized := derive.RealizedTotal(closed)
	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{
			"status":       status,
			"status_label": status.Label(),
			"open":         open,
			"closed":       closed,
			"realized":     realized,
		})
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Status:\t%s\n\n", status.Label())
	fmt.Fprintln(w, "ID\tSYMBOL\tSTATUS\tBUY\tSELL\tSTOP\tQTY\tP/L")
	for _, t := range append(append([]domain.Trade(nil), open...), closed...) {
		pl := "-"
		if v, ok := derive.ProfitAndLoss(t); ok {
			pl = v.String()
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			t.ID, t.Symbol, t.Status, t.BuyPrice, t.SellPrice, t.StopLoss, t.Quantity, pl)
	}
	fmt.Fprintf(w, "\nRealized P/L:\t%s\t(%d trades, %d wins, %d losses)\n",
		realized.Total, realized.Counted, realized.Wins, realized.Losses)
	return w.Flush()
}
