package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Rajchodisetti/orderflow-engine/internal/book"
	"github.com/Rajchodisetti/orderflow-engine/internal/config"
	"github.com/Rajchodisetti/orderflow-engine/internal/decision"
	"github.com/Rajchodisetti/orderflow-engine/internal/exec"
	"github.com/Rajchodisetti/orderflow-engine/internal/feed"
	"github.com/Rajchodisetti/orderflow-engine/internal/gate"
	"github.com/Rajchodisetti/orderflow-engine/internal/observ"
	"github.com/Rajchodisetti/orderflow-engine/internal/orch"
	"github.com/Rajchodisetti/orderflow-engine/internal/transport"
)

func newRunCmd() *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the live engine",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			return runEngine(cfg)
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "config.yaml", "path to config file")
	return cmd
}

func runEngine(cfg config.Root) error {
	log := observ.NewLogger(cfg.LogLevel, nil)
	met := observ.NewMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// The paper venue prices off the live books; the pointer is bound
	// after the ingestor exists.
	var ing *feed.Ingestor
	prices := func(symbol string, side decision.OrderSide) (float64, bool) {
		if ing == nil {
			return 0, false
		}
		p := ing.Pipelines()[symbol]
		if p == nil {
			return 0, false
		}
		if side == decision.SideBuy {
			if ask, ok := p.Book.BestAsk(); ok {
				return ask.Price, true
			}
			return 0, false
		}
		if bid, ok := p.Book.BestBid(); ok {
			return bid.Price, true
		}
		return 0, false
	}
	connector := exec.NewPaperConnector(prices, 10_000,
		cfg.Paper.LatencyMsMin, cfg.Paper.LatencyMsMax,
		cfg.Paper.SlippageBpsMin, cfg.Paper.SlippageBpsMax, log)
	defer connector.Close()

	logger, err := orch.NewLogger(filepath.Join(cfg.LogsDir, "orchestrator"),
		cfg.Logger.QueueLimit, cfg.Logger.DropHaltThreshold, met, log)
	if err != nil {
		return err
	}
	defer logger.Close()

	gateMode := gate.V1NoLatency
	if cfg.Gate.Mode == "V2" {
		gateMode = gate.V2NetworkLatency
	}
	o := orch.New(orch.Config{
		Gate: gate.Config{
			Mode:                gateMode,
			MaxSpreadPct:        cfg.Gate.MaxSpreadPct,
			MinOBIDeep:          cfg.Gate.MinOBIDeep,
			MaxNetworkLatencyMS: cfg.Gate.MaxNetworkLatencyMS,
		},
		Decision: decision.Config{
			InitialMarginUSDT: cfg.Decision.InitialMarginUSDT,
			MaxLeverage:       cfg.Decision.MaxLeverage,
			CooldownMinMS:     cfg.Decision.CooldownMinMS,
			CooldownMaxMS:     cfg.Decision.CooldownMaxMS,
		},
		ExecutionEnabled: cfg.Execution.Enabled,
	}, connector, logger, met, log)

	hub := transport.NewHub(met, log)
	defer hub.Close()
	broadcaster := feed.NewBroadcaster(cfg.Feed.BroadcastThrottleMS, hub, o, met, log)
	fetcher := feed.NewSnapshotFetcher(feed.SnapshotConfig{
		RESTURL:       cfg.Feed.RESTURL,
		MinIntervalMS: cfg.Feed.SnapshotMinIntervalMS,
		BackoffMinMS:  cfg.Feed.SnapshotBackoffMinMS,
		BackoffMaxMS:  cfg.Feed.SnapshotBackoffMaxMS,
	}, met, log)
	info := feed.NewExchangeInfo(cfg.Feed.RESTURL, log)
	ing = feed.NewIngestor(feed.IngestorConfig{
		WSURL:            cfg.Feed.WSURL,
		TradeWindowMS:    cfg.Feed.TradeWindowMS,
		MaxGapTolerance:  cfg.Feed.MaxGapTolerance,
		CVDTimeframesSec: cfg.Feed.CVDTimeframesSec,
		ReconnectDelay:   time.Duration(cfg.Feed.ReconnectDelayMS) * time.Millisecond,
	}, fetcher, broadcaster, met, log)

	ing.SetExchangeInfo(info)
	o.SetSymbolsChangedHook(ing.SetSymbols)
	ing.SetSymbols(cfg.Feed.Symbols)
	if len(cfg.Execution.Symbols) > 0 {
		if err := o.SetExecutionSymbols(ctx, cfg.Execution.Symbols); err != nil {
			return err
		}
	}

	health := func() observ.HealthSnapshot {
		snap := observ.HealthSnapshot{
			Status:      "healthy",
			TimestampMS: time.Now().UnixMilli(),
			Books:       map[string]observ.BookHealth{},
			Feed: observ.FeedHealth{
				Connected:            ing.Connected(),
				GlobalBackoffUntilMS: fetcher.GlobalBackoffUntilMS(),
			},
			Logger: logger.Health(),
		}
		for sym, p := range ing.Pipelines() {
			st := p.Book.Stats()
			snap.Books[sym] = observ.BookHealth{
				State:        p.Book.State().String(),
				LastUpdateID: p.Book.LastUpdateID(),
				Applied:      st.Applied,
				Dropped:      st.Dropped,
				Buffered:     st.Buffered,
				Desyncs:      st.Desyncs,
			}
			if p.Book.State() != book.Live {
				snap.Status = "degraded"
			}
		}
		if !snap.Feed.Connected {
			snap.Status = "degraded"
		}
		return snap
	}
	srv := transport.NewServer(cfg.ListenAddr, hub, met, health, log)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("http server")
		}
	}()

	oiPoller := feed.NewOIPoller(cfg.Feed.RESTURL,
		time.Duration(cfg.Feed.OIPollIntervalMS)*time.Millisecond, ing, log)

	go ing.Run(ctx)
	go oiPoller.Run(ctx)
	go o.Run(ctx)

	log.Info().Str("addr", cfg.ListenAddr).Strs("symbols", cfg.Feed.Symbols).Msg("engine running")
	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
