package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Rajchodisetti/orderflow-engine/internal/config"
	"github.com/Rajchodisetti/orderflow-engine/internal/decision"
	"github.com/Rajchodisetti/orderflow-engine/internal/gate"
	"github.com/Rajchodisetti/orderflow-engine/internal/observ"
	"github.com/Rajchodisetti/orderflow-engine/internal/orch"
)

func newReplayCmd() *cobra.Command {
	var (
		cfgPath      string
		metricsLogs  []string
		executionLog []string
	)
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Deterministically replay logged metrics and execution streams",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Default()
			if cfgPath != "" {
				var err error
				if cfg, err = config.Load(cfgPath); err != nil {
					return err
				}
			}
			if len(metricsLogs) == 0 && len(executionLog) == 0 {
				return fmt.Errorf("at least one --metrics or --execution log required")
			}

			log := observ.NewLogger(cfg.LogLevel, nil)
			gateMode := gate.V1NoLatency
			if cfg.Gate.Mode == "V2" {
				gateMode = gate.V2NetworkLatency
			}
			// No connector and no logger: replay never re-logs and never
			// places orders.
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
			}, nil, nil, nil, log)

			res, err := orch.NewRunner(o, log).Run(metricsLogs, executionLog)
			if err != nil {
				return err
			}
			return json.NewEncoder(os.Stdout).Encode(res)
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "path to config file")
	cmd.Flags().StringSliceVar(&metricsLogs, "metrics", nil, "metrics JSONL file(s)")
	cmd.Flags().StringSliceVar(&executionLog, "execution", nil, "execution JSONL file(s)")
	return cmd
}
