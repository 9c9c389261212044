package orch

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/rs/zerolog"

	"github.com/Rajchodisetti/orderflow-engine/internal/exec"
)

// Runner replays logged metrics and execution streams through the
// orchestrator deterministically: same logs and config always produce
// the same decision and final-state hashes.
type Runner struct {
	orch *Orchestrator
	log  zerolog.Logger
}

type ReplayResult struct {
	DecisionHash   string `json:"decision_hash"`
	FinalStateHash string `json:"final_state_hash"`
	MetricsLines   int    `json:"metrics_lines"`
	ExecutionLines int    `json:"execution_lines"`
	Decisions      int    `json:"decisions"`
}

type replayItem struct {
	timeMS  int64
	metrics *MetricsLine
	exec    *exec.Event
}

func NewRunner(o *Orchestrator, log zerolog.Logger) *Runner {
	return &Runner{orch: o, log: log.With().Str("comp", "replay").Logger()}
}

// Run resets the orchestrator, merges the logs with a stable sort
// (metrics lines by canonical_time_ms, execution lines by
// event_time_ms), feeds them through, waits for all actors to idle, and
// hashes the outcome.
func (r *Runner) Run(metricsPaths, executionPaths []string) (ReplayResult, error) {
	var res ReplayResult
	var items []replayItem

	for _, path := range metricsPaths {
		lines, err := readMetricsLog(path)
		if err != nil {
			return res, fmt.Errorf("read metrics log %s: %w", path, err)
		}
		res.MetricsLines += len(lines)
		for i := range lines {
			items = append(items, replayItem{timeMS: lines[i].CanonicalTimeMS, metrics: &lines[i]})
		}
	}
	for _, path := range executionPaths {
		events, err := readExecutionLog(path)
		if err != nil {
			return res, fmt.Errorf("read execution log %s: %w", path, err)
		}
		res.ExecutionLines += len(events)
		for i := range events {
			items = append(items, replayItem{timeMS: events[i].EventTimeMS, exec: &events[i]})
		}
	}

	sort.SliceStable(items, func(i, j int) bool { return items[i].timeMS < items[j].timeMS })

	r.orch.ResetForReplay()
	for _, it := range items {
		switch {
		case it.metrics != nil:
			m := it.metrics
			if m.Metrics == nil {
				continue
			}
			if m.Gate != nil {
				r.orch.IngestLoggedMetrics(*m.Metrics, *m.Gate)
			} else {
				r.orch.Ingest(*m.Metrics)
			}
		case it.exec != nil:
			r.orch.IngestExecutionReplay(*it.exec)
		}
		// Serialize per item: replay has no real-time semantics and a
		// deterministic ledger order requires it.
		r.orch.FlushAll()
	}
	r.orch.FlushAll()

	ledger := r.orch.Ledger()
	res.Decisions = len(ledger)
	var err error
	if res.DecisionHash, err = canonicalHash(ledger); err != nil {
		return res, fmt.Errorf("hash ledger: %w", err)
	}
	if res.FinalStateHash, err = canonicalHash(r.orch.StateSnapshots()); err != nil {
		return res, fmt.Errorf("hash state: %w", err)
	}
	r.log.Info().
		Int("metrics_lines", res.MetricsLines).
		Int("execution_lines", res.ExecutionLines).
		Int("decisions", res.Decisions).
		Str("decision_hash", res.DecisionHash).
		Str("final_state_hash", res.FinalStateHash).
		Msg("replay complete")
	return res, nil
}

func readMetricsLog(path string) ([]MetricsLine, error) {
	var out []MetricsLine
	err := scanLines(path, func(line []byte) error {
		var m MetricsLine
		if err := json.Unmarshal(line, &m); err != nil {
			return err
		}
		out = append(out, m)
		return nil
	})
	return out, err
}

func readExecutionLog(path string) ([]exec.Event, error) {
	var out []exec.Event
	err := scanLines(path, func(line []byte) error {
		var wrapped ExecutionLine
		if err := json.Unmarshal(line, &wrapped); err == nil && wrapped.Event != nil {
			out = append(out, *wrapped.Event)
			return nil
		}
		var ev exec.Event
		if err := json.Unmarshal(line, &ev); err != nil {
			return err
		}
		out = append(out, ev)
		return nil
	})
	return out, err
}

func scanLines(path string, fn func(line []byte) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		if err := fn(line); err != nil {
			return err
		}
	}
	return sc.Err()
}

// canonicalHash is SHA-256 over the canonical JSON serialization:
// struct fields in declaration order, map keys sorted by encoding/json.
func canonicalHash(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}
