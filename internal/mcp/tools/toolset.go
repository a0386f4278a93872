// Package tools implements the MCP tool surface. Each tool is a thin
// adapter that decodes its JSON arguments, resolves snapshot files and
// delegates to the matching analysis engine.
package tools

import (
	"encoding/json"

	"github.com/moolen/hindsight/internal/alerts"
	"github.com/moolen/hindsight/internal/config"
	"github.com/moolen/hindsight/internal/contextbundle"
	"github.com/moolen/hindsight/internal/events"
	"github.com/moolen/hindsight/internal/k8sspecs"
	"github.com/moolen/hindsight/internal/logging"
	"github.com/moolen/hindsight/internal/logs"
	metrics "github.com/moolen/hindsight/internal/metricsdata"
	"github.com/moolen/hindsight/internal/models"
	"github.com/moolen/hindsight/internal/snapshot"
	"github.com/moolen/hindsight/internal/topology"
	"github.com/moolen/hindsight/internal/traces"
)

// Toolset holds the shared engines behind the MCP tools. Engines are
// stateless beyond the table cache, so one toolset serves all
// concurrent invocations.
type Toolset struct {
	Events     *events.Engine
	Alerts     *alerts.Engine
	Traces     *traces.Engine
	Metrics    *metrics.Engine
	Logs       *logs.Engine
	Specs      *k8sspecs.Engine
	Builder    *topology.Builder
	Analyzer   *topology.Analyzer
	Aggregator *contextbundle.Aggregator

	Cache       *snapshot.TableCache
	Locator     snapshot.Locator
	SnapshotDir string
}

// NewToolset wires the engines against one shared table cache.
func NewToolset(cfg *config.Config) (*Toolset, error) {
	cache, err := snapshot.NewTableCache(cfg.CacheSize, logging.GetLogger("snapshot"))
	if err != nil {
		return nil, err
	}

	eventsEngine := events.NewEngine(cache, logging.GetLogger("events"))
	alertsEngine := alerts.NewEngine(logging.GetLogger("alerts"))
	tracesEngine := traces.NewEngine(cache, logging.GetLogger("traces"),
		cfg.TraceErrorThresholdPct, cfg.TraceLatencyThresholdPct)
	metricsEngine := metrics.NewEngine(cache, logging.GetLogger("metrics"))
	logsEngine := logs.NewEngine(cache, logging.GetLogger("logs"))
	specsEngine := k8sspecs.NewEngine(cache, logging.GetLogger("k8sspecs"),
		cfg.RemovalGracePeriodSec, cfg.RemovalMinCycles)
	analyzer := topology.NewAnalyzer(logging.GetLogger("topology"))

	aggregator := contextbundle.NewAggregator(contextbundle.Engines{
		Events:   eventsEngine,
		Alerts:   alertsEngine,
		Traces:   tracesEngine,
		Metrics:  metricsEngine,
		Logs:     logsEngine,
		Specs:    specsEngine,
		Topology: analyzer,
	}, logging.GetLogger("context"))

	return &Toolset{
		Events:      eventsEngine,
		Alerts:      alertsEngine,
		Traces:      tracesEngine,
		Metrics:     metricsEngine,
		Logs:        logsEngine,
		Specs:       specsEngine,
		Builder:     topology.NewBuilder(cache, logging.GetLogger("topology")),
		Analyzer:    analyzer,
		Aggregator:  aggregator,
		Cache:       cache,
		Locator:     snapshot.GlobLocator{},
		SnapshotDir: cfg.SnapshotDir,
	}, nil
}

// Files resolves the snapshot files for a scenario directory. An empty
// dir falls back to the configured snapshot directory.
func (ts *Toolset) Files(dir string) (snapshot.Files, error) {
	if dir == "" {
		dir = ts.SnapshotDir
	}
	if dir == "" {
		return snapshot.Files{}, models.NewParameterError("snapshot_dir",
			"no snapshot directory configured; pass one explicitly or set snapshot_dir in the config")
	}
	return ts.Locator.Locate(dir)
}

// locate returns the explicit path when given, otherwise the located
// file for the default snapshot directory. The param name is reported
// when neither yields a path.
func (ts *Toolset) locate(explicit string, pick func(snapshot.Files) string, param string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	files, err := ts.Files("")
	if err != nil {
		return "", err
	}
	if path := pick(files); path != "" {
		return path, nil
	}
	return "", models.NewParameterError(param,
		"%s not given and not found in the snapshot directory", param)
}

// stringList accepts both a JSON string and a JSON array of strings,
// matching the schema's oneOf for group_by.
type stringList []string

func (s *stringList) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		if single == "" {
			*s = nil
			return nil
		}
		*s = stringList{single}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return err
	}
	*s = stringList(many)
	return nil
}
