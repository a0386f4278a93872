// Package contextbundle assembles the full operational context of one
// entity across every captured data source: topology, events, alerts,
// traces, metrics, logs and object specs. Sections are independent and
// fan out concurrently; a section that fails records its error in
// place and never aborts the bundle.
package contextbundle

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/moolen/hindsight/internal/alerts"
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

const (
	defaultDepsPerPage = 3

	// alertFetchLimit is how many alerts are pulled before the
	// entity-substring filter runs.
	alertFetchLimit = 20
	// relatedAlertLimit caps the related alerts shown in the bundle.
	relatedAlertLimit = 10

	logPatternLimit = 15
	logSimilarity   = 0.5

	// specPreviewLimit truncates large specs to a preview.
	specPreviewLimit = 2000

	depEventLimit = 10
	depEventShown = 5
)

// Params drives one context bundle. Page 1 is the main entity, pages 2+
// walk the dependency list, page 0 returns everything at once.
type Params struct {
	K8Object    string `json:"k8_object"`
	StartTime   string `json:"start_time,omitempty"`
	EndTime     string `json:"end_time,omitempty"`
	Page        *int   `json:"page,omitempty"`
	DepsPerPage int    `json:"deps_per_page,omitempty"`
}

// Engines bundles the per-source engines the aggregator fans out to.
// All of them are stateless, so sections can run concurrently.
type Engines struct {
	Events   *events.Engine
	Alerts   *alerts.Engine
	Traces   *traces.Engine
	Metrics  *metrics.Engine
	Logs     *logs.Engine
	Specs    *k8sspecs.Engine
	Topology *topology.Analyzer
}

// Aggregator builds entity context bundles.
type Aggregator struct {
	engines Engines
	logger  *logging.Logger
}

func NewAggregator(engines Engines, logger *logging.Logger) *Aggregator {
	return &Aggregator{engines: engines, logger: logger}
}

// sectionResult carries one bundle section: either its document or the
// error to record in its place. The zero value contributes nothing.
type sectionResult struct {
	doc interface{}
	err error
}

func (s sectionResult) addTo(result map[string]interface{}, key string) {
	if s.err != nil {
		result[key+"_error"] = s.err.Error()
		return
	}
	if s.doc != nil {
		result[key] = s.doc
	}
}

// Build assembles the context bundle for one entity from the scenario's
// discovered files.
func (a *Aggregator) Build(ctx context.Context, files snapshot.Files, p Params) (map[string]interface{}, error) {
	if p.K8Object == "" {
		return nil, models.NewParameterError("k8_object", "k8_object is required")
	}
	id := models.ParseIdentifier(p.K8Object)
	if id.Format == models.FormatInvalid {
		return nil, models.NewParameterError("k8_object", "%s", id.Warning)
	}

	page := 1
	if p.Page != nil {
		page = *p.Page
	}
	depsPerPage := p.DepsPerPage
	if depsPerPage <= 0 {
		depsPerPage = defaultDepsPerPage
	}

	kind := id.Kind
	if kind == "" {
		kind = "Unknown"
	}
	searchName := id.Name
	displayName := searchName
	if id.Namespace != "" {
		displayName = id.Namespace + "/" + searchName
	}
	variants := nameVariants(searchName)

	result := map[string]interface{}{
		"entity":            p.K8Object,
		"identifier_format": id.Format,
		"kind":              kind,
		"namespace":         id.Namespace,
		"name":              displayName,
		"page":              page,
		"time_window":       map[string]string{"start": p.StartTime, "end": p.EndTime},
		"files_found":       files,
	}
	if id.Ambiguous && id.Warning != "" {
		result["identifier_warning"] = id.Warning
	}

	// The dependency list decides pagination, so topology runs first.
	var deps topology.EntityDeps
	if files.TopologyFile != "" {
		if err := a.topologySection(files.TopologyFile, searchName, page, result, &deps); err != nil {
			result["topology_error"] = err.Error()
		}
	}
	dependencies := deps.All()

	totalDepPages := 0
	if len(dependencies) > 0 {
		totalDepPages = (len(dependencies) + depsPerPage - 1) / depsPerPage
	}
	totalPages := 1 + totalDepPages
	result["pagination"] = map[string]interface{}{
		"current_page":       page,
		"total_pages":        totalPages,
		"total_dependencies": len(dependencies),
		"deps_per_page":      depsPerPage,
		"all_pages":          page == 0,
	}

	switch {
	case page == 0 || page == 1:
		result["context_type"] = "main_entity"
		a.mainSections(ctx, files, kind, searchName, variants, p, result)
		result["dependencies"] = dependencies

		if page == 0 && len(dependencies) > 0 {
			result["context_type"] = "all"
			result["dependency_context"] = a.dependencyContexts(ctx, files, dependencies, p)
		}

	case page >= 2:
		result["context_type"] = "dependencies"
		start := (page - 2) * depsPerPage
		end := start + depsPerPage
		if start >= len(dependencies) {
			result["message"] = fmt.Sprintf("No dependencies on page %d. Total pages: %d", page, totalPages)
			return result, nil
		}
		if end > len(dependencies) {
			end = len(dependencies)
		}
		pageDeps := dependencies[start:end]
		result["dependencies_on_page"] = pageDeps
		result["dependency_context"] = a.dependencyContexts(ctx, files, pageDeps, p)
	}

	return result, nil
}

// topologySection loads the graph, runs the service-context analysis
// and discovers the functional dependency set.
func (a *Aggregator) topologySection(topologyFile, searchName string, page int, result map[string]interface{}, deps *topology.EntityDeps) error {
	g, err := topology.LoadGraph(topologyFile)
	if err != nil {
		return err
	}
	doc, err := a.engines.Topology.Analyze(g, topology.AnalyzeParams{
		Mode:   topology.ModeServiceContext,
		Entity: searchName,
	})
	if err != nil {
		return err
	}
	if d, ok := g.DiscoverDeps(searchName); ok {
		*deps = d
	}
	if deps.Direct == nil {
		deps.Direct = []string{}
	}
	if deps.Transitive == nil {
		deps.Transitive = []string{}
	}
	if page <= 1 {
		result["topology"] = doc
		result["dependency_breakdown"] = map[string]interface{}{
			"direct":     deps.Direct,
			"transitive": deps.Transitive,
		}
	}
	return nil
}

// mainSections runs the seven page-1 sections concurrently and merges
// them into the result.
func (a *Aggregator) mainSections(ctx context.Context, files snapshot.Files, kind, searchName string, variants []string, p Params, result map[string]interface{}) {
	var evSec, alSec, trSec, meSec, loSec, spSec, chSec sectionResult

	group, gctx := errgroup.WithContext(ctx)
	if files.EventsFile != "" {
		group.Go(func() error {
			evSec = a.entityEvents(gctx, files.EventsFile, kind, variants, p)
			return nil
		})
	}
	if files.AlertsDir != "" {
		group.Go(func() error {
			alSec = a.relatedAlerts(gctx, files.AlertsDir, searchName, p)
			return nil
		})
	}
	if files.TracesFile != "" {
		group.Go(func() error {
			trSec = a.traceErrors(gctx, files.TracesFile, variants, p)
			return nil
		})
	}
	if files.MetricsDir != "" {
		group.Go(func() error {
			meSec = a.metricAnomalies(gctx, files.MetricsDir, kind, searchName, variants, p)
			return nil
		})
	}
	if files.LogsFile != "" {
		group.Go(func() error {
			loSec = a.logPatterns(gctx, files.LogsFile, p)
			return nil
		})
	}
	if files.ObjectsFile != "" {
		group.Go(func() error {
			spSec = a.latestSpec(gctx, files.ObjectsFile, p.K8Object)
			return nil
		})
		group.Go(func() error {
			chSec = a.specChanges(gctx, files.ObjectsFile, p.K8Object, p.StartTime, p.EndTime)
			return nil
		})
	}
	_ = group.Wait()

	evSec.addTo(result, "events")
	alSec.addTo(result, "alerts")
	trSec.addTo(result, "trace_errors")
	meSec.addTo(result, "metric_anomalies")
	loSec.addTo(result, "log_patterns")
	spSec.addTo(result, "k8s_spec")
	chSec.addTo(result, "spec_changes")
}

// entityEvents filters events to the entity, trying stripped name
// variants until one of them matches rows. Deployment-level kinds
// filter on the derived deployment column, everything else on the
// raw object name.
func (a *Aggregator) entityEvents(ctx context.Context, eventsFile, kind string, variants []string, p Params) sectionResult {
	var best *events.Result
	var lastErr error
	for _, variant := range variants {
		filters := map[string]string{"object_name": variant}
		switch kind {
		case "Deployment", "Service", "App":
			filters = map[string]string{"deployment": variant}
		}
		res, err := a.engines.Events.Analyze(ctx, eventsFile, events.Params{
			Filters:   filters,
			StartTime: p.StartTime,
			EndTime:   p.EndTime,
		})
		if err != nil {
			lastErr = err
			continue
		}
		best = res
		if res.Page.ReturnedCount > 0 {
			break
		}
	}
	if best == nil {
		return sectionResult{err: lastErr}
	}
	return sectionResult{doc: map[string]interface{}{
		"count":     best.Page.ReturnedCount,
		"items":     best,
		"truncated": false,
	}}
}

// relatedAlerts pulls recent alerts and keeps those mentioning the
// entity anywhere in their payload.
func (a *Aggregator) relatedAlerts(ctx context.Context, alertsDir, searchName string, p Params) sectionResult {
	page, err := a.engines.Alerts.Analyze(ctx, alertsDir, alerts.Params{
		Limit:     alertFetchLimit,
		StartTime: p.StartTime,
		EndTime:   p.EndTime,
	})
	if err != nil {
		return sectionResult{err: err}
	}

	needle := strings.ToLower(searchName)
	related := []interface{}{}
	for _, item := range page.Data {
		if strings.Contains(strings.ToLower(fmt.Sprintf("%v", item)), needle) {
			related = append(related, item)
		}
	}
	relatedCount := len(related)
	if relatedCount > relatedAlertLimit {
		related = related[:relatedAlertLimit]
	}
	return sectionResult{doc: map[string]interface{}{
		"total_alerts":      page.ReturnedCount,
		"related_to_entity": relatedCount,
		"items":             related,
		"truncated":         relatedCount > relatedAlertLimit,
	}}
}

// traceErrors runs the error-tree analysis pivoted on the window start,
// trying name variants until one yields trace paths.
func (a *Aggregator) traceErrors(ctx context.Context, traceFile string, variants []string, p Params) sectionResult {
	var lastErr error
	succeeded := false
	for _, variant := range variants {
		report, err := a.engines.Traces.Analyze(ctx, traceFile, traces.Params{
			ServiceName: variant,
			PivotTime:   p.StartTime,
		})
		if err != nil {
			lastErr = err
			continue
		}
		succeeded = true
		if len(report.AllPaths) > 0 || len(report.CriticalPaths) > 0 {
			return sectionResult{doc: report}
		}
	}
	if !succeeded && lastErr != nil {
		return sectionResult{err: lastErr}
	}
	return sectionResult{doc: map[string]interface{}{
		"message":        "No trace data found for entity",
		"variants_tried": variants,
	}}
}

// metricAnomalies picks a metrics target that actually exists in the
// snapshot. Metrics dumps usually carry pod_*.tsv and service_*.tsv
// but no deployment files, so deployment-level entities probe
// Service/<name> first and fall back to a backing pod file.
func (a *Aggregator) metricAnomalies(ctx context.Context, metricsDir, kind, searchName string, variants []string, p Params) sectionResult {
	try := func(objectName string) *metrics.AnomalyReport {
		report, err := a.engines.Metrics.Anomalies(ctx, metricsDir, metrics.AnomalyParams{
			ObjectName: objectName,
			StartTime:  p.StartTime,
			EndTime:    p.EndTime,
		})
		if err != nil || len(report.Metrics) == 0 {
			return nil
		}
		return report
	}

	switch strings.ToLower(kind) {
	case "pod", "service":
		if report := try(kind + "/" + searchName); report != nil {
			return sectionResult{doc: report}
		}
	default:
		for _, variant := range variants {
			if report := try("Service/" + variant); report != nil {
				return sectionResult{doc: report}
			}
		}
		for _, variant := range variants {
			podFiles := snapshot.MetricFiles(metricsDir, []string{"pod_" + variant + "-*.tsv"})
			if len(podFiles) == 0 {
				continue
			}
			stem := strings.TrimSuffix(filepath.Base(podFiles[0]), ".tsv")
			podName := strings.TrimSuffix(strings.TrimPrefix(stem, "pod_"), "_raw")
			if report := try("pod/" + podName); report != nil {
				return sectionResult{doc: report}
			}
		}
	}
	return sectionResult{}
}

// logPatterns mines the top log templates attributable to the entity.
func (a *Aggregator) logPatterns(ctx context.Context, logsFile string, p Params) sectionResult {
	similarity := logSimilarity
	res, err := a.engines.Logs.Analyze(ctx, logsFile, logs.Params{
		K8Object:            p.K8Object,
		MaxPatterns:         logPatternLimit,
		SimilarityThreshold: &similarity,
		StartTime:           p.StartTime,
		EndTime:             p.EndTime,
	})
	if err != nil {
		return sectionResult{err: err}
	}
	patterns, ok := res.(*logs.PatternResult)
	if !ok {
		return sectionResult{doc: res}
	}
	if patterns.TotalLogs == 0 {
		return sectionResult{doc: map[string]interface{}{
			"total_logs": 0,
			"message":    "No logs found for entity in time window",
		}}
	}
	return sectionResult{doc: map[string]interface{}{
		"total_logs":    patterns.TotalLogs,
		"pattern_count": patterns.PatternCount,
		"patterns":      patterns.Patterns,
	}}
}

// latestSpec retrieves the entity's latest observed spec, truncated to
// a preview when it is large.
func (a *Aggregator) latestSpec(ctx context.Context, objectsFile, k8Object string) sectionResult {
	doc, err := a.engines.Specs.Get(ctx, objectsFile, k8sspecs.GetParams{K8Object: k8Object})
	if err != nil {
		return sectionResult{err: err}
	}
	spec, ok := doc["spec"]
	if !ok {
		// Ambiguous identifier: the grouped multi-entity document
		// stands on its own.
		return sectionResult{doc: doc}
	}

	out := map[string]interface{}{
		"entity_id":         doc["entity_id"],
		"kind":              doc["kind"],
		"namespace":         doc["namespace"],
		"name":              doc["name"],
		"timestamp":         doc["timestamp"],
		"observation_count": doc["observation_count"],
	}
	raw, err := json.Marshal(spec)
	if err == nil && len(raw) > specPreviewLimit {
		out["spec_truncated"] = true
		out["spec_preview"] = string(raw[:specPreviewLimit]) + "..."
	} else {
		out["spec"] = spec
	}
	return sectionResult{doc: out}
}

func (a *Aggregator) specChanges(ctx context.Context, objectsFile, k8Object, startTime, endTime string) sectionResult {
	report, err := a.engines.Specs.Changes(ctx, objectsFile, k8sspecs.ChangeParams{
		K8Object:  k8Object,
		StartTime: startTime,
		EndTime:   endTime,
	})
	if err != nil {
		return sectionResult{err: err}
	}
	return sectionResult{doc: report}
}

// dependencyContexts builds the per-dependency context (events + spec
// changes) for each listed dependency, concurrently.
func (a *Aggregator) dependencyContexts(ctx context.Context, files snapshot.Files, deps []string, p Params) map[string]interface{} {
	docs := make([]map[string]interface{}, len(deps))
	group, gctx := errgroup.WithContext(ctx)
	for i, dep := range deps {
		i, dep := i, dep
		group.Go(func() error {
			docs[i] = a.depContext(gctx, files, dep, p)
			return nil
		})
	}
	_ = group.Wait()

	out := make(map[string]interface{}, len(deps))
	for i, dep := range deps {
		out[dep] = docs[i]
	}
	return out
}

func (a *Aggregator) depContext(ctx context.Context, files snapshot.Files, dep string, p Params) map[string]interface{} {
	dc := map[string]interface{}{"entity": dep}

	kind, name := "", dep
	if i := strings.LastIndex(dep, "/"); i >= 0 {
		kind, name = dep[:i], dep[i+1:]
	}

	if files.EventsFile != "" {
		filters := map[string]string{"deployment": name}
		if kind == "Pod" {
			filters = map[string]string{"object_name": name}
		}
		res, err := a.engines.Events.Analyze(ctx, files.EventsFile, events.Params{
			Filters:   filters,
			StartTime: p.StartTime,
			EndTime:   p.EndTime,
			Limit:     depEventLimit,
		})
		if err != nil {
			dc["events_error"] = err.Error()
		} else {
			items := res.Page.Data
			if len(items) > depEventShown {
				items = items[:depEventShown]
			}
			if items == nil {
				items = []interface{}{}
			}
			dc["events"] = map[string]interface{}{
				"count": res.Page.ReturnedCount,
				"items": items,
			}
		}
	}

	if files.ObjectsFile != "" {
		report, err := a.engines.Specs.Changes(ctx, files.ObjectsFile, k8sspecs.ChangeParams{
			K8Object:  dep,
			StartTime: p.StartTime,
			EndTime:   p.EndTime,
		})
		if err != nil {
			dc["spec_changes_error"] = err.Error()
		} else {
			dc["spec_changes"] = report
		}
	}
	return dc
}

// nameVariants lowers the name and strips common service suffixes so
// that "checkout-service" also matches data labelled "checkout".
func nameVariants(name string) []string {
	base := strings.ToLower(name)
	variants := []string{base}
	for _, suffix := range []string{"-service", "_service", "-svc", "_svc"} {
		if strings.HasSuffix(base, suffix) {
			variants = append(variants, strings.TrimSuffix(base, suffix))
		}
	}
	return variants
}
