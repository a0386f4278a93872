package k8sspecs

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/moolen/hindsight/internal/logging"
	"github.com/moolen/hindsight/internal/models"
	"github.com/moolen/hindsight/internal/parsing"
	"github.com/moolen/hindsight/internal/query"
	"github.com/moolen/hindsight/internal/snapshot"
)

// Time bases for change events.
const (
	TimeBasisObservation     = "observation"
	TimeBasisEffectiveUpdate = "effective_update"
)

// Lifecycle inference modes.
const (
	LifecycleNone        = "none"
	LifecycleWindow      = "window"
	LifecycleK8sMetadata = "k8s_metadata"
)

// ChangeParams drives one spec-change analysis.
type ChangeParams struct {
	K8Object               string `json:"k8_object_name,omitempty"`
	StartTime              string `json:"start_time,omitempty"`
	EndTime                string `json:"end_time,omitempty"`
	Limit                  int    `json:"limit,omitempty"`
	Offset                 int    `json:"offset,omitempty"`
	IncludeNoChange        bool   `json:"include_no_change,omitempty"`
	MaxChangesPerDiff      int    `json:"max_changes_per_diff,omitempty"`
	IncludeReferenceSpec   *bool  `json:"include_reference_spec,omitempty"`
	IncludeFlatChangeItems *bool  `json:"include_flat_change_items,omitempty"`
	SortBy                 string `json:"sort_by,omitempty"`
	TimeBasis              string `json:"time_basis,omitempty"`
	LifecycleInference     string `json:"lifecycle_inference,omitempty"`
	LifecycleScope         string `json:"lifecycle_scope,omitempty"`
	RemovalGracePeriodSec  *int   `json:"removal_grace_period_sec,omitempty"`
	RemovalMinCycles       *int   `json:"removal_min_cycles,omitempty"`
}

// ReferenceSpec is the earliest cleaned spec of an entity, the baseline
// all reported diffs build on.
type ReferenceSpec struct {
	Timestamp string      `json:"timestamp"`
	Spec      interface{} `json:"spec"`
}

// ChangeEvent groups the changes between two consecutive observations
// (or one lifecycle observation).
type ChangeEvent struct {
	Timestamp        string   `json:"timestamp"`
	FromTimestamp    string   `json:"from_timestamp,omitempty"`
	ChangesTruncated bool     `json:"changes_truncated"`
	ChangeItemCount  int      `json:"change_item_count"`
	ChangeItemTotal  int      `json:"change_item_total"`
	Changes          []Change `json:"changes"`
}

// FlatChange is one change atom stamped with its event window.
type FlatChange struct {
	Timestamp     string `json:"timestamp"`
	FromTimestamp string `json:"from_timestamp,omitempty"`
	Change
}

// Lifecycle summarizes what lifecycle inference concluded for an entity.
type Lifecycle struct {
	InferenceMode     string   `json:"inference_mode"`
	InferredAdded     bool     `json:"inferred_added"`
	InferredRemoved   bool     `json:"inferred_removed"`
	MetadataAdded     bool     `json:"metadata_added"`
	MetadataRemoved   bool     `json:"metadata_removed"`
	MetadataModified  bool     `json:"metadata_modified"`
	CreationTimestamp string   `json:"creationTimestamp,omitempty"`
	ResourceVersions  []string `json:"resourceVersions"`
}

// EntityChanges is the full change record of one entity.
type EntityChanges struct {
	Entity           string         `json:"entity"`
	Kind             string         `json:"kind"`
	Namespace        string         `json:"namespace,omitempty"`
	Name             string         `json:"name"`
	TimeBasis        string         `json:"time_basis,omitempty"`
	FirstTimestamp   string         `json:"first_timestamp"`
	LastTimestamp    string         `json:"last_timestamp"`
	ObservationCount int            `json:"observation_count"`
	DurationSec      float64        `json:"duration_sec"`
	ChangeCount      int            `json:"change_count"`
	Changes          []ChangeEvent  `json:"changes"`
	ReferenceSpec    *ReferenceSpec `json:"reference_spec,omitempty"`
	ChangeItems      []FlatChange   `json:"change_items,omitempty"`
	ChangeItemCount  int            `json:"change_item_count,omitempty"`
	Lifecycle        Lifecycle      `json:"lifecycle"`
}

// EntitySummary is the entity-keyed view of the same record, with
// change events keyed by "<ts> (from <ts>)#<idx>".
type EntitySummary struct {
	Kind             string                 `json:"kind"`
	Name             string                 `json:"name"`
	FirstTimestamp   string                 `json:"first_timestamp"`
	LastTimestamp    string                 `json:"last_timestamp"`
	ObservationCount int                    `json:"observation_count"`
	DurationSec      float64                `json:"duration_sec"`
	ChangeEventCount int                    `json:"change_event_count"`
	ReferenceSpec    *ReferenceSpec         `json:"reference_spec,omitempty"`
	Lifecycle        Lifecycle              `json:"lifecycle"`
	ChangesDetected  map[string]ChangeEvent `json:"changes_detected"`
}

// ChangeReport is the paginated spec-change result.
type ChangeReport struct {
	ReferenceSpecFile      string                   `json:"reference_spec_file"`
	InputFormat            string                   `json:"input_format"`
	SortBy                 string                   `json:"sort_by"`
	TotalEntitiesObserved  int                      `json:"total_entities_observed"`
	NumEntitiesWithChanges int                      `json:"num_entities_with_changes"`
	EntitiesReturned       int                      `json:"entities_with_changes_returned"`
	EntityOrder            []string                 `json:"entity_order"`
	TotalChangeEvents      int                      `json:"total_change_events"`
	ReturnedChangeEvents   int                      `json:"returned_change_events"`
	TotalChangeItems       int                      `json:"total_change_item_total"`
	ReturnedChangeItems    int                      `json:"returned_change_item_total"`
	Offset                 int                      `json:"offset"`
	Limit                  int                      `json:"limit,omitempty"`
	Entities               []EntityChanges          `json:"entities_with_changes"`
	EntityMap              map[string]EntitySummary `json:"entities"`
}

// Engine analyzes Kubernetes object spec histories. graceSec and
// minCycles are the window-mode removal hysteresis defaults for raw
// OTEL input.
type Engine struct {
	cache     *snapshot.TableCache
	logger    *logging.Logger
	graceSec  int
	minCycles int
}

func NewEngine(cache *snapshot.TableCache, logger *logging.Logger, graceSec, minCycles int) *Engine {
	return &Engine{cache: cache, logger: logger, graceSec: graceSec, minCycles: minCycles}
}

// entityRun is one entity's time-ordered observation history.
type entityRun struct {
	id           string
	observations []observation
}

// revision is one cleaned, diff-ready spec.
type revision struct {
	ts          time.Time
	effectiveTS time.Time
	spec        interface{}
}

// Changes groups observations by entity, diffs consecutive cleaned
// specs, layers in lifecycle changes and paginates the result.
func (e *Engine) Changes(ctx context.Context, objectsFile string, p ChangeParams) (*ChangeReport, error) {
	if objectsFile == "" {
		return nil, models.NewParameterError("k8s_objects_file", "no k8s objects table in this snapshot")
	}
	table, err := e.cache.Get(objectsFile)
	if err != nil {
		return nil, err
	}
	observations, rawOTEL, err := loadObservations(query.FromTable(table))
	if err != nil {
		return nil, err
	}
	if len(observations) == 0 {
		return nil, models.NewValidationError("no decodable k8s object observations in %q", objectsFile)
	}

	if p.K8Object != "" {
		id := models.ParseIdentifier(p.K8Object)
		if id.Format == models.FormatInvalid {
			return nil, models.NewParameterError("k8_object_name", "%s", id.Warning)
		}
		res, err := models.Resolve(id, inventoryOf(observations))
		if err != nil {
			return nil, err
		}
		observations = filterByIdentifier(observations, res)
	}

	window, err := parsing.ParseWindow(p.StartTime, p.EndTime)
	if err != nil {
		return nil, err
	}

	timeBasis := p.TimeBasis
	if timeBasis == "" {
		timeBasis = TimeBasisObservation
		if rawOTEL {
			timeBasis = TimeBasisEffectiveUpdate
		}
	}
	if timeBasis != TimeBasisObservation && timeBasis != TimeBasisEffectiveUpdate {
		return nil, models.NewParameterError("time_basis",
			"unsupported time_basis %q. Expected %q or %q", timeBasis, TimeBasisObservation, TimeBasisEffectiveUpdate)
	}

	// With the effective_update basis the observation stream is kept
	// intact: an update may be observed later than it happened, and the
	// window is applied to change events instead.
	if timeBasis != TimeBasisEffectiveUpdate && !window.IsZero() {
		var kept []observation
		for _, o := range observations {
			if window.Contains(o.ts) {
				kept = append(kept, o)
			}
		}
		observations = kept
	}
	if len(observations) == 0 {
		return nil, models.NewValidationError("no data after applying time filters")
	}

	inference := p.LifecycleInference
	if inference == "" {
		inference = LifecycleWindow
		if rawOTEL {
			inference = LifecycleK8sMetadata
		}
	}
	switch inference {
	case LifecycleNone, LifecycleWindow, LifecycleK8sMetadata:
	default:
		return nil, models.NewParameterError("lifecycle_inference",
			"unsupported lifecycle_inference %q. Expected %q, %q or %q",
			inference, LifecycleNone, LifecycleWindow, LifecycleK8sMetadata)
	}
	scope := p.LifecycleScope
	if scope == "" {
		scope = "global"
		if rawOTEL {
			scope = "per_kind"
		}
	}

	graceSec, minCycles := 0, 0
	if rawOTEL && inference == LifecycleWindow {
		graceSec, minCycles = e.graceSec, e.minCycles
	}
	if p.RemovalGracePeriodSec != nil {
		graceSec = *p.RemovalGracePeriodSec
	}
	if p.RemovalMinCycles != nil {
		minCycles = *p.RemovalMinCycles
	}

	bounds := computeBounds(observations, scope == "per_kind")
	runs := groupByEntity(observations)
	totalObserved := len(runs)

	includeRef := p.IncludeReferenceSpec == nil || *p.IncludeReferenceSpec
	includeFlat := p.IncludeFlatChangeItems == nil || *p.IncludeFlatChangeItems

	var results []EntityChanges
	for _, run := range runs {
		entity, ok := e.analyzeEntity(run, entityOptions{
			window:      window,
			timeBasis:   timeBasis,
			inference:   inference,
			bounds:      bounds,
			graceSec:    graceSec,
			minCycles:   minCycles,
			maxChanges:  p.MaxChangesPerDiff,
			includeRef:  includeRef,
			includeFlat: includeFlat,
			includeAll:  p.IncludeNoChange,
		})
		if ok {
			results = append(results, entity)
		}
	}

	sortBy := p.SortBy
	if sortBy == "" {
		sortBy = "entity"
	}
	if sortBy == "change_count" {
		sort.SliceStable(results, func(i, j int) bool {
			if results[i].ChangeCount != results[j].ChangeCount {
				return results[i].ChangeCount > results[j].ChangeCount
			}
			return strings.ToLower(results[i].Entity) < strings.ToLower(results[j].Entity)
		})
	} else {
		sort.SliceStable(results, func(i, j int) bool {
			return strings.ToLower(results[i].Entity) < strings.ToLower(results[j].Entity)
		})
	}

	totalEvents, totalItems := sumChanges(results)
	totalCount := len(results)

	page := results
	if p.Offset > 0 {
		if p.Offset >= len(page) {
			page = nil
		} else {
			page = page[p.Offset:]
		}
	}
	if p.Limit > 0 && len(page) > p.Limit {
		page = page[:p.Limit]
	}
	returnedEvents, returnedItems := sumChanges(page)

	entityOrder := make([]string, 0, len(page))
	entityMap := make(map[string]EntitySummary, len(page))
	for _, entity := range page {
		entityOrder = append(entityOrder, entity.Entity)
		detected := make(map[string]ChangeEvent, len(entity.Changes))
		for idx, event := range entity.Changes {
			key := fmt.Sprintf("%s (from %s)#%d", event.Timestamp, event.FromTimestamp, idx)
			detected[key] = event
		}
		entityMap[entity.Entity] = EntitySummary{
			Kind:             entity.Kind,
			Name:             entity.Name,
			FirstTimestamp:   entity.FirstTimestamp,
			LastTimestamp:    entity.LastTimestamp,
			ObservationCount: entity.ObservationCount,
			DurationSec:      entity.DurationSec,
			ChangeEventCount: entity.ChangeCount,
			ReferenceSpec:    entity.ReferenceSpec,
			Lifecycle:        entity.Lifecycle,
			ChangesDetected:  detected,
		}
	}

	e.logger.Debug("spec changes: %d/%d entities, %d change events", len(page), totalCount, returnedEvents)

	inputFormat := "processed"
	if rawOTEL {
		inputFormat = "raw_otel"
	}
	if page == nil {
		page = []EntityChanges{}
	}
	return &ChangeReport{
		ReferenceSpecFile:      objectsFile,
		InputFormat:            inputFormat,
		SortBy:                 sortBy,
		TotalEntitiesObserved:  totalObserved,
		NumEntitiesWithChanges: totalCount,
		EntitiesReturned:       len(page),
		EntityOrder:            entityOrder,
		TotalChangeEvents:      totalEvents,
		ReturnedChangeEvents:   returnedEvents,
		TotalChangeItems:       totalItems,
		ReturnedChangeItems:    returnedItems,
		Offset:                 p.Offset,
		Limit:                  p.Limit,
		Entities:               page,
		EntityMap:              entityMap,
	}, nil
}

// scopeBounds are the reference time range and observation cycles used
// by window-mode lifecycle inference.
type scopeBounds struct {
	globalMin, globalMax time.Time
	globalTS             []time.Time
	perKind              bool
	kindMin, kindMax     map[string]time.Time
	kindTS               map[string][]time.Time
}

func (b scopeBounds) forKind(kind string) (time.Time, time.Time, []time.Time) {
	if b.perKind {
		if min, ok := b.kindMin[kind]; ok {
			return min, b.kindMax[kind], b.kindTS[kind]
		}
	}
	return b.globalMin, b.globalMax, b.globalTS
}

func computeBounds(observations []observation, perKind bool) scopeBounds {
	b := scopeBounds{
		perKind: perKind,
		kindMin: map[string]time.Time{},
		kindMax: map[string]time.Time{},
		kindTS:  map[string][]time.Time{},
	}
	globalSet := map[time.Time]bool{}
	kindSets := map[string]map[time.Time]bool{}
	for _, o := range observations {
		if b.globalMin.IsZero() || o.ts.Before(b.globalMin) {
			b.globalMin = o.ts
		}
		if o.ts.After(b.globalMax) {
			b.globalMax = o.ts
		}
		globalSet[o.ts] = true

		if perKind {
			if min, ok := b.kindMin[o.kind]; !ok || o.ts.Before(min) {
				b.kindMin[o.kind] = o.ts
			}
			if o.ts.After(b.kindMax[o.kind]) {
				b.kindMax[o.kind] = o.ts
			}
			if kindSets[o.kind] == nil {
				kindSets[o.kind] = map[time.Time]bool{}
			}
			kindSets[o.kind][o.ts] = true
		}
	}
	b.globalTS = sortedTimes(globalSet)
	for kind, set := range kindSets {
		b.kindTS[kind] = sortedTimes(set)
	}
	return b
}

func sortedTimes(set map[time.Time]bool) []time.Time {
	out := make([]time.Time, 0, len(set))
	for t := range set {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

// groupByEntity splits observations into per-entity runs, entities in
// lexical id order and observations in time order.
func groupByEntity(observations []observation) []entityRun {
	byID := map[string][]observation{}
	for _, o := range observations {
		byID[o.entityID()] = append(byID[o.entityID()], o)
	}
	ids := make([]string, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	runs := make([]entityRun, 0, len(ids))
	for _, id := range ids {
		obs := byID[id]
		sort.SliceStable(obs, func(i, j int) bool { return obs[i].ts.Before(obs[j].ts) })
		runs = append(runs, entityRun{id: id, observations: obs})
	}
	return runs
}

type entityOptions struct {
	window      parsing.Window
	timeBasis   string
	inference   string
	bounds      scopeBounds
	graceSec    int
	minCycles   int
	maxChanges  int
	includeRef  bool
	includeFlat bool
	includeAll  bool
}

func (e *Engine) analyzeEntity(run entityRun, opts entityOptions) (EntityChanges, bool) {
	first := run.observations[0]
	firstTS := first.ts
	lastTS := run.observations[len(run.observations)-1].ts

	lifecycle, lifecycleEvents := inferLifecycle(run, opts)

	var revisions []revision
	for _, o := range run.observations {
		if o.body == nil {
			continue
		}
		rev := revision{ts: o.ts, spec: normalizeNameKeyed(cleanSpec(o.body))}
		if ts, ok := effectiveUpdateTime(o.body); ok {
			rev.effectiveTS = ts
		}
		revisions = append(revisions, rev)
	}

	entity := EntityChanges{
		Entity:           run.id,
		Kind:             first.kind,
		Namespace:        first.namespace,
		Name:             first.name,
		FirstTimestamp:   fmtTime(firstTS),
		LastTimestamp:    fmtTime(lastTS),
		ObservationCount: len(run.observations),
		DurationSec:      lastTS.Sub(firstTS).Seconds(),
		Lifecycle:        lifecycle,
	}
	if opts.includeRef && len(revisions) > 0 {
		entity.ReferenceSpec = &ReferenceSpec{Timestamp: fmtTime(revisions[0].ts), Spec: revisions[0].spec}
	}

	// Single observation: still surface entities with lifecycle changes.
	if len(revisions) < 2 {
		if !opts.includeAll && len(lifecycleEvents) == 0 {
			return EntityChanges{}, false
		}
		if lifecycleEvents == nil {
			lifecycleEvents = []ChangeEvent{}
		}
		entity.Changes = lifecycleEvents
		entity.ChangeCount = len(lifecycleEvents)
		return entity, true
	}

	events := append([]ChangeEvent{}, lifecycleEvents...)
	var flat []FlatChange
	for i := 1; i < len(revisions); i++ {
		prev, curr := revisions[i-1], revisions[i]
		diff := computeDiff(prev.spec, curr.spec, "")
		if len(diff) == 0 {
			continue
		}
		eventTS, fromTS := curr.ts, prev.ts
		if opts.timeBasis == TimeBasisEffectiveUpdate {
			if !curr.effectiveTS.IsZero() {
				eventTS = curr.effectiveTS
			}
			if !prev.effectiveTS.IsZero() {
				fromTS = prev.effectiveTS
			}
		}

		limited, truncated := diff, false
		if opts.maxChanges > 0 && len(diff) > opts.maxChanges {
			limited, truncated = diff[:opts.maxChanges], true
		}
		event := ChangeEvent{
			Timestamp:        fmtTime(eventTS),
			FromTimestamp:    fmtTime(fromTS),
			Changes:          limited,
			ChangesTruncated: truncated,
			ChangeItemCount:  len(limited),
			ChangeItemTotal:  len(diff),
		}
		events = append(events, event)
		if opts.includeFlat {
			for _, item := range limited {
				flat = append(flat, FlatChange{Timestamp: event.Timestamp, FromTimestamp: event.FromTimestamp, Change: item})
			}
		}
	}

	// Effective-update basis: the window selects change events, not
	// observations, so late-observed updates still land in the window.
	if opts.timeBasis == TimeBasisEffectiveUpdate && !opts.window.IsZero() {
		events = filterEventsByWindow(events, opts.window)
		flat = filterFlatByWindow(flat, opts.window)
	}

	if len(events) == 0 && !opts.includeAll {
		return EntityChanges{}, false
	}

	entity.TimeBasis = opts.timeBasis
	entity.Changes = events
	entity.ChangeCount = len(events)
	if opts.includeFlat {
		entity.ChangeItems = flat
		entity.ChangeItemCount = len(flat)
	}
	return entity, true
}

func filterEventsByWindow(events []ChangeEvent, window parsing.Window) []ChangeEvent {
	var kept []ChangeEvent
	for _, ev := range events {
		if ts, ok := query.CellTime(ev.Timestamp); ok && window.Contains(ts) {
			kept = append(kept, ev)
		}
	}
	return kept
}

func filterFlatByWindow(flat []FlatChange, window parsing.Window) []FlatChange {
	var kept []FlatChange
	for _, item := range flat {
		if ts, ok := query.CellTime(item.Timestamp); ok && window.Contains(ts) {
			kept = append(kept, item)
		}
	}
	return kept
}

// inferLifecycle evaluates the configured lifecycle mode against an
// entity run and renders the resulting change events.
func inferLifecycle(run entityRun, opts entityOptions) (Lifecycle, []ChangeEvent) {
	firstTS := run.observations[0].ts
	lastTS := run.observations[len(run.observations)-1].ts

	var creationTS time.Time
	hasCreation := false
	deletionStr := ""
	var resourceVersions []string
	seenRV := map[string]bool{}
	for _, o := range run.observations {
		if !hasCreation && o.hasCreation {
			creationTS, hasCreation = o.creationTS, true
		}
		if deletionStr == "" && strings.TrimSpace(o.deletionTS) != "" {
			deletionStr = strings.TrimSpace(o.deletionTS)
		}
		if o.resourceVersion != "" && !seenRV[o.resourceVersion] {
			seenRV[o.resourceVersion] = true
			resourceVersions = append(resourceVersions, o.resourceVersion)
		}
	}
	deletionConfirmed := strings.TrimSpace(run.observations[len(run.observations)-1].deletionTS) != ""

	lc := Lifecycle{InferenceMode: opts.inference, ResourceVersions: resourceVersions}
	if lc.ResourceVersions == nil {
		lc.ResourceVersions = []string{}
	}

	switch opts.inference {
	case LifecycleK8sMetadata:
		if hasCreation {
			lc.CreationTimestamp = fmtTime(creationTS)
			if !opts.window.IsZero() {
				lc.MetadataAdded = opts.window.Contains(creationTS)
			}
		}
		lc.MetadataRemoved = deletionStr != ""
		lc.MetadataModified = len(resourceVersions) > 1

	case LifecycleWindow:
		scopeMin, scopeMax, scopeTS := opts.bounds.forKind(run.observations[0].kind)
		lc.InferredAdded = firstTS.After(scopeMin)
		if lastTS.Before(scopeMax) {
			gapSec := scopeMax.Sub(lastTS).Seconds()
			postCycles := 0
			for _, t := range scopeTS {
				if t.After(lastTS) {
					postCycles++
				}
			}
			lc.InferredRemoved = gapSec >= float64(opts.graceSec) && postCycles >= opts.minCycles
		}
	}

	var events []ChangeEvent

	boolPtr := func(v bool) *bool { return &v }

	switch {
	case lc.MetadataAdded && lc.CreationTimestamp != "":
		events = append(events, singleChangeEvent(lc.CreationTimestamp, Change{
			Path: "entity", Type: ChangeEntityAdded, New: run.id,
			Inferred: boolPtr(false), Source: "k8s_metadata",
			Evidence: map[string]interface{}{
				"creationTimestamp":   lc.CreationTimestamp,
				"investigation_start": fmtTime(opts.window.Start),
				"investigation_end":   fmtTime(opts.window.End),
			},
		}))
	case lc.InferredAdded:
		events = append(events, singleChangeEvent(fmtTime(firstTS), Change{
			Path: "entity", Type: ChangeEntityAdded, New: run.id,
			Inferred: boolPtr(true), Source: "observation_timing",
			Evidence: map[string]interface{}{
				"first_seen":        fmtTime(firstTS),
				"window_first_seen": fmtTime(opts.bounds.globalMin),
				"window_last_seen":  fmtTime(opts.bounds.globalMax),
			},
		}))
	}

	switch {
	case lc.MetadataRemoved && deletionStr != "":
		events = append(events, singleChangeEvent(deletionStr, Change{
			Path: "entity", Type: ChangeEntityRemoved, Old: run.id,
			Inferred: boolPtr(false), Confirmed: boolPtr(true),
			Source: "k8s_metadata", Reason: "deletionTimestamp",
			Evidence: map[string]interface{}{"deletionTimestamp": deletionStr},
		}))
	case lc.InferredRemoved || deletionConfirmed:
		scopeMin, scopeMax, _ := opts.bounds.forKind(run.observations[0].kind)
		source := "k8s_metadata"
		reason := "deletionTimestamp"
		if lc.InferredRemoved {
			source = "observation_timing"
		}
		if !deletionConfirmed {
			reason = "not_observed"
		}
		events = append(events, singleChangeEvent(fmtTime(lastTS), Change{
			Path: "entity", Type: ChangeEntityRemoved, Old: run.id,
			Inferred: boolPtr(!deletionConfirmed), Confirmed: boolPtr(deletionConfirmed),
			Source: source, Reason: reason,
			Evidence: map[string]interface{}{
				"last_seen":         fmtTime(lastTS),
				"window_first_seen": fmtTime(scopeMin),
				"window_last_seen":  fmtTime(scopeMax),
				"deletionTimestamp": deletionStr,
			},
		}))
	}

	if lc.MetadataModified && opts.inference == LifecycleK8sMetadata {
		event := singleChangeEvent(fmtTime(lastTS), Change{
			Path: "metadata.resourceVersion", Type: ChangeEntityModified,
			Old: resourceVersions[0], New: resourceVersions[len(resourceVersions)-1],
			Inferred: boolPtr(false), Source: "k8s_metadata",
			Evidence: map[string]interface{}{
				"resourceVersions":  resourceVersions,
				"observation_count": len(run.observations),
			},
		})
		event.FromTimestamp = fmtTime(firstTS)
		events = append(events, event)
	}

	return lc, events
}

func singleChangeEvent(ts string, c Change) ChangeEvent {
	return ChangeEvent{
		Timestamp:       ts,
		ChangeItemCount: 1,
		ChangeItemTotal: 1,
		Changes:         []Change{c},
	}
}

func sumChanges(entities []EntityChanges) (events, items int) {
	for _, e := range entities {
		events += e.ChangeCount
		for _, ev := range e.Changes {
			items += ev.ChangeItemTotal
		}
	}
	return events, items
}

func fmtTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// GetParams drives one spec retrieval.
type GetParams struct {
	K8Object              string `json:"k8_object_name"`
	ReturnAllObservations bool   `json:"return_all_observations,omitempty"`
	IncludeMetadata       *bool  `json:"include_metadata,omitempty"`
}

// Get retrieves the raw spec(s) for an identifier. A single unambiguous
// match returns the latest observation; multiple matches are grouped
// per entity.
func (e *Engine) Get(ctx context.Context, objectsFile string, p GetParams) (map[string]interface{}, error) {
	if objectsFile == "" {
		return nil, models.NewParameterError("k8s_objects_file", "no k8s objects table in this snapshot")
	}
	if p.K8Object == "" {
		return nil, models.NewParameterError("k8_object_name",
			"k8_object_name is required. Formats: 'namespace/kind/name' (preferred), 'kind/name', or 'name'")
	}
	table, err := e.cache.Get(objectsFile)
	if err != nil {
		return nil, err
	}
	observations, rawOTEL, err := loadObservations(query.FromTable(table))
	if err != nil {
		return nil, err
	}
	if len(observations) == 0 {
		return nil, models.NewValidationError("no decodable k8s object observations in %q", objectsFile)
	}

	id := models.ParseIdentifier(p.K8Object)
	if id.Format == models.FormatInvalid {
		return nil, models.NewParameterError("k8_object_name", "%s", id.Warning)
	}
	res, err := models.Resolve(id, inventoryOf(observations))
	if err != nil {
		return nil, err
	}
	matched := filterByIdentifier(observations, res)
	sort.SliceStable(matched, func(i, j int) bool { return matched[i].ts.Before(matched[j].ts) })

	includeMeta := p.IncludeMetadata == nil || *p.IncludeMetadata

	type obsEntry struct {
		Timestamp string      `json:"timestamp"`
		EntityID  string      `json:"entity_id"`
		Kind      string      `json:"kind"`
		Namespace string      `json:"namespace"`
		Name      string      `json:"name"`
		Spec      interface{} `json:"spec"`
	}
	entries := make([]obsEntry, 0, len(matched))
	for _, o := range matched {
		spec := interface{}(o.body)
		if !includeMeta && o.body != nil {
			stripped := map[string]interface{}{}
			for k, v := range o.body {
				if k != "metadata" {
					stripped[k] = v
				}
			}
			spec = stripped
		}
		entries = append(entries, obsEntry{
			Timestamp: fmtTime(o.ts),
			EntityID:  o.entityID(),
			Kind:      o.kind,
			Namespace: o.namespace,
			Name:      o.name,
			Spec:      spec,
		})
	}
	if len(entries) == 0 {
		return nil, models.NewValidationError("no valid specs found for %q", p.K8Object)
	}

	inputFormat := "processed"
	if rawOTEL {
		inputFormat = "raw_otel"
	}
	output := map[string]interface{}{
		"k8s_objects_file":  objectsFile,
		"k8_object_name":    p.K8Object,
		"identifier_format": id.Format,
		"input_format":      inputFormat,
		"found":             true,
	}
	if id.Ambiguous && id.Warning != "" {
		output["warning"] = id.Warning
	}

	var entityIDs []string
	for _, o := range matched {
		if eid := o.entityID(); !containsString(entityIDs, eid) {
			entityIDs = append(entityIDs, eid)
		}
	}
	if len(entityIDs) > 1 {
		output["matched_entities"] = entityIDs
		output["matched_entity_count"] = len(entityIDs)
	}

	e.logger.Debug("get spec %q matched %d entities, %d observations", p.K8Object, len(entityIDs), len(entries))

	switch {
	case len(entityIDs) > 1:
		entities := map[string]interface{}{}
		for _, eid := range entityIDs {
			var group []obsEntry
			for _, entry := range entries {
				if entry.EntityID == eid {
					group = append(group, entry)
				}
			}
			latest := group[len(group)-1]
			data := map[string]interface{}{
				"kind":              latest.Kind,
				"namespace":         latest.Namespace,
				"name":              latest.Name,
				"observation_count": len(group),
				"first_timestamp":   group[0].Timestamp,
				"last_timestamp":    latest.Timestamp,
				"latest_spec":       latest.Spec,
			}
			if p.ReturnAllObservations {
				data["all_observations"] = group
			}
			entities[eid] = data
		}
		output["entity_count"] = len(entityIDs)
		output["total_observation_count"] = len(entries)
		output["entities"] = entities

	case p.ReturnAllObservations:
		output["observation_count"] = len(entries)
		output["first_timestamp"] = entries[0].Timestamp
		output["last_timestamp"] = entries[len(entries)-1].Timestamp
		output["observations"] = entries

	default:
		latest := entries[len(entries)-1]
		output["observation_count"] = len(entries)
		output["timestamp"] = latest.Timestamp
		output["entity_id"] = latest.EntityID
		output["kind"] = latest.Kind
		output["namespace"] = latest.Namespace
		output["name"] = latest.Name
		output["spec"] = latest.Spec
	}

	return output, nil
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
