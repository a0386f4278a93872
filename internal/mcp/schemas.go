package mcp

import "github.com/moolen/hindsight/internal/mcp/tools"

// Schema fragments shared by several tools.
func timeWindowProps() (map[string]interface{}, map[string]interface{}) {
	start := map[string]interface{}{
		"type":        "string",
		"description": "Optional: start timestamp. ISO 8601, unix seconds/millis, or relative like 'now-2h'.",
	}
	end := map[string]interface{}{
		"type":        "string",
		"description": "Optional: end timestamp. Same formats as start_time.",
	}
	return start, end
}

func groupByProp(extra string) map[string]interface{} {
	return map[string]interface{}{
		"oneOf":       []interface{}{map[string]interface{}{"type": "string"}, map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}}},
		"description": "Optional: column(s) to group by. " + extra,
	}
}

func pathProp(desc string) map[string]interface{} {
	return map[string]interface{}{
		"type":        "string",
		"description": desc + " Optional when a snapshot directory is configured: the file is discovered there.",
	}
}

func (s *Server) registerTools() {
	startProp, endProp := timeWindowProps()

	s.registerTool(
		"event_analysis",
		"Analyzes Kubernetes events. Works like SQL: filter -> group_by -> agg. " +
			"Example: event count by reason: group_by='reason'. " +
			"Example: warnings per deployment: filters={'event_kind': 'Warning'}, group_by='deployment'. " +
			"Aggregations: 'count' (default), 'first', 'last', 'nunique', 'list'.",
		tools.NewEventAnalysisTool(s.toolset),
		map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"events_file": pathProp("Path to Kubernetes events TSV file (e.g., k8s_events.tsv)."),
				"filters": map[string]interface{}{
					"type":        "object",
					"description": "Optional: column filters (e.g. {'reason': 'Unhealthy', 'namespace': 'otel-demo'})",
				},
				"group_by": groupByProp("Special: 'deployment' extracts from pod names."),
				"agg": map[string]interface{}{
					"type":        "string",
					"description": "Optional: aggregation type - 'count' (default), 'first', 'last', 'nunique', 'list'",
				},
				"sort_by": map[string]interface{}{
					"type":        "string",
					"description": "Optional: column to sort by. Default: 'count' desc for grouped, time for raw.",
				},
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "Optional: max rows to return. Default: 100, max: 500.",
				},
				"offset": map[string]interface{}{
					"type":        "integer",
					"description": "Optional: skip first N rows (pagination). Default: 0",
				},
				"start_time": startProp,
				"end_time":   endProp,
			},
		},
	)

	s.registerTool(
		"alert_analysis",
		"Analyzes alerts. Works like SQL: filter -> group_by -> agg. Computes duration_active. " +
			"Column shortcuts: 'alertname', 'severity', 'service_name', 'namespace' (map to labels.*). " +
			"Aggregations: 'count' (default), 'first', 'last', 'sum', 'mean', 'max', 'min'.",
		tools.NewAlertAnalysisTool(s.toolset),
		map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"base_dir": pathProp("Path to alerts directory containing alerts_at_*.json files, or a snapshot directory with an alerts/ subdirectory."),
				"time_basis": map[string]interface{}{
					"type":        "string",
					"description": "Optional: timestamp used for filtering and ordering. 'snapshot' (observation time, default) or 'activeAt'.",
					"enum":        []string{"snapshot", "activeAt"},
				},
				"filters": map[string]interface{}{
					"type":        "object",
					"description": "Optional: column filters (e.g. {'state': 'firing', 'severity': 'critical'})",
				},
				"group_by": groupByProp("Shortcuts: alertname, severity, service_name, namespace."),
				"agg": map[string]interface{}{
					"type":        "string",
					"description": "Optional: aggregation - 'count' (default), 'first', 'last', 'sum', 'mean', 'max', 'min'",
				},
				"sort_by": map[string]interface{}{
					"type":        "string",
					"description": "Optional: column to sort by (e.g. 'duration_active_min', 'count')",
				},
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "Optional: max rows to return. Default: 100, max: 500.",
				},
				"offset": map[string]interface{}{
					"type":        "integer",
					"description": "Optional: skip first N rows (pagination). Default: 0",
				},
				"start_time": startProp,
				"end_time":   endProp,
			},
		},
	)

	s.registerTool(
		"alert_summary",
		"High-level summary of all alerts: one row per alertname/entity/severity with first_seen, " +
			"last_seen, duration and occurrence count. Use this FIRST for an overview, then drill in " +
			"with alert_analysis. Sorted by duration, longest-firing first.",
		tools.NewAlertSummaryTool(s.toolset),
		map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"base_dir": pathProp("Path to alerts directory containing alerts_at_*.json files."),
				"time_basis": map[string]interface{}{
					"type":        "string",
					"description": "Optional: timestamp basis for first_seen/last_seen. 'snapshot' (default) or 'activeAt'.",
					"enum":        []string{"snapshot", "activeAt"},
				},
				"state_filter": map[string]interface{}{
					"type":        "string",
					"description": "Optional: filter by state ('firing', 'pending', 'inactive'). Default: all.",
				},
				"min_duration_min": map[string]interface{}{
					"type":        "number",
					"description": "Optional: only show alerts active for at least this many minutes",
				},
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "Optional: max alerts to return. Default: 50",
				},
				"start_time": startProp,
				"end_time":   endProp,
			},
		},
	)

	s.registerTool(
		"metric_analysis",
		"Analyzes metrics for K8s objects. Supports batch queries, derived metrics (eval), grouping " +
			"and aggregation: filter -> eval -> group_by -> agg. " +
			"Example: throttle_pct per deployment: object_pattern='pod/*', eval='throttle_pct = throttled / total * 100', " +
			"group_by='deployment', agg='max'. Metric names are auto-sanitized (':' -> '_').",
		tools.NewMetricAnalysisTool(s.toolset),
		map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"base_dir": pathProp("Path to metrics directory containing pod_*.tsv and service_*.tsv files."),
				"k8_object_name": map[string]interface{}{
					"type":        "string",
					"description": "Optional: specific K8s object. Formats: 'namespace/kind/name' (preferred), 'kind/name', or 'name'. Omit to analyze all objects.",
				},
				"object_pattern": map[string]interface{}{
					"type":        "string",
					"description": "Optional: glob pattern for objects (e.g., 'pod/*', 'service/*'). Default: '*'",
				},
				"metric_names": map[string]interface{}{
					"type":        "array",
					"items":       map[string]interface{}{"type": "string"},
					"description": "Optional: metric names to load. If omitted, loads all metrics.",
				},
				"eval": map[string]interface{}{
					"type":        "string",
					"description": "Optional: derived metric expression (e.g. 'throttling_pct = throttled / total * 100')",
				},
				"filters": map[string]interface{}{
					"type":        "object",
					"description": "Optional: exact-match column filters",
				},
				"group_by": map[string]interface{}{
					"type":        "string",
					"description": "Optional: column to group by. Special: 'deployment', 'pod_name', 'metric_name', 'timestamp'.",
				},
				"agg": map[string]interface{}{
					"type":        "string",
					"description": "Optional: aggregation function (mean, sum, max, min). Default: mean",
				},
				"verbosity": map[string]interface{}{
					"type":        "string",
					"description": "Optional: 'compact' (default, LLM-friendly) or 'raw' for full rows.",
					"enum":        []string{"compact", "raw"},
				},
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "Optional: max rows in compact mode. Use 0 for no limit. Default: 200",
				},
				"sort_by": map[string]interface{}{
					"type":        "string",
					"description": "Optional: column to sort by (descending) before the limit in compact mode.",
				},
				"include_tags": map[string]interface{}{
					"type":        "boolean",
					"description": "Optional: keep the verbose tags column in compact mode. Default: false",
				},
				"include_buckets": map[string]interface{}{
					"type":        "boolean",
					"description": "Optional: include histogram bucket metrics in compact mode. Default: false",
				},
				"labels_keep": map[string]interface{}{
					"type":        "array",
					"items":       map[string]interface{}{"type": "string"},
					"description": "Optional: allowlist of tag keys for the emitted labels field.",
				},
				"start_time": startProp,
				"end_time":   endProp,
			},
		},
	)

	s.registerTool(
		"metric_anomalies",
		"Returns metrics and statistical anomalies (mean + 2 sigma) for a K8s object. " +
			"Use this to check for CPU spikes, memory leaks or error-rate increases. " +
			"Tip: use metric_analysis first to identify relevant metric names.",
		tools.NewMetricAnomaliesTool(s.toolset),
		map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"k8_object_name": map[string]interface{}{
					"type":        "string",
					"description": "K8s object identifier. Formats: 'namespace/kind/name' (preferred), 'kind/name', or 'name'",
				},
				"base_dir": pathProp("Path to metrics directory containing pod_*.tsv and service_*.tsv files."),
				"metric_name_filter": map[string]interface{}{
					"type":        "string",
					"description": "Optional: only analyze metrics matching this name/substring",
				},
				"raw_content": map[string]interface{}{
					"type":        "boolean",
					"description": "Optional: include raw metric time series (default: true)",
				},
				"start_time": startProp,
				"end_time":   endProp,
			},
			"required": []string{"k8_object_name"},
		},
	)

	s.registerTool(
		"log_analysis",
		"Analyzes OTEL logs with pattern mining. By default clusters logs into patterns with " +
			"template, count, severity breakdown, time range and an example. " +
			"Set pattern_analysis=false for raw log pagination. " +
			"Example: k8_object='Deployment/recommendation', severity_filter='ERROR'.",
		tools.NewLogAnalysisTool(s.toolset),
		map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"logs_file": pathProp("Path to OTEL logs TSV file (e.g., otel_logs.tsv)."),
				"k8_object": map[string]interface{}{
					"type":        "string",
					"description": "Optional: K8s object identifier matched against deployment/pod resource attributes.",
				},
				"service_name": map[string]interface{}{
					"type":        "string",
					"description": "Optional: filter by ServiceName column",
				},
				"severity_filter": map[string]interface{}{
					"type":        "string",
					"description": "Optional: filter by SeverityText. Comma-separated for multiple: 'ERROR,WARNING'",
				},
				"body_contains": map[string]interface{}{
					"type":        "string",
					"description": "Optional: case-insensitive substring search in log Body",
				},
				"pattern_analysis": map[string]interface{}{
					"type":        "boolean",
					"description": "Optional: cluster logs into patterns (default: true). False returns raw logs with pagination.",
				},
				"max_patterns": map[string]interface{}{
					"type":        "integer",
					"description": "Optional: max patterns to return, most frequent first. Default: 50",
				},
				"similarity_threshold": map[string]interface{}{
					"type":        "number",
					"description": "Optional: clustering similarity (0.0-1.0). Lower is more specific. Default: 0.5",
				},
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "Optional: max raw rows (pattern_analysis=false only). Default: 100, max: 500",
				},
				"offset": map[string]interface{}{
					"type":        "integer",
					"description": "Optional: skip first N raw rows. Default: 0",
				},
				"start_time": startProp,
				"end_time":   endProp,
			},
		},
	)

	s.registerTool(
		"trace_error_tree",
		"Analyzes distributed traces to find call paths with error-rate or latency regressions. " +
			"Returns all_paths (overview with traffic rates) and critical_paths (degraded paths only, " +
			"with full upstream lineage). Example: pivot_time='2025-01-01T10:00:00Z', delta_time='5m'.",
		tools.NewTraceErrorTreeTool(s.toolset),
		map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"trace_file": pathProp("Path to OpenTelemetry traces TSV file (e.g., otel_traces.tsv)."),
				"service_name": map[string]interface{}{
					"type":        "string",
					"description": "Optional: only include traces that contain this service (keeps upstream callers)",
				},
				"span_kind": map[string]interface{}{
					"type":        "string",
					"description": "Optional: filter spans by kind",
					"enum":        []string{"Client", "Server", "Internal"},
				},
				"pivot_time": map[string]interface{}{
					"type":        "string",
					"description": "Recommended: pivot timestamp for before/after comparison. Required for regression analysis.",
				},
				"delta_time": map[string]interface{}{
					"type":        "string",
					"description": "Optional: comparison window duration (e.g., '5m', '1h'). Default: 5m",
				},
				"error_threshold_pct": map[string]interface{}{
					"type":        "number",
					"description": "Optional: only report paths whose error rate changed by more than this percent. Default: 10",
				},
				"latency_threshold_pct": map[string]interface{}{
					"type":        "number",
					"description": "Optional: only report paths whose latency changed by more than this percent. Default: 10",
				},
			},
		},
	)

	s.registerTool(
		"build_topology",
		"Builds the operational topology graph from an application architecture document and the " +
			"Kubernetes object observations. Writes JSON with nodes (id, kind, name) and edges " +
			"(source, relation, target). Build once per scenario, then use topology_analysis.",
		tools.NewBuildTopologyTool(s.toolset),
		map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"arch_file": map[string]interface{}{
					"type":        "string",
					"description": "Path to application architecture file (JSON or YAML)",
				},
				"k8s_objects_file": pathProp("Path to Kubernetes objects TSV file (e.g., k8s_objects.tsv)."),
				"output_file": map[string]interface{}{
					"type":        "string",
					"description": "Path to write the topology JSON output (e.g., operational_topology.json)",
				},
			},
			"required": []string{"arch_file", "output_file"},
		},
	)

	s.registerTool(
		"topology_analysis",
		"Analyzes the operational topology graph: infra hierarchy, call chains, callers/callees and " +
			"dependencies for an entity in one call. Entity matching is tolerant: exact id, name, or " +
			"substring. Tip: build the graph first with build_topology.",
		tools.NewTopologyAnalysisTool(s.toolset),
		map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"topology_file": pathProp("Path to topology JSON file (output of build_topology)."),
				"entity": map[string]interface{}{
					"type":        "string",
					"description": "Entity to analyze (name or partial match, e.g., 'checkout', 'flagd')",
				},
				"mode": map[string]interface{}{
					"type":        "string",
					"description": "Optional: analysis mode. Default: dependencies.",
					"enum":        []string{"dependencies", "service_context", "infra_context"},
				},
				"hops": map[string]interface{}{
					"type":        "integer",
					"description": "Optional: traversal depth for dependencies mode. Default: 2",
				},
				"direction": map[string]interface{}{
					"type":        "string",
					"description": "Optional: edge direction for dependencies mode: 'out', 'in', or 'both' (default).",
				},
			},
			"required": []string{"entity"},
		},
	)

	s.registerTool(
		"spec_changes",
		"Analyzes Kubernetes object spec changes over time: groups observations per entity, diffs " +
			"consecutive specs, strips timestamp churn and classifies image upgrades/downgrades. " +
			"Useful for correlating incidents with rollouts and config drift.",
		tools.NewSpecChangesTool(s.toolset),
		map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"k8s_objects_file": pathProp("Path to Kubernetes objects TSV file (e.g., k8s_objects.tsv)."),
				"k8_object_name": map[string]interface{}{
					"type":        "string",
					"description": "Optional: filter by object. Formats: 'namespace/kind/name' (preferred), 'kind/name', or 'name'",
				},
				"max_changes_per_diff": map[string]interface{}{
					"type":        "integer",
					"description": "Optional: cap change items per diff window. Omit for all.",
				},
				"include_reference_spec": map[string]interface{}{
					"type":        "boolean",
					"description": "Optional: include the baseline spec used for diffing. Default: true",
				},
				"include_flat_change_items": map[string]interface{}{
					"type":        "boolean",
					"description": "Optional: include a flat change-item list with timestamps. Default: true",
				},
				"include_no_change": map[string]interface{}{
					"type":        "boolean",
					"description": "Optional: include entities without spec changes. Default: false",
				},
				"time_basis": map[string]interface{}{
					"type":        "string",
					"description": "Optional: 'observation' (default) or 'effective_update' for change timing.",
				},
				"lifecycle_inference": map[string]interface{}{
					"type":        "string",
					"description": "Optional: creation/removal inference: 'off' (default) or 'window'.",
				},
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "Optional: max entities with changes to return (pagination)",
				},
				"offset": map[string]interface{}{
					"type":        "integer",
					"description": "Optional: skip first N entities. Default: 0",
				},
				"start_time": startProp,
				"end_time":   endProp,
			},
		},
	)

	s.registerTool(
		"get_spec",
		"Retrieves the Kubernetes spec for a resource. Latest observation by default, all " +
			"observations on request. Ambiguous identifiers (kind/name or bare name) return every " +
			"matching resource grouped per entity.",
		tools.NewGetSpecTool(s.toolset),
		map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"k8s_objects_file": pathProp("Path to Kubernetes objects TSV file (e.g., k8s_objects.tsv)."),
				"k8_object_name": map[string]interface{}{
					"type":        "string",
					"description": "K8s resource identifier. Formats: 'namespace/kind/name' (preferred), 'kind/name', or 'name'",
				},
				"return_all_observations": map[string]interface{}{
					"type":        "boolean",
					"description": "Optional: return all observations over time instead of only the latest. Default: false",
				},
				"include_metadata": map[string]interface{}{
					"type":        "boolean",
					"description": "Optional: include full metadata in the response. Default: true",
				},
			},
			"required": []string{"k8_object_name"},
		},
	)

	s.registerTool(
		"entity_context",
		"Aggregates the full operational context for a K8s entity: topology, events, alerts, trace " +
			"errors, metric anomalies, log patterns, latest spec and spec changes, plus per-dependency " +
			"context. Pagination: page=1 main entity, page=2+ dependencies, page=0 everything.",
		tools.NewEntityContextTool(s.toolset),
		map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"k8_object": map[string]interface{}{
					"type":        "string",
					"description": "K8s object identifier. Formats: 'namespace/kind/name' (preferred), 'kind/name', or 'name'",
				},
				"snapshot_dir": map[string]interface{}{
					"type":        "string",
					"description": "Optional: snapshot directory with k8s_events.tsv, k8s_objects.tsv, otel_traces.tsv, alerts/, metrics/. Defaults to the configured directory.",
				},
				"topology_file": map[string]interface{}{
					"type":        "string",
					"description": "Optional: topology JSON file. Defaults to the one discovered in the snapshot directory.",
				},
				"page": map[string]interface{}{
					"type":        "integer",
					"description": "Optional: page number. 0 = all pages, 1 = main entity, 2+ = dependencies. Default: 1",
				},
				"deps_per_page": map[string]interface{}{
					"type":        "integer",
					"description": "Optional: dependencies per page for page >= 2. Default: 3",
				},
				"start_time": startProp,
				"end_time":   endProp,
			},
			"required": []string{"k8_object"},
		},
	)
}
