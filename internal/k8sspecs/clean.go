// Package k8sspecs tracks Kubernetes object specs across snapshot
// observations: it strips churn fields, diffs consecutive revisions,
// infers entity lifecycle (added/removed/modified) and retrieves raw
// specs by identifier.
package k8sspecs

import (
	"strings"
	"time"

	"github.com/moolen/hindsight/internal/query"
)

// churnFields cause diff noise without carrying meaningful change.
var churnFields = map[string]bool{
	"resourceVersion":    true,
	"managedFields":      true,
	"generation":         true,
	"uid":                true,
	"selfLink":           true,
	"creationTimestamp":  true,
	"time":               true,
	"lastTransitionTime": true,
	"lastUpdateTime":     true,
	"lastProbeTime":      true,
	"lastHeartbeatTime":  true,
	"observedGeneration": true,
	"containerStatuses":  true,
	"conditions":         true,
	"podIP":              true,
	"podIPs":             true,
	"hostIP":             true,
	"startTime":          true,
	"status":             true,
}

// churnAnnotations rotate on every controller sync.
var churnAnnotations = map[string]bool{
	"endpoints.kubernetes.io/last-change-trigger-time": true,
	"kubectl.kubernetes.io/last-applied-configuration": true,
	"deployment.kubernetes.io/revision":                true,
}

// preserveTimestampKeys are timestamp-named keys that carry lifecycle
// evidence and must survive cleaning.
var preserveTimestampKeys = map[string]bool{
	"deletiontimestamp": true,
}

// cleanSpec strips churn fields recursively. Empty containers collapse
// to nil so they disappear from the cleaned spec.
func cleanSpec(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		cleaned := map[string]interface{}{}
		for key, value := range val {
			if churnFields[key] {
				continue
			}
			lc := strings.ToLower(key)
			// Only drop keys that look like timestamps by name;
			// "timeoutSeconds" and friends are meaningful.
			if !preserveTimestampKeys[lc] &&
				(strings.HasSuffix(lc, "timestamp") || strings.HasSuffix(lc, "time") || strings.HasSuffix(lc, "date")) {
				continue
			}
			if key == "annotations" {
				if annotations, ok := value.(map[string]interface{}); ok {
					filtered := map[string]interface{}{}
					for k, v := range annotations {
						if !churnAnnotations[k] && !strings.Contains(strings.ToLower(k), "time") {
							filtered[k] = v
						}
					}
					if len(filtered) > 0 {
						cleaned[key] = filtered
					}
					continue
				}
			}
			if c := cleanSpec(value); c != nil {
				cleaned[key] = c
			}
		}
		if len(cleaned) == 0 {
			return nil
		}
		return cleaned

	case []interface{}:
		var cleaned []interface{}
		for _, item := range val {
			if c := cleanSpec(item); c != nil {
				cleaned = append(cleaned, c)
			}
		}
		if len(cleaned) == 0 {
			return nil
		}
		return cleaned

	default:
		return v
	}
}

// normalizeNameKeyed converts lists of dicts that all carry a unique
// string "name" (containers, env, volumes, ports) into maps keyed by
// that name, so diffs address containers.<name>.image instead of
// positional indices. Duplicate names keep the list form.
func normalizeNameKeyed(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		out := map[string]interface{}{}
		for k, item := range val {
			out[k] = normalizeNameKeyed(item)
		}
		return out

	case []interface{}:
		if nameKeyed(val) {
			out := map[string]interface{}{}
			for _, item := range val {
				m := item.(map[string]interface{})
				name := m["name"].(string)
				if _, dup := out[name]; dup {
					return normalizeList(val)
				}
				rest := map[string]interface{}{}
				for k, v := range m {
					if k != "name" {
						rest[k] = v
					}
				}
				out[name] = normalizeNameKeyed(rest)
			}
			return out
		}
		return normalizeList(val)

	default:
		return v
	}
}

func nameKeyed(list []interface{}) bool {
	if len(list) == 0 {
		return false
	}
	for _, item := range list {
		m, ok := item.(map[string]interface{})
		if !ok {
			return false
		}
		name, ok := m["name"].(string)
		if !ok || name == "" {
			return false
		}
	}
	return true
}

func normalizeList(list []interface{}) []interface{} {
	out := make([]interface{}, len(list))
	for i, item := range list {
		out[i] = normalizeNameKeyed(item)
	}
	return out
}

// effectiveUpdateTime estimates when an object was actually updated,
// independent of when the snapshot observed it: the max of
// managedFields[].time and the kubectl rollout-restart annotation on
// the pod template.
func effectiveUpdateTime(body map[string]interface{}) (time.Time, bool) {
	var best time.Time

	if meta, ok := body["metadata"].(map[string]interface{}); ok {
		if managed, ok := meta["managedFields"].([]interface{}); ok {
			for _, entry := range managed {
				m, ok := entry.(map[string]interface{})
				if !ok {
					continue
				}
				if ts, ok := query.CellTime(m["time"]); ok && ts.After(best) {
					best = ts
				}
			}
		}
	}

	if spec, ok := body["spec"].(map[string]interface{}); ok {
		if template, ok := spec["template"].(map[string]interface{}); ok {
			if meta, ok := template["metadata"].(map[string]interface{}); ok {
				if annotations, ok := meta["annotations"].(map[string]interface{}); ok {
					if ts, ok := query.CellTime(annotations["kubectl.kubernetes.io/restartedAt"]); ok && ts.After(best) {
						best = ts
					}
				}
			}
		}
	}

	return best, !best.IsZero()
}
