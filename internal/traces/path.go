package traces

import "strings"

const pathSeparator = " → "

// collapsePath extracts the service chain of one trace: the longest
// root-to-leaf chain starting from the first root, with consecutive
// duplicate services collapsed. A parent id pointing outside the trace
// makes that span a root; broken lineage is not an error.
func collapsePath(spans []span) []string {
	if len(spans) == 0 {
		return nil
	}

	byID := make(map[string]span, len(spans))
	for _, s := range spans {
		if s.spanID != "" {
			byID[s.spanID] = s
		}
	}

	children := map[string][]string{}
	var roots []string
	for _, s := range spans {
		if s.parentID != "" {
			if _, ok := byID[s.parentID]; ok {
				children[s.parentID] = append(children[s.parentID], s.spanID)
				continue
			}
		}
		if s.spanID != "" {
			roots = append(roots, s.spanID)
		}
	}
	if len(roots) == 0 {
		return nil
	}

	var longest func(spanID string) []string
	longest = func(spanID string) []string {
		s, ok := byID[spanID]
		if !ok {
			return nil
		}
		var best []string
		for _, child := range children[spanID] {
			if path := longest(child); len(path) > len(best) {
				best = path
			}
		}
		return append([]string{s.service}, best...)
	}

	full := longest(roots[0])

	var collapsed []string
	prev := ""
	for _, svc := range full {
		if svc != prev {
			collapsed = append(collapsed, svc)
			prev = svc
		}
	}
	return collapsed
}

// pathGroup collects every trace that follows the same service chain,
// along with all of their spans.
type pathGroup struct {
	key      string
	services []string
	traceIDs map[string]bool
	spans    []span
}

// groupByPath buckets traces by their collapsed service chain,
// preserving first-seen order.
func groupByPath(spansByTrace map[string][]span, traceOrder []string) []*pathGroup {
	var groups []*pathGroup
	index := map[string]*pathGroup{}

	for _, traceID := range traceOrder {
		spans := spansByTrace[traceID]
		services := collapsePath(spans)
		if len(services) == 0 {
			continue
		}
		key := strings.Join(services, pathSeparator)

		g, ok := index[key]
		if !ok {
			g = &pathGroup{key: key, services: services, traceIDs: map[string]bool{}}
			index[key] = g
			groups = append(groups, g)
		}
		g.traceIDs[traceID] = true
		g.spans = append(g.spans, spans...)
	}
	return groups
}

// traceContainsService reports whether any span of the trace belongs to
// the service. Filtering happens at trace granularity so upstream
// callers and downstream callees stay in the tree.
func traceContainsService(spans []span, service string) bool {
	for _, s := range spans {
		if strings.EqualFold(s.service, service) {
			return true
		}
	}
	return false
}
