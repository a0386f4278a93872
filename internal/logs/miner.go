// Package logs filters OTEL log tables and mines recurring message
// templates from them. The miner clusters messages by token-sequence
// similarity after masking volatile fragments, so "connect to
// 10.0.0.7 failed" and "connect to 10.0.0.9 failed" collapse into one
// pattern.
package logs

import (
	"regexp"
	"strings"
)

var (
	uuidPattern = regexp.MustCompile(`[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}`)
	ipPattern   = regexp.MustCompile(`\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}`)
	hexPattern  = regexp.MustCompile(`0x[0-9a-fA-F]+`)
	numPattern  = regexp.MustCompile(`\b\d+\b`)
)

// wildcard replaces tokens that differ between cluster members.
const wildcard = "<*>"

// mask normalizes volatile fragments before tokenization.
func mask(body string) string {
	body = uuidPattern.ReplaceAllString(body, "<UUID>")
	body = ipPattern.ReplaceAllString(body, "<IP>")
	body = hexPattern.ReplaceAllString(body, "<HEX>")
	body = numPattern.ReplaceAllString(body, "<NUM>")
	return body
}

type cluster struct {
	tokens  []string
	indices []int
}

// miner clusters masked log messages. Two messages join the same
// cluster when the share of matching token positions, relative to the
// longer sequence, reaches the threshold.
type miner struct {
	threshold float64
	clusters  []*cluster
}

func newMiner(threshold float64) *miner {
	return &miner{threshold: threshold}
}

func (m *miner) add(body string, index int) {
	tokens := strings.Fields(mask(body))
	if len(tokens) == 0 {
		return
	}

	var best *cluster
	bestScore := 0.0
	for _, c := range m.clusters {
		score := similarity(c.tokens, tokens)
		if score > bestScore {
			best, bestScore = c, score
		}
	}

	if best != nil && bestScore >= m.threshold {
		best.tokens = merge(best.tokens, tokens)
		best.indices = append(best.indices, index)
		return
	}
	m.clusters = append(m.clusters, &cluster{tokens: tokens, indices: []int{index}})
}

// similarity counts matching positions over the longer length, so
// sequences of different size still compare.
func similarity(a, b []string) float64 {
	longer := len(a)
	if len(b) > longer {
		longer = len(b)
	}
	if longer == 0 {
		return 0
	}
	shorter := len(a)
	if len(b) < shorter {
		shorter = len(b)
	}
	matches := 0
	for i := 0; i < shorter; i++ {
		if a[i] == b[i] || a[i] == wildcard {
			matches++
		}
	}
	return float64(matches) / float64(longer)
}

// merge generalizes the template: positions that disagree become
// wildcards, and a length mismatch truncates to the shared prefix
// plus a trailing wildcard.
func merge(template, tokens []string) []string {
	n := len(template)
	if len(tokens) < n {
		n = len(tokens)
	}
	out := make([]string, 0, n+1)
	for i := 0; i < n; i++ {
		if template[i] == tokens[i] {
			out = append(out, template[i])
		} else {
			out = append(out, wildcard)
		}
	}
	if len(template) != len(tokens) {
		out = append(out, wildcard)
	}
	return out
}

func (c *cluster) template() string {
	return strings.Join(c.tokens, " ")
}
