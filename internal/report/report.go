// Package report turns a context bundle into a markdown incident
// report and renders it for the terminal.
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

const (
	defaultWidth = 80
	maxWidth     = 120
	minWidth     = 40
)

// sections lists the bundle sections in report order. Each entry maps
// a bundle key to its report heading; missing keys are skipped.
var sections = []struct {
	key   string
	title string
}{
	{"topology", "Topology"},
	{"dependency_breakdown", "Dependency Breakdown"},
	{"events", "Kubernetes Events"},
	{"alerts", "Alerts"},
	{"trace_errors", "Trace Errors"},
	{"metric_anomalies", "Metric Anomalies"},
	{"log_patterns", "Log Patterns"},
	{"k8s_spec", "Latest Spec"},
	{"spec_changes", "Spec Changes"},
}

var (
	bannerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#00D4FF"))

	ruleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#4B5563"))
)

// Options controls rendering of a composed report.
type Options struct {
	// Raw emits the plain markdown instead of a terminal rendering.
	Raw bool
	// Width overrides the detected terminal width.
	Width int
}

// Compose builds the markdown incident report for one context bundle.
func Compose(bundle map[string]interface{}) string {
	var b strings.Builder

	entity := stringField(bundle, "entity")
	fmt.Fprintf(&b, "# Incident Report: %s\n\n", entity)

	writeHeader(&b, bundle)

	if w, ok := bundle["identifier_warning"]; ok {
		fmt.Fprintf(&b, "> %v\n\n", w)
	}
	if msg, ok := bundle["message"]; ok {
		fmt.Fprintf(&b, "%v\n\n", msg)
	}

	for _, s := range sections {
		wroteSection := false
		if doc, ok := bundle[s.key]; ok {
			fmt.Fprintf(&b, "## %s\n\n", s.title)
			writeJSONBlock(&b, doc)
			wroteSection = true
		}
		if errMsg, ok := bundle[s.key+"_error"]; ok {
			if !wroteSection {
				fmt.Fprintf(&b, "## %s\n\n", s.title)
			}
			fmt.Fprintf(&b, "> section failed: %v\n\n", errMsg)
		}
	}

	writeDependencies(&b, bundle)
	writeDependencyContext(&b, bundle)
	writePagination(&b, bundle)

	return b.String()
}

// Render renders the markdown for the terminal via glamour. Raw mode
// returns the markdown untouched.
func Render(markdown string, opts Options) (string, error) {
	if opts.Raw {
		return markdown, nil
	}
	width := opts.Width
	if width <= 0 {
		width = TerminalWidth()
	}
	if width > maxWidth {
		width = maxWidth
	}
	if width < minWidth {
		width = minWidth
	}

	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width-4),
	)
	if err != nil {
		return "", fmt.Errorf("failed to create markdown renderer: %w", err)
	}
	out, err := renderer.Render(markdown)
	if err != nil {
		return "", fmt.Errorf("failed to render report: %w", err)
	}

	banner := bannerStyle.Render("HINDSIGHT") + " " + ruleStyle.Render(strings.Repeat("─", width-10))
	return banner + "\n" + out, nil
}

// TerminalWidth returns the width of the attached terminal, or a
// default when stdout is not a terminal.
func TerminalWidth() int {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		return defaultWidth
	}
	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || width <= 0 {
		return defaultWidth
	}
	return width
}

func writeHeader(b *strings.Builder, bundle map[string]interface{}) {
	fmt.Fprintf(b, "- **Kind**: %s\n", stringField(bundle, "kind"))
	if ns := stringField(bundle, "namespace"); ns != "" {
		fmt.Fprintf(b, "- **Namespace**: %s\n", ns)
	}
	fmt.Fprintf(b, "- **Name**: %s\n", stringField(bundle, "name"))
	if ct := stringField(bundle, "context_type"); ct != "" {
		fmt.Fprintf(b, "- **Context**: %s\n", ct)
	}
	if tw, ok := bundle["time_window"]; ok {
		start, end := windowBounds(tw)
		if start != "" || end != "" {
			fmt.Fprintf(b, "- **Window**: %s → %s\n", start, end)
		}
	}
	b.WriteString("\n")
}

func writeDependencies(b *strings.Builder, bundle map[string]interface{}) {
	deps := stringList(bundle["dependencies"])
	if deps == nil {
		deps = stringList(bundle["dependencies_on_page"])
		if deps != nil {
			fmt.Fprintf(b, "## Dependencies On Page\n\n")
		}
	} else {
		fmt.Fprintf(b, "## Dependencies\n\n")
	}
	if deps == nil {
		return
	}
	if len(deps) == 0 {
		b.WriteString("No functional dependencies discovered.\n\n")
		return
	}
	for _, d := range deps {
		fmt.Fprintf(b, "- %s\n", d)
	}
	b.WriteString("\n")
}

func writeDependencyContext(b *strings.Builder, bundle map[string]interface{}) {
	raw, ok := bundle["dependency_context"]
	if !ok {
		return
	}
	ctxMap, ok := raw.(map[string]interface{})
	if !ok {
		return
	}
	fmt.Fprintf(b, "## Dependency Context\n\n")
	keys := make([]string, 0, len(ctxMap))
	for k := range ctxMap {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(b, "### %s\n\n", k)
		writeJSONBlock(b, ctxMap[k])
	}
}

func writePagination(b *strings.Builder, bundle map[string]interface{}) {
	raw, ok := bundle["pagination"]
	if !ok {
		return
	}
	p, ok := raw.(map[string]interface{})
	if !ok {
		return
	}
	fmt.Fprintf(b, "---\n\nPage %v of %v — %v dependencies, %v per page.\n",
		p["current_page"], p["total_pages"], p["total_dependencies"], p["deps_per_page"])
}

func writeJSONBlock(b *strings.Builder, doc interface{}) {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		fmt.Fprintf(b, "```\n%v\n```\n\n", doc)
		return
	}
	fmt.Fprintf(b, "```json\n%s\n```\n\n", data)
}

func stringField(bundle map[string]interface{}, key string) string {
	if v, ok := bundle[key]; ok {
		return fmt.Sprintf("%v", v)
	}
	return ""
}

// stringList accepts both []string and the []interface{} shape a JSON
// round trip produces. A nil return means the key was absent or had an
// unexpected shape.
func stringList(raw interface{}) []string {
	switch v := raw.(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			out = append(out, fmt.Sprintf("%v", item))
		}
		return out
	default:
		return nil
	}
}

func windowBounds(raw interface{}) (string, string) {
	switch v := raw.(type) {
	case map[string]string:
		return v["start"], v["end"]
	case map[string]interface{}:
		return fmt.Sprintf("%v", v["start"]), fmt.Sprintf("%v", v["end"])
	default:
		return "", ""
	}
}
