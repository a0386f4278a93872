package snapshot

import (
	"os"
	"path/filepath"
	"sort"
)

// Files names the captured artifacts discovered in a scenario directory.
// Missing entries are empty strings; callers decide which are required.
type Files struct {
	EventsFile   string `json:"events_file,omitempty"`
	ObjectsFile  string `json:"objects_file,omitempty"`
	TracesFile   string `json:"traces_file,omitempty"`
	LogsFile     string `json:"logs_file,omitempty"`
	AlertsDir    string `json:"alerts_dir,omitempty"`
	MetricsDir   string `json:"metrics_dir,omitempty"`
	TopologyFile string `json:"topology_file,omitempty"`
}

// Locator discovers captured artifacts for a scenario. File discovery is
// a collaborator of the engines, not part of them, so it sits behind an
// interface that tests can replace.
type Locator interface {
	Locate(scenarioDir string) (Files, error)
}

// GlobLocator discovers files by wildcard patterns, matching the loose
// naming conventions of capture tooling (k8s_events_raw.tsv, events.tsv,
// otel_traces_raw.tsv, operational_topology.json, ...). The first glob
// match in lexical order wins.
type GlobLocator struct{}

// Locate finds scenario files under dir.
func (GlobLocator) Locate(scenarioDir string) (Files, error) {
	if _, err := os.Stat(scenarioDir); err != nil {
		return Files{}, err
	}

	files := Files{
		EventsFile:   firstGlob(scenarioDir, "*events*.tsv"),
		ObjectsFile:  firstGlob(scenarioDir, "*objects*.tsv"),
		TracesFile:   firstGlob(scenarioDir, "*traces*.tsv"),
		LogsFile:     firstGlob(scenarioDir, "*logs*.tsv"),
		TopologyFile: firstGlob(scenarioDir, "*topology*.json"),
	}

	if dir := filepath.Join(scenarioDir, "alerts"); isDir(dir) {
		files.AlertsDir = dir
	}
	if dir := filepath.Join(scenarioDir, "metrics"); isDir(dir) {
		files.MetricsDir = dir
	}

	return files, nil
}

func firstGlob(dir, pattern string) string {
	matches, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil || len(matches) == 0 {
		return ""
	}
	sort.Strings(matches)
	return matches[0]
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// MetricFiles lists the TSV files in the metrics directory matching any
// of the given glob patterns, deduplicated and sorted.
func MetricFiles(metricsDir string, patterns []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, p := range patterns {
		matches, err := filepath.Glob(filepath.Join(metricsDir, p))
		if err != nil {
			continue
		}
		for _, m := range matches {
			if !seen[m] {
				seen[m] = true
				out = append(out, m)
			}
		}
	}
	sort.Strings(out)
	return out
}
