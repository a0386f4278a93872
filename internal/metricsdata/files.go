// Package metrics answers queries over per-object metric TSV dumps:
// compact summaries, histogram quantiles, derived expressions and
// z-score anomaly scans. Files are named <kind>_<name>.tsv.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/moolen/hindsight/internal/models"
)

// nameSuffixes are stripped to probe naming variations:
// product-catalog-service also matches product-catalog.
var nameSuffixes = []string{"-service", "_service", "-svc", "_svc"}

// FindFiles selects metric files for a single object identifier or,
// when the identifier is empty, a kind/name glob pattern ("pod/*").
func FindFiles(dir, objectName, objectPattern string) ([]string, error) {
	if _, err := os.Stat(dir); err != nil {
		return nil, fmt.Errorf("metrics directory not found: %s", dir)
	}

	var files []string
	if objectName != "" {
		id := models.ParseIdentifier(objectName)
		if id.Format == models.FormatInvalid {
			return nil, models.NewParameterError("k8_object_name", "%s", id.Warning)
		}

		if id.Kind == "" {
			files, _ = filepath.Glob(filepath.Join(dir, "*_"+id.Name+"*.tsv"))
			if len(files) == 0 {
				files, _ = filepath.Glob(filepath.Join(dir, "*"+id.Name+"*.tsv"))
			}
		} else {
			for _, variant := range nameVariants(id.Name) {
				prefix := strings.ToLower(id.Kind) + "_" + variant
				files, _ = filepath.Glob(filepath.Join(dir, prefix+"*.tsv"))
				if len(files) > 0 {
					break
				}
			}
		}
	} else {
		pattern := objectPattern
		if pattern == "" || pattern == "*" {
			pattern = "*.tsv"
		} else if kind, name, ok := strings.Cut(pattern, "/"); ok {
			pattern = strings.ToLower(kind) + "_" + name + ".tsv"
		} else {
			pattern += ".tsv"
		}
		files, _ = filepath.Glob(filepath.Join(dir, pattern))
	}

	sort.Strings(files)
	return files, nil
}

func nameVariants(name string) []string {
	variants := []string{name}
	for _, suffix := range nameSuffixes {
		if strings.HasSuffix(name, suffix) {
			variants = append(variants, strings.TrimSuffix(name, suffix))
		}
	}
	return variants
}

// objectInfo recovers kind and name from a metric filename:
// pod_checkout-8546fdc74d-7m4dn.tsv -> ("pod", "checkout-8546fdc74d-7m4dn").
func objectInfo(filename string) (kind, name string) {
	stem := strings.TrimSuffix(filepath.Base(filename), ".tsv")
	if k, n, ok := strings.Cut(stem, "_"); ok {
		return k, n
	}
	return "unknown", stem
}
