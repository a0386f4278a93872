package commands

import (
	"context"
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/moolen/hindsight/internal/mcp/tools"
)

var (
	ctxObject      string
	ctxSnapshotDir string
	ctxTopoFile    string
	ctxStartTime   string
	ctxEndTime     string
	ctxPage        int
	ctxDepsPerPage int
)

var contextCmd = &cobra.Command{
	Use:   "context",
	Short: "Aggregate the full operational context for an entity",
	Long: `Aggregate topology, events, alerts, trace errors, metric anomalies,
log patterns, latest spec and spec changes for one entity into a single
JSON bundle. Page 1 covers the entity itself, page 2+ its dependencies,
page 0 everything at once.`,
	Run: runContext,
}

func init() {
	contextCmd.Flags().StringVarP(&ctxObject, "k8-object", "k", "", "Entity identifier: 'namespace/kind/name' (preferred), 'kind/name', or 'name'")
	contextCmd.Flags().StringVarP(&ctxSnapshotDir, "snapshot-dir", "s", "", "Snapshot directory (overrides config)")
	contextCmd.Flags().StringVarP(&ctxTopoFile, "topology-file", "t", "", "Topology JSON file (default: discovered in snapshot dir)")
	contextCmd.Flags().StringVar(&ctxStartTime, "start-time", "", "Window start (ISO 8601, unix, or relative like 'now-2h')")
	contextCmd.Flags().StringVar(&ctxEndTime, "end-time", "", "Window end")
	contextCmd.Flags().IntVarP(&ctxPage, "page", "p", 1, "Page number: 0=all, 1=main entity, 2+=dependencies")
	contextCmd.Flags().IntVar(&ctxDepsPerPage, "deps-per-page", 0, "Dependencies per page for page >= 2 (default: 3)")
	_ = contextCmd.MarkFlagRequired("k8-object")
}

// buildBundle runs the entity_context tool and returns the bundle map.
func buildBundle() map[string]interface{} {
	ts := newToolset()
	tool := tools.NewEntityContextTool(ts)

	page := ctxPage
	input, err := json.Marshal(tools.EntityContextInput{
		K8Object:     ctxObject,
		SnapshotDir:  ctxSnapshotDir,
		TopologyFile: ctxTopoFile,
		StartTime:    ctxStartTime,
		EndTime:      ctxEndTime,
		Page:         &page,
		DepsPerPage:  ctxDepsPerPage,
	})
	if err != nil {
		HandleError(err, "Failed to encode arguments")
	}
	out, err := tool.Execute(context.Background(), input)
	if err != nil {
		HandleError(err, "Context aggregation failed")
	}
	bundle, ok := out.(map[string]interface{})
	if !ok {
		HandleError(err, "Unexpected context bundle shape")
	}
	return bundle
}

func runContext(cmd *cobra.Command, args []string) {
	printJSON(buildBundle())
}
