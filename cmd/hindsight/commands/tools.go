package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/moolen/hindsight/internal/mcp"
)

var toolsList bool

// toolSummaries is the one-line catalog printed by 'tools --list',
// keyed implicitly by registration order.
var toolSummaries = map[string]string{
	"event_analysis":    "Analyze K8s events (filter, group, aggregate)",
	"alert_analysis":    "Analyze alerts (filter, group, aggregate, duration)",
	"alert_summary":     "Summarize alerts by entity (first/last seen, duration)",
	"metric_analysis":   "General metric analysis (filtering, grouping, derived metrics)",
	"metric_anomalies":  "Statistical anomaly detection per K8s object",
	"log_analysis":      "Log pattern mining and raw log pagination",
	"trace_error_tree":  "Trace call-path regression analysis",
	"build_topology":    "Build the operational topology graph",
	"topology_analysis": "Analyze topology (dependencies, service context, infra hierarchy)",
	"spec_changes":      "Detect K8s spec changes (image, replicas, env, resources)",
	"get_spec":          "Retrieve the spec for a resource",
	"entity_context":    "Full context bundle for an entity",
}

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List the MCP tools this server exposes",
	Run:   runTools,
}

func init() {
	toolsCmd.Flags().BoolVarP(&toolsList, "list", "l", true, "List available tools")
}

func runTools(cmd *cobra.Command, args []string) {
	if err := setupLog(logLevelFlags); err != nil {
		HandleError(err, "Failed to setup logging")
	}
	cfg, err := loadConfig()
	if err != nil {
		HandleError(err, "Failed to load config")
	}
	server, err := mcp.NewServer(cfg, Version)
	if err != nil {
		HandleError(err, "Failed to create MCP server")
	}

	fmt.Println("Available tools:")
	fmt.Println()
	for _, name := range server.ToolNames() {
		fmt.Printf("  %-22s %s\n", name, toolSummaries[name])
	}
	fmt.Println()
	fmt.Println("Run 'hindsight mcp' to serve them over MCP.")
}
