package commands

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/moolen/hindsight/internal/mcp/tools"
)

var (
	topoArchFile    string
	topoObjectsFile string
	topoOutputFile  string

	topoFile      string
	topoEntity    string
	topoMode      string
	topoHops      int
	topoDirection string
)

var topologyCmd = &cobra.Command{
	Use:   "topology",
	Short: "Build and analyze the operational topology graph",
}

var topologyBuildCmd = &cobra.Command{
	Use:   "build",
	Short: "Build the topology graph from an architecture document and K8s objects",
	Run:   runTopologyBuild,
}

var topologyAnalyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Analyze the topology graph around an entity",
	Run:   runTopologyAnalyze,
}

func init() {
	topologyBuildCmd.Flags().StringVarP(&topoArchFile, "arch-file", "a", "", "Path to application architecture file (JSON or YAML)")
	topologyBuildCmd.Flags().StringVarP(&topoObjectsFile, "objects-file", "k", "", "Path to Kubernetes objects TSV file (default: discovered in snapshot dir)")
	topologyBuildCmd.Flags().StringVarP(&topoOutputFile, "output", "o", "operational_topology.json", "Path to write the topology JSON")
	_ = topologyBuildCmd.MarkFlagRequired("arch-file")

	topologyAnalyzeCmd.Flags().StringVarP(&topoFile, "topology-file", "t", "", "Path to topology JSON file (default: discovered in snapshot dir)")
	topologyAnalyzeCmd.Flags().StringVarP(&topoEntity, "entity", "e", "", "Entity to analyze (name or partial match)")
	topologyAnalyzeCmd.Flags().StringVarP(&topoMode, "mode", "m", "", "Analysis mode: dependencies, service_context, infra_context")
	topologyAnalyzeCmd.Flags().IntVar(&topoHops, "hops", 0, "Traversal depth for dependencies mode")
	topologyAnalyzeCmd.Flags().StringVar(&topoDirection, "direction", "", "Edge direction for dependencies mode: out, in, both")
	_ = topologyAnalyzeCmd.MarkFlagRequired("entity")

	topologyCmd.AddCommand(topologyBuildCmd)
	topologyCmd.AddCommand(topologyAnalyzeCmd)
}

// newToolset builds the shared engine set from config and flags.
func newToolset() *tools.Toolset {
	if err := setupLog(logLevelFlags); err != nil {
		HandleError(err, "Failed to setup logging")
	}
	cfg, err := loadConfig()
	if err != nil {
		HandleError(err, "Failed to load config")
	}
	ts, err := tools.NewToolset(cfg)
	if err != nil {
		HandleError(err, "Failed to initialize engines")
	}
	return ts
}

// printJSON writes an indented JSON document to stdout.
func printJSON(doc interface{}) {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		HandleError(err, "Failed to format output")
	}
	fmt.Println(string(data))
}

func runTopologyBuild(cmd *cobra.Command, args []string) {
	ts := newToolset()
	tool := tools.NewBuildTopologyTool(ts)

	input, err := json.Marshal(tools.BuildTopologyInput{
		ArchFile:       topoArchFile,
		K8sObjectsFile: topoObjectsFile,
		OutputFile:     topoOutputFile,
	})
	if err != nil {
		HandleError(err, "Failed to encode arguments")
	}
	out, err := tool.Execute(context.Background(), input)
	if err != nil {
		HandleError(err, "Topology build failed")
	}
	printJSON(out)
}

func runTopologyAnalyze(cmd *cobra.Command, args []string) {
	ts := newToolset()
	tool := tools.NewTopologyAnalysisTool(ts)

	input, err := json.Marshal(tools.TopologyAnalysisInput{
		TopologyFile: topoFile,
		Mode:         topoMode,
		Entity:       topoEntity,
		Hops:         topoHops,
		Direction:    topoDirection,
	})
	if err != nil {
		HandleError(err, "Failed to encode arguments")
	}
	out, err := tool.Execute(context.Background(), input)
	if err != nil {
		HandleError(err, "Topology analysis failed")
	}
	printJSON(out)
}
