package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"k8s.io/client-go/util/jsonpath"

	"github.com/moolen/hindsight/internal/k8sspecs"
	"github.com/moolen/hindsight/internal/mcp/tools"
)

var (
	specObjectsFile string
	specObject      string
	specAllObs      bool
	specJSONPath    string

	changesObject          string
	changesStartTime       string
	changesEndTime         string
	changesIncludeNoChange bool
	changesLimit           int
	changesOffset          int
)

var specCmd = &cobra.Command{
	Use:   "spec",
	Short: "Inspect Kubernetes object specs from the snapshot",
}

var specGetCmd = &cobra.Command{
	Use:   "get",
	Short: "Retrieve the spec for a resource",
	Run:   runSpecGet,
}

var specChangesCmd = &cobra.Command{
	Use:   "changes",
	Short: "Analyze spec changes over time",
	Run:   runSpecChanges,
}

func init() {
	specGetCmd.Flags().StringVarP(&specObjectsFile, "objects-file", "k", "", "Path to Kubernetes objects TSV file (default: discovered in snapshot dir)")
	specGetCmd.Flags().StringVarP(&specObject, "object", "o", "", "Resource identifier: 'namespace/kind/name' (preferred), 'kind/name', or 'name'")
	specGetCmd.Flags().BoolVar(&specAllObs, "all", false, "Return all observations instead of only the latest")
	specGetCmd.Flags().StringVar(&specJSONPath, "jsonpath", "", "Project the spec through a kubectl-style JSONPath expression (e.g. '{.spec.replicas}')")
	_ = specGetCmd.MarkFlagRequired("object")

	specChangesCmd.Flags().StringVarP(&specObjectsFile, "objects-file", "k", "", "Path to Kubernetes objects TSV file (default: discovered in snapshot dir)")
	specChangesCmd.Flags().StringVarP(&changesObject, "object", "o", "", "Optional resource identifier filter")
	specChangesCmd.Flags().StringVar(&changesStartTime, "start-time", "", "Window start (ISO 8601, unix, or relative like 'now-2h')")
	specChangesCmd.Flags().StringVar(&changesEndTime, "end-time", "", "Window end")
	specChangesCmd.Flags().BoolVar(&changesIncludeNoChange, "include-no-change", false, "Include entities without spec changes")
	specChangesCmd.Flags().IntVar(&changesLimit, "limit", 0, "Max entities with changes to return")
	specChangesCmd.Flags().IntVar(&changesOffset, "offset", 0, "Skip first N entities")

	specCmd.AddCommand(specGetCmd)
	specCmd.AddCommand(specChangesCmd)
}

func runSpecGet(cmd *cobra.Command, args []string) {
	ts := newToolset()
	tool := tools.NewGetSpecTool(ts)

	input, err := json.Marshal(tools.GetSpecInput{
		K8sObjectsFile: specObjectsFile,
		GetParams: k8sspecs.GetParams{
			K8Object:              specObject,
			ReturnAllObservations: specAllObs,
		},
	})
	if err != nil {
		HandleError(err, "Failed to encode arguments")
	}
	out, err := tool.Execute(context.Background(), input)
	if err != nil {
		HandleError(err, "Spec retrieval failed")
	}

	if specJSONPath != "" {
		doc, ok := out.(map[string]interface{})
		if !ok || doc["spec"] == nil {
			HandleError(fmt.Errorf("identifier %q matched multiple entities", specObject),
				"JSONPath projection requires an unambiguous identifier")
		}
		projected, err := projectJSONPath(doc["spec"], specJSONPath)
		if err != nil {
			HandleError(err, "JSONPath projection failed")
		}
		fmt.Println(projected)
		return
	}
	printJSON(out)
}

func runSpecChanges(cmd *cobra.Command, args []string) {
	ts := newToolset()
	tool := tools.NewSpecChangesTool(ts)

	input, err := json.Marshal(tools.SpecChangesInput{
		K8sObjectsFile: specObjectsFile,
		ChangeParams: k8sspecs.ChangeParams{
			K8Object:        changesObject,
			StartTime:       changesStartTime,
			EndTime:         changesEndTime,
			IncludeNoChange: changesIncludeNoChange,
			Limit:           changesLimit,
			Offset:          changesOffset,
		},
	})
	if err != nil {
		HandleError(err, "Failed to encode arguments")
	}
	out, err := tool.Execute(context.Background(), input)
	if err != nil {
		HandleError(err, "Spec change analysis failed")
	}
	printJSON(out)
}

// projectJSONPath applies a kubectl-style JSONPath expression to a
// decoded object.
func projectJSONPath(doc interface{}, expr string) (string, error) {
	jp := jsonpath.New("spec")
	if err := jp.Parse(relaxedJSONPath(expr)); err != nil {
		return "", fmt.Errorf("invalid jsonpath %q: %w", expr, err)
	}
	var buf bytes.Buffer
	if err := jp.Execute(&buf, doc); err != nil {
		return "", fmt.Errorf("jsonpath %q: %w", expr, err)
	}
	return buf.String(), nil
}

// relaxedJSONPath accepts the shorthand forms kubectl tolerates:
// 'spec.replicas' and '.spec.replicas' become '{.spec.replicas}'.
func relaxedJSONPath(expr string) string {
	if strings.HasPrefix(expr, "{") {
		return expr
	}
	if !strings.HasPrefix(expr, ".") {
		expr = "." + expr
	}
	return "{" + expr + "}"
}
