package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/moolen/hindsight/internal/report"
)

var reportRaw bool

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Render a markdown incident report for an entity",
	Long: `Compose the entity's context bundle into a markdown incident report
and render it for the terminal. Use --raw to emit plain markdown for
piping into files or other tools.`,
	Run: runReport,
}

func init() {
	// Report shares the context flags: same bundle, different rendering.
	reportCmd.Flags().AddFlagSet(contextCmd.Flags())
	reportCmd.Flags().BoolVar(&reportRaw, "raw", false, "Emit plain markdown instead of a terminal rendering")
	_ = reportCmd.MarkFlagRequired("k8-object")
}

func runReport(cmd *cobra.Command, args []string) {
	bundle := buildBundle()
	markdown := report.Compose(bundle)

	out, err := report.Render(markdown, report.Options{Raw: reportRaw})
	if err != nil {
		HandleError(err, "Failed to render report")
	}
	fmt.Print(out)
}
