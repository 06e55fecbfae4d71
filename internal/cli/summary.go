package cli

import (
	"fmt"
	"io"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/iambrandonn/coderloop/internal/agent"
	"github.com/iambrandonn/coderloop/internal/project"
	"github.com/iambrandonn/coderloop/internal/sequencer"
)

// printSummary renders the agent outcomes and the discovered routes.
func printSummary(w io.Writer, report *sequencer.Report) {
	if report == nil {
		return
	}

	fmt.Fprintf(w, "\nRun %s\n", report.RunID)
	if report.Project != nil {
		fmt.Fprintf(w, "Project: %s\n", report.Project.Description)
	}

	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(table.Row{"Agent", "Status", "Error"})
	for _, o := range report.Outcomes {
		errText := ""
		if o.Err != nil {
			errText = o.Err.Error()
		}
		tw.AppendRow(table.Row{o.Position, o.Status, errText})
	}
	tw.Render()

	if report.Project == nil || len(report.Project.APIEndpointSchema) == 0 {
		return
	}

	probed := make(map[string]agent.RouteProbe, len(report.Probes))
	for _, p := range report.Probes {
		probed[p.Route] = p
	}

	fmt.Fprintln(w)
	rt := table.NewWriter()
	rt.SetOutputMirror(w)
	rt.AppendHeader(table.Row{"Method", "Route", "Dynamic", "Probe"})
	for _, r := range report.Project.APIEndpointSchema {
		rt.AppendRow(table.Row{r.Method, r.Route, r.IsRouteDynamic, probeCell(r, probed)})
	}
	rt.Render()
}

func probeCell(r project.EndpointRoute, probed map[string]agent.RouteProbe) string {
	p, ok := probed[r.Route]
	switch {
	case !r.Probeable() || !ok:
		return "skipped"
	case p.Error != "":
		return "error: " + p.Error
	default:
		return strconv.Itoa(p.Status)
	}
}
