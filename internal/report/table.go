package report

import (
	"fmt"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// RenderTable renders a per-image summary of metric as a rounded table.
func RenderTable(summaries []ImageSummary, metric string) string {
	if len(summaries) == 0 {
		return ""
	}
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(table.Row{"Image ID", "Name", "Rows", "Mean " + metric, "SD " + metric})
	for _, s := range summaries {
		mean, sd := "-", "-"
		if s.Values > 0 {
			mean = strconv.FormatFloat(s.Mean, 'f', 4, 64)
		}
		if s.Values > 1 {
			sd = strconv.FormatFloat(s.StdDev, 'f', 4, 64)
		}
		tw.AppendRow(table.Row{fmt.Sprint(s.ImageID), s.Name, fmt.Sprint(s.Rows), mean, sd})
	}
	right := []int{1, 3, 4, 5}
	configs := make([]table.ColumnConfig, 0, len(right))
	for _, n := range right {
		configs = append(configs, table.ColumnConfig{Number: n, Align: text.AlignRight, AlignHeader: text.AlignLeft})
	}
	tw.SetColumnConfigs(configs)
	return tw.Render()
}
