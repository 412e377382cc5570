package region

import (
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
)

// Render writes regions as a table with start, end, size and value columns.
func Render[V any](w io.Writer, regions []Region[V]) error {
	tbl := table.NewWriter()
	tbl.SetStyle(table.StyleLight)
	tbl.Style().Options.SeparateRows = false

	tbl.AppendHeader(table.Row{"#", "Start", "End", "Size", "Value"})

	var total uint64

	for idx, r := range regions {
		tbl.AppendRow(table.Row{
			idx,
			fmt.Sprintf("%#x", r.Start),
			fmt.Sprintf("%#x", r.End()),
			humanize.IBytes(r.Size),
			fmt.Sprintf("%v", r.Value),
		})

		total += r.Size
	}

	tbl.AppendFooter(table.Row{"", "", fmt.Sprintf("%s regions", humanize.Comma(int64(len(regions)))), humanize.IBytes(total), ""})

	_, err := fmt.Fprintln(w, tbl.Render())
	if err != nil {
		return fmt.Errorf("render regions: %w", err)
	}

	return nil
}
