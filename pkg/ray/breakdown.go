package ray

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/samber/lo"

	"volumecaster/internal/models"
)

// TerminationMarker is the row text inserted where compositing stopped
const TerminationMarker = "Ray Termination"

// BreakdownRow is one line of the per-sample calculation table
type BreakdownRow struct {
	// Index is the sample index, or -1 for the termination marker
	Index int

	Density    string
	Sample     string
	Composited string
	Opacity    string
}

// Breakdown is the step-by-step compositing table of a single ray
type Breakdown struct {
	Method  models.CompositingMethod
	Formula string
	Rows    []BreakdownRow
}

var formulas = map[models.CompositingMethod]string{
	models.Accumulate: "a' = 1-(1-a)^(ds/0.1); A = Ap + (1-Ap)a'; C = Cp + (1-Ap)a'c",
	models.Maximum:    "C = colorAt(max(d0..di))",
	models.Average:    "C = colorAt(sum(d0..di) / i); final = colorAt(sum / (n-1))",
	models.First:      "C = colorAt(target) for the first |d-target| <= 0.05",
}

// Breakdown builds the calculation table for the ray. Values are rounded to
// one decimal, and a termination row precedes the sample at which
// compositing stopped.
func (r *Ray) Breakdown() Breakdown {
	rows := lo.Map(r.samples, func(s models.Sample, i int) BreakdownRow {
		return BreakdownRow{
			Index:      i,
			Density:    fmt.Sprintf("%.1f", s.Density),
			Sample:     s.Color.String(),
			Composited: fmt.Sprintf("(%.1f,%.1f,%.1f)", s.Composited.R, s.Composited.G, s.Composited.B),
			Opacity:    fmt.Sprintf("%.1f", s.Composited.A),
		}
	})

	if idx, ok := r.EarlyTerminationIndex(); ok && idx < len(rows) {
		marker := BreakdownRow{
			Index:      -1,
			Density:    TerminationMarker,
			Sample:     TerminationMarker,
			Composited: TerminationMarker,
			Opacity:    TerminationMarker,
		}
		rows = append(rows[:idx], append([]BreakdownRow{marker}, rows[idx:]...)...)
	}

	return Breakdown{
		Method:  r.opts.Method,
		Formula: formulas[r.opts.Method],
		Rows:    rows,
	}
}

// WriteTo prints the table in aligned columns
func (b Breakdown) WriteTo(w io.Writer) (int64, error) {
	cw := &countingWriter{w: w}
	tw := tabwriter.NewWriter(cw, 0, 4, 2, ' ', 0)

	fmt.Fprintf(tw, "method: %s\t%s\n", b.Method, b.Formula)
	fmt.Fprintln(tw, "#\tdensity\tsample\tcomposited\topacity")
	for _, row := range b.Rows {
		if row.Index < 0 {
			fmt.Fprintf(tw, "--\t%s\t\t\t\n", TerminationMarker)
			continue
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", row.Index, row.Density, row.Sample, row.Composited, row.Opacity)
	}
	err := tw.Flush()
	return cw.n, err
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
