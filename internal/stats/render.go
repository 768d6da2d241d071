package stats

import (
	"fmt"
	"io"
	"strings"
)

// Render 以文本形式输出报告
func Render(w io.Writer, r Report) error {
	var b strings.Builder
	line := strings.Repeat("=", 60)

	fmt.Fprintln(&b, line)
	fmt.Fprintln(&b, "MONITORING STATISTICS")
	fmt.Fprintln(&b, line)
	if r.LastUpdated != nil {
		fmt.Fprintf(&b, "Last updated: %s\n", r.LastUpdated.Local().Format("2006-01-02 15:04:05"))
	}
	fmt.Fprintf(&b, "Source: %s\n", r.Source)
	if r.Partial {
		fmt.Fprintln(&b, "Partial report: only success counts are available")
	}
	fmt.Fprintf(&b, "Total successful pings: %d\n", r.Totals.Successes)
	fmt.Fprintf(&b, "Services monitored: %d\n", r.Totals.Targets)
	if !r.Partial {
		fmt.Fprintf(&b, "Total probes: %d (failures: %d, success rate: %.2f%%)\n",
			r.Totals.Total, r.Totals.Failures, r.Totals.SuccessRate*100)
	}

	fmt.Fprintln(&b, "\nPer service:")
	for _, t := range r.Targets {
		label := t.Name
		if !t.Configured {
			label += " [not configured]"
		}
		fmt.Fprintf(&b, "  %s (%s):\n", label, t.Key)
		fmt.Fprintf(&b, "    Successful pings: %d\n", t.Successes)
		if r.Partial {
			continue
		}
		fmt.Fprintf(&b, "    Probes: %d, failures: %d, success rate: %.2f%%\n", t.Total, t.Failures, t.SuccessRate*100)
		fmt.Fprintf(&b, "    Latency mean: %s, p%g: %s\n", formatMs(t.MeanLatencyMs), r.Percentile, formatMs(t.PercentileLatencyMs))
		fmt.Fprintf(&b, "    Failure streak: longest %d, current %d\n", t.LongestFailureStreak, t.CurrentFailureStreak)
		if t.FirstSeen != nil && t.LastSeen != nil {
			fmt.Fprintf(&b, "    Seen: %s .. %s\n",
				t.FirstSeen.Local().Format("2006-01-02 15:04:05"), t.LastSeen.Local().Format("2006-01-02 15:04:05"))
		}
	}
	fmt.Fprintln(&b, line)

	_, err := io.WriteString(w, b.String())
	return err
}

func formatMs(v *float64) string {
	if v == nil {
		return "n/a"
	}
	return fmt.Sprintf("%.1fms", *v)
}
