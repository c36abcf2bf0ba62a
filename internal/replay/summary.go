package replay

import (
	"fmt"
	"io"
	"time"

	"github.com/STTM-NSU/trading-sim/internal/model"
	"github.com/fatih/color"
)

// PrintSummary writes a human readable report of res to w.
func PrintSummary(w io.Writer, res Result) {
	bold := color.New(color.Bold)
	result := color.New(color.FgGreen)
	if res.Profit < 0 {
		result = color.New(color.FgRed)
	}

	bold.Fprintf(w, "Replay %s - %s\n", res.From.Format(time.DateTime), res.To.Format(time.DateTime))
	fmt.Fprintf(w, "ticks: %d\n", res.Ticks)
	fmt.Fprintf(w, "starting cash: %.2f\n", res.StartingCash)
	fmt.Fprintf(w, "final value: %.2f (cash %.2f, invested %.2f)\n",
		res.Final.TotalValue(), res.Final.Cash, res.Final.InvestedValue())
	result.Fprintf(w, "profit: %+.2f%%\n", res.Profit)

	counts := make(map[model.OrderStatus]int)
	for _, o := range res.Orders {
		counts[o.Status]++
	}
	fmt.Fprintf(w, "orders: %d filled, %d pending, %d cancelled, %d expired, %d rejected\n",
		counts[model.Filled], counts[model.Pending], counts[model.Cancelled], counts[model.Expired], counts[model.Rejected])

	for _, m := range res.Milestones {
		c := color.New(color.FgGreen)
		if m.Percentage < 0 {
			c = color.New(color.FgRed)
		}
		c.Fprintf(w, "milestone %+g%% reached", m.Percentage)
		if m.Timestamp != nil {
			fmt.Fprintf(w, " at %s", m.Timestamp.Format(time.DateTime))
		}
		fmt.Fprintln(w)
	}

	if len(res.Curve) > 0 {
		bold.Fprintln(w, "balance,profit,ts")
		for _, p := range res.Curve {
			fmt.Fprintf(w, "%.2f,%.2f,%s\n", p.Balance, p.Profit, p.Ts.Format(time.DateOnly))
		}
	}
}
