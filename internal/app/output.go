package app

import (
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"text/tabwriter"
	"time"

	"golang.org/x/term"

	"github.com/fpt/kanoa/pkg/domain"
	"github.com/fpt/kanoa/pkg/interpreter"
	"github.com/fpt/kanoa/pkg/pricing"
	"github.com/fpt/kanoa/pkg/usage"
)

// UseColor reports whether w is a terminal.
func UseColor(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// WriteResponseHeader writes a standardized response header to w.
// When colored is true, prints in bright cyan; otherwise plain text.
func WriteResponseHeader(w io.Writer, backend, model string, colored bool) {
	if w == nil {
		return
	}
	if colored {
		fmt.Fprintf(w, "\x1b[36mkanoa · %s (%s)\x1b[0m\n", backend, model)
	} else {
		fmt.Fprintf(w, "kanoa · %s (%s)\n", backend, model)
	}
}

// WriteCostLine writes the one-line cost footer of a result.
func WriteCostLine(w io.Writer, res *interpreter.InterpretationResult, colored bool) {
	u := res.Usage
	var b strings.Builder
	fmt.Fprintf(&b, "%d in / %d out tokens", u.InputTokens, u.OutputTokens)
	if u.CachedTokens > 0 {
		fmt.Fprintf(&b, " (%d cached)", u.CachedTokens)
	}
	fmt.Fprintf(&b, " · $%.4f", u.Cost)
	if u.Savings > 0 {
		fmt.Fprintf(&b, " · saved $%.4f", u.Savings)
	}
	switch {
	case res.CacheCreated:
		b.WriteString(" · cache created")
	case res.CacheUsed:
		b.WriteString(" · cache hit")
	}

	if colored {
		fmt.Fprintf(w, "\x1b[90m%s\x1b[0m\n", b.String())
	} else {
		fmt.Fprintln(w, b.String())
	}
	for _, warn := range res.Warnings {
		fmt.Fprintf(w, "warning: %s\n", warn)
	}
}

// WriteResult writes header, text and cost footer.
func WriteResult(w io.Writer, res *interpreter.InterpretationResult, colored bool) {
	WriteResponseHeader(w, res.Backend, res.Model, colored)
	fmt.Fprintln(w, strings.TrimRight(res.Text, "\n"))
	fmt.Fprintln(w)
	WriteCostLine(w, res, colored)
}

// WriteSummary writes a session summary with a per-backend breakdown.
func WriteSummary(w io.Writer, sum usage.Summary) error {
	if sum.Requests == 0 {
		_, err := fmt.Fprintln(w, "No requests recorded.")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "BACKEND\tINPUT\tCACHED\tOUTPUT\tCOST\tSAVINGS")
	backends := make([]string, 0, len(sum.ByBackend))
	for b := range sum.ByBackend {
		backends = append(backends, b)
	}
	slices.Sort(backends)
	for _, b := range backends {
		writeUsageRow(tw, b, sum.ByBackend[b])
	}
	writeUsageRow(tw, "TOTAL", sum.Total)
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "%d request(s) in session %s\n", sum.Requests, sum.SessionID)
	return err
}

func writeUsageRow(w io.Writer, label string, u domain.UsageRecord) {
	fmt.Fprintf(w, "%s\t%d\t%d\t%d\t$%.4f\t$%.4f\n",
		label, u.InputTokens, u.CachedTokens, u.OutputTokens, u.Cost, u.Savings)
}

// WriteLedgerTotals writes persisted usage grouped by backend and model.
func WriteLedgerTotals(w io.Writer, totals []usage.BackendTotal) error {
	if len(totals) == 0 {
		_, err := fmt.Fprintln(w, "No usage data found.")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "BACKEND\tMODEL\tREQUESTS\tINPUT\tCACHED\tOUTPUT\tCOST\tSAVINGS")
	var cost, savings float64
	for _, t := range totals {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%d\t$%.4f\t$%.4f\n",
			t.Backend, t.Model, t.Requests, t.Usage.InputTokens, t.Usage.CachedTokens,
			t.Usage.OutputTokens, t.Usage.Cost, t.Usage.Savings)
		cost += t.Usage.Cost
		savings += t.Usage.Savings
	}
	fmt.Fprintf(tw, "TOTAL\t\t\t\t\t\t$%.4f\t$%.4f\n", cost, savings)
	return tw.Flush()
}

// WriteCacheEntries lists provider caches with their remaining lifetime.
func WriteCacheEntries(w io.Writer, entries []*domain.CacheEntry, now time.Time) error {
	if len(entries) == 0 {
		_, err := fmt.Fprintln(w, "No active caches.")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "BACKEND\tMODEL\tTOKENS\tEXPIRES IN\tSOURCE\tHANDLE")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t%s\n",
			e.Backend, e.Model, e.Tokens, e.ExpiresAt().Sub(now).Round(time.Second),
			defaultStr(e.Source, "-"), e.Handle)
	}
	return tw.Flush()
}

// WritePricing writes the effective rates for every priced model.
func WritePricing(w io.Writer, catalog *pricing.Catalog, backend string) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "BACKEND\tMODEL\tINPUT\tCACHED\tOUTPUT\tCACHE WRITE\tMIN CACHE\tCONTEXT")
	backends := catalog.Backends()
	slices.Sort(backends)
	for _, b := range backends {
		if backend != "" && b != pricing.Family(backend) {
			continue
		}
		models := catalog.Models(b)
		slices.Sort(models)
		for _, m := range models {
			p, err := catalog.Lookup(b, m)
			if err != nil {
				continue
			}
			fmt.Fprintf(tw, "%s\t%s\t$%.3f\t$%.3f\t$%.3f\t$%.3f\t%d\t%d\n",
				b, m, p.Rates.Input, p.Rates.CachedInput, p.Rates.Output, p.Rates.CacheWrite,
				p.MinCacheTokens, p.ContextWindow)
		}
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintln(w, "Prices are USD per million tokens.")
	return err
}

func defaultStr(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
