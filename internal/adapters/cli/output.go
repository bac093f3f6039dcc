package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"cardops/internal/app"
	"cardops/internal/core"
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func rule(w io.Writer, ch string) {
	fmt.Fprintln(w, strings.Repeat(ch, 72))
}

func printBatch(w io.Writer, report *core.BatchReport) {
	s := report.Summary

	fmt.Fprintln(w)
	rule(w, "=")
	fmt.Fprintf(w, "  BATCH %s\n", report.BatchID)
	rule(w, "=")
	for _, o := range report.Outcomes {
		if o.State == core.StateRejected {
			fmt.Fprintf(w, "  row %-5d REJECTED (%s) %s\n", o.Line, o.Stage, o.Reason)
			continue
		}
		for _, warn := range o.Warnings {
			fmt.Fprintf(w, "  row %-5d WARNING  %s\n", o.Line, warn)
		}
	}
	rule(w, "-")
	fmt.Fprintf(w, "  %-22s %d\n", "Processed", s.Processed)
	fmt.Fprintf(w, "  %-22s %d\n", "Persisted", s.Persisted)
	fmt.Fprintf(w, "  %-22s %d (%.0f%%)\n", "Rejected", s.Rejected, s.RejectionRate()*100)
	if s.Rejected > 0 {
		st := s.RejectedByStage
		fmt.Fprintf(w, "    validating %d, matching %d, accounting %d, persisting %d, cancelled %d\n",
			st.Validating, st.Matching, st.Accounting, st.Persisting, st.Cancelled)
	}
	fmt.Fprintf(w, "  %-22s %d\n", "Fuzzy matches", s.FuzzyMatches)
	fmt.Fprintf(w, "  %-22s %d\n", "Duplicate suspects", s.DuplicateSuspects)
	fmt.Fprintf(w, "  %-22s %d synced, %d skipped, %d failed\n", "Storefront", s.Synced, s.SyncSkipped, s.SyncWarnings)
	fmt.Fprintf(w, "  %-22s %d\n", "Units added", s.TotalQuantity)
	fmt.Fprintf(w, "  %-22s $%s\n", "Total cost", s.TotalCost.StringFixed(2))
	fmt.Fprintf(w, "  %-22s $%s\n", "Total value", s.TotalValue.StringFixed(2))
	rule(w, "=")
}

func printOutcome(w io.Writer, o core.Outcome) {
	if o.State == core.StateRejected {
		fmt.Fprintf(w, "Rejected at %s: %s\n", o.Stage, o.Reason)
		return
	}
	p := o.Persisted
	fmt.Fprintf(w, "Recorded %d x %s (%s %s #%s) @ $%s\n",
		p.Transaction.Quantity, o.Match.Card.Name, p.Variant.Condition, o.Match.Card.SetCode, o.Match.Card.Number,
		p.Transaction.UnitCost.StringFixed(2))
	fmt.Fprintf(w, "  stock %d -> %d, cost basis $%s -> $%s\n",
		p.Before.Quantity, p.After.Quantity, p.Before.CostBasisAvg.StringFixed(2), p.After.CostBasisAvg.StringFixed(2))
	for _, warn := range o.Warnings {
		fmt.Fprintf(w, "  warning: %s\n", warn)
	}
}

func printStock(w io.Writer, res *app.StockResult) {
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  %-6s %-32s %-8s %-6s %-4s %6s %10s %10s\n", "ID", "CARD", "SET", "NO", "COND", "QTY", "COST", "PRICE")
	rule(w, "-")
	for _, l := range res.Levels {
		fmt.Fprintf(w, "  %-6d %-32s %-8s %-6s %-4s %6d %10s %10s\n",
			l.VariantID, truncate(l.CardName, 32), l.SetCode, l.Number, l.Condition, l.OnHand,
			l.CostBasisAvg.StringFixed(2), l.PriceCAD.StringFixed(2))
	}
	rule(w, "-")
	fmt.Fprintf(w, "  %d variant(s), %d unit(s) on hand\n", len(res.Levels), res.TotalUnits)
}

func printHistory(w io.Writer, res *app.HistoryResult) {
	fmt.Fprintf(w, "\n  Variant %d\n", res.VariantID)
	rule(w, "-")
	for _, t := range res.Transactions {
		fmt.Fprintf(w, "  %s  %-8s %5d @ %9s  %-9s %s\n",
			t.CreatedAt.Format("2006-01-02 15:04"), t.Type, t.Quantity, t.UnitCost.StringFixed(2), t.Source, t.Note)
	}
	if len(res.Transactions) == 0 {
		fmt.Fprintln(w, "  no transactions")
	}
}

func printReconcile(w io.Writer, r *core.ReconcileReport) {
	mode := "APPLIED"
	if r.DryRun {
		mode = "DRY RUN"
	}
	fmt.Fprintf(w, "\n  Storefront reconcile (%s)\n", mode)
	rule(w, "-")
	for _, d := range r.Drifted {
		mark := " "
		if d.Applied {
			mark = "*"
		}
		fmt.Fprintf(w, "  %s %-14s %-32s %-4s db %4d  shop %4d\n",
			mark, d.SKU, truncate(d.CardName, 32), d.Condition, d.Database, d.Storefront)
	}
	for _, e := range r.Errors {
		fmt.Fprintf(w, "  ! variant %d (%s): %s\n", e.VariantID, e.ExternalID, e.Message)
	}
	rule(w, "-")
	fmt.Fprintf(w, "  checked %d, in sync %d, drifted %d, updated %d, errors %d\n",
		r.Checked, r.InSync, len(r.Drifted), r.Updated, len(r.Errors))
}

func printPrices(w io.Writer, r *core.PriceReport) {
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  %-22s %d\n", "Cards", r.Cards)
	fmt.Fprintf(w, "  %-22s %d (%d variants)\n", "Updated", r.CardsUpdated, r.VariantsUpdated)
	fmt.Fprintf(w, "  %-22s %d up, %d down\n", "Moves", r.Increases, r.Decreases)
	fmt.Fprintf(w, "  %-22s %d\n", "Unchanged", r.NoChange)
	fmt.Fprintf(w, "  %-22s %d\n", "Failed", r.Failed)
	fmt.Fprintf(w, "  %-22s %d\n", "Storefront pushes", r.StorefrontSynced)
	if len(r.BigChanges) > 0 {
		fmt.Fprintln(w, "\n  Big changes:")
		for _, c := range r.BigChanges {
			fmt.Fprintf(w, "    %-32s %-4s $%s -> $%s\n", truncate(c.CardName, 32), c.Condition, c.Old.StringFixed(2), c.New.StringFixed(2))
		}
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
