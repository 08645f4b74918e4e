package notifier

import (
	"fmt"
	"html"
	"sort"
	"strings"

	"LegSentinel/internal/model"
)

// FormatEntry describes a newly opened leg.
func FormatEntry(leg model.Leg) string {
	return fmt.Sprintf("%s <code>%s</code>\nSELL %d @ %.2f\nSL %.0f%% | Target %.0f%%",
		leg.ID, html.EscapeString(leg.Symbol), leg.Quantity, leg.EntryPrice, leg.SLPercent, leg.TargetPercent)
}

// FormatExit describes a closed leg.
func FormatExit(e model.ExitRecord) string {
	return fmt.Sprintf("%s <code>%s</code> %s\nentry %.2f exit %.2f x %d\nPnL: %+.2f",
		e.LegID, html.EscapeString(e.Symbol), e.Status, e.EntryPrice, e.ExitPrice, e.Quantity, e.PnL)
}

// FormatSummary renders the end-of-session report.
func FormatSummary(s *model.Summary) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("Session %s finished: %s\n\n", s.Date, s.Reason))
	b.WriteString(fmt.Sprintf("Booked PnL: %+.2f\n", s.BookedPnL))
	if s.LockLevel > 0 {
		b.WriteString(fmt.Sprintf("Profit lock: %.0f\n", s.LockLevel))
	}
	b.WriteString(fmt.Sprintf("Entered: %s\n", strings.Join(s.TradeHistory, ", ")))
	b.WriteString(fmt.Sprintf("Recoveries: %d started, %d opened, %d skipped\n",
		s.RecoveriesStarted, s.RecoveriesOpened, s.RecoveriesSkipped))
	if len(s.Exits) > 0 {
		b.WriteString("\n<b>Legs</b>\n")
		for _, e := range s.Exits {
			b.WriteString(fmt.Sprintf("  %s %s %+.2f\n", e.LegID, e.Status, e.PnL))
		}
	}
	return b.String()
}

// FormatStatus renders the /status reply.
func FormatStatus(s model.Status) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("📊 <b>LegSentinel</b> | %s\n\n", s.Date))
	if s.Spot > 0 {
		b.WriteString(fmt.Sprintf("Spot: %.2f\n", s.Spot))
	}
	b.WriteString(fmt.Sprintf("Open legs: %d\n", len(s.OpenLegs)))
	b.WriteString(fmt.Sprintf("Completed: %s\n", joinOrDash(s.CompletedLegs)))
	var pending []string
	for id, p := range s.RecoveryPending {
		if p {
			pending = append(pending, id)
		}
	}
	sort.Strings(pending)
	b.WriteString(fmt.Sprintf("Recovery pending: %s\n", joinOrDash(pending)))
	for _, r := range s.Recoveries {
		if r.Sampled {
			b.WriteString(fmt.Sprintf("  %s waiting on <code>%s</code> from %.2f\n", r.Origin, html.EscapeString(r.Symbol), r.Trigger))
		}
	}
	b.WriteString(fmt.Sprintf("MTM: %+.2f | Lock: %.0f\n", s.MTM, s.LockLevel))
	switch {
	case s.Finished:
		b.WriteString("\nSession finished ✅")
	case s.Halted:
		b.WriteString("\nMonitoring halted")
	}
	return b.String()
}

// FormatLegs renders the /legs reply.
func FormatLegs(s model.Status) string {
	if len(s.OpenLegs) == 0 {
		return "No open legs"
	}
	var b strings.Builder
	b.WriteString("<b>Open legs</b>\n")
	for _, l := range s.OpenLegs {
		b.WriteString(fmt.Sprintf("\n%s <code>%s</code> x %d\nentry %.2f last %.2f\nSL %.2f target %.2f\n",
			l.ID, html.EscapeString(l.Symbol), l.Quantity, l.EntryPrice, l.LastPrice, l.StopLoss, l.Target))
	}
	return b.String()
}

// FormatPnL renders the /pnl reply.
func FormatPnL(s model.Status) string {
	return fmt.Sprintf("Booked: %+.2f\nMTM: %+.2f\nLock: %.0f", s.BookedPnL, s.MTM, s.LockLevel)
}

func joinOrDash(v []string) string {
	if len(v) == 0 {
		return "-"
	}
	return strings.Join(v, ", ")
}
