// Package report renders wallets and ledgers as markdown for terminals and
// chat-style clients.
package report

import (
	"fmt"
	"strings"

	"github.com/Rhymond/go-money"
	"github.com/charmbracelet/glamour"
	"github.com/shopspring/decimal"

	"github.com/bitchest/wallet-engine/internal/model"
	"github.com/bitchest/wallet-engine/internal/wallet"
)

var eur = money.GetCurrency(money.EUR)

// FormatEUR formats amount as euros, rounded to the cent.
func FormatEUR(amount decimal.Decimal) string {
	cents := amount.Round(int32(eur.Fraction)).Shift(int32(eur.Fraction))
	return eur.Formatter().Format(cents.IntPart())
}

// SignedEUR is FormatEUR with an explicit sign. Zero renders as "-".
func SignedEUR(amount decimal.Decimal) string {
	switch {
	case amount.Round(2).IsZero():
		return "-"
	case amount.IsPositive():
		return "+" + FormatEUR(amount)
	default:
		return FormatEUR(amount)
	}
}

// PortfolioMarkdown renders p as a holdings table followed by the totals.
func PortfolioMarkdown(p model.Portfolio) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Wallet of %s\n\n", p.UserID)
	fmt.Fprintf(&b, "_As of %s_\n\n", p.AsOf.Format("2006-01-02 15:04 MST"))

	if len(p.Holdings) == 0 {
		b.WriteString("No open positions.\n\n")
	} else {
		b.WriteString("| Asset | Quantity | Avg. price | Price | Value | P/L |\n")
		b.WriteString("|:--|--:|--:|--:|--:|--:|\n")
		for _, h := range p.Holdings {
			fmt.Fprintf(&b, "| %s | %s | %s | %s | %s | %s |\n",
				h.AssetID,
				h.Quantity.String(),
				FormatEUR(h.AveragePrice),
				FormatEUR(h.CurrentPrice),
				FormatEUR(h.CurrentValue),
				SignedEUR(h.ProfitLoss),
			)
		}
		b.WriteString("\n")
	}

	b.WriteString("| | |\n|:--|--:|\n")
	fmt.Fprintf(&b, "| Cash | %s |\n", FormatEUR(p.CashBalance))
	fmt.Fprintf(&b, "| Holdings | %s |\n", FormatEUR(p.HoldingsValue))
	fmt.Fprintf(&b, "| **Total** | **%s** |\n", FormatEUR(p.TotalBalance))
	fmt.Fprintf(&b, "| Unrealized P/L | %s |\n", SignedEUR(p.TotalProfitLoss))
	return b.String()
}

// LedgerMarkdown renders entries in the order given. The amount column is
// the cash actually moved, rounded the way settlement rounds it.
func LedgerMarkdown(entries []model.LedgerEntry) string {
	var b strings.Builder
	b.WriteString("| Date | Type | Asset | Quantity | Unit price | Amount |\n")
	b.WriteString("|:--|:--|:--|--:|--:|--:|\n")
	for _, e := range entries {
		fmt.Fprintf(&b, "| %s | %s | %s | %s | %s | %s |\n",
			e.Timestamp.Format("2006-01-02 15:04"),
			e.Type,
			e.AssetID,
			e.Quantity.String(),
			FormatEUR(e.UnitPrice),
			FormatEUR(settled(e)),
		)
	}
	return b.String()
}

// settled is the cash debited for a buy or credited for a sell.
func settled(e model.LedgerEntry) decimal.Decimal {
	if e.Type == model.Buy {
		return wallet.BuyCost(e.Quantity, e.UnitPrice)
	}
	return wallet.SellProceeds(e.Quantity, e.UnitPrice)
}

// Render formats markdown for a terminal of the given width.
func Render(md string, width int) (string, error) {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return "", err
	}
	return r.Render(md)
}
