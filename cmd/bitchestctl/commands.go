package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/subcommands"
	"github.com/shopspring/decimal"

	"github.com/bitchest/wallet-engine/internal/report"
	"github.com/bitchest/wallet-engine/internal/trade"
)

// errUsage marks a missing or malformed flag.
var errUsage = errors.New("usage error")

// runner is the body of a subcommand, separated from Execute so it can run
// against any service.
type runner interface {
	run(ctx context.Context, svc *trade.Service, w io.Writer) error
}

// execute opens the service, runs r and maps the outcome to an exit status.
func execute(ctx context.Context, r runner) subcommands.ExitStatus {
	svc, closeFn, err := openService(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitFailure
	}
	defer closeFn()

	if err := r.run(ctx, svc, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if errors.Is(err, errUsage) {
			return subcommands.ExitUsageError
		}
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printMarkdown renders md for the terminal, or writes it raw.
func printMarkdown(w io.Writer, md string, raw bool) error {
	if raw {
		_, err := io.WriteString(w, md)
		return err
	}
	out, err := report.Render(md, 100)
	if err != nil {
		return err
	}
	_, err = io.WriteString(w, out)
	return err
}

// --- accounts ---

type provisionCmd struct {
	user string
}

func (*provisionCmd) Name() string     { return "provision" }
func (*provisionCmd) Synopsis() string { return "create a client account with the initial balance" }
func (*provisionCmd) Usage() string {
	return `bitchestctl provision -u <user>

  Creates the wallet of a client user, credited with the initial cash balance.
`
}

func (c *provisionCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.user, "u", "", "User id of the client")
}

func (c *provisionCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return execute(ctx, c)
}

func (c *provisionCmd) run(ctx context.Context, svc *trade.Service, w io.Writer) error {
	if c.user == "" {
		return fmt.Errorf("%w: -u is required", errUsage)
	}
	acct, err := svc.Provision(ctx, trade.ProvisionRequest{UserID: c.user})
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "provisioned %s with %s\n", acct.UserID, report.FormatEUR(acct.CashBalance))
	return nil
}

type removeCmd struct {
	user string
}

func (*removeCmd) Name() string     { return "remove" }
func (*removeCmd) Synopsis() string { return "delete a client account and its ledger" }
func (*removeCmd) Usage() string {
	return `bitchestctl remove -u <user>

  Deletes the wallet of a client user together with every transaction.
`
}

func (c *removeCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.user, "u", "", "User id of the client")
}

func (c *removeCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return execute(ctx, c)
}

func (c *removeCmd) run(ctx context.Context, svc *trade.Service, w io.Writer) error {
	if c.user == "" {
		return fmt.Errorf("%w: -u is required", errUsage)
	}
	if err := svc.Deprovision(ctx, c.user); err != nil {
		return err
	}
	fmt.Fprintf(w, "removed %s\n", c.user)
	return nil
}

type accountsCmd struct {
	json bool
}

func (*accountsCmd) Name() string     { return "accounts" }
func (*accountsCmd) Synopsis() string { return "list client accounts" }
func (*accountsCmd) Usage() string {
	return `bitchestctl accounts [-json]

  Lists every client account with its cash balance.
`
}

func (c *accountsCmd) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&c.json, "json", false, "Print JSON instead of text")
}

func (c *accountsCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return execute(ctx, c)
}

func (c *accountsCmd) run(ctx context.Context, svc *trade.Service, w io.Writer) error {
	accounts, err := svc.Accounts(ctx)
	if err != nil {
		return err
	}
	if c.json {
		return printJSON(w, accounts)
	}
	for _, a := range accounts {
		fmt.Fprintf(w, "%-24s %16s\n", a.UserID, report.FormatEUR(a.CashBalance))
	}
	return nil
}

// --- prices ---

type priceCmd struct {
	asset string
	price string
	at    string
}

func (*priceCmd) Name() string     { return "price" }
func (*priceCmd) Synopsis() string { return "record a quote for an asset" }
func (*priceCmd) Usage() string {
	return `bitchestctl price -a <asset> -p <price> [-t <RFC3339 time>]

  Records the EUR price of an asset. Trades use the latest recorded quote.
`
}

func (c *priceCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.asset, "a", "", "Asset id, e.g. BTC")
	f.StringVar(&c.price, "p", "", "Unit price in EUR")
	f.StringVar(&c.at, "t", "", "Quote time (defaults to now)")
}

func (c *priceCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return execute(ctx, c)
}

func (c *priceCmd) run(ctx context.Context, svc *trade.Service, w io.Writer) error {
	if c.asset == "" || c.price == "" {
		return fmt.Errorf("%w: -a and -p are required", errUsage)
	}
	p, err := decimal.NewFromString(c.price)
	if err != nil {
		return fmt.Errorf("%w: -p: %v", errUsage, err)
	}
	req := trade.PriceRequest{AssetID: c.asset, Price: p}
	if c.at != "" {
		if req.At, err = time.Parse(time.RFC3339, c.at); err != nil {
			return fmt.Errorf("%w: -t: %v", errUsage, err)
		}
	}

	point, err := svc.RecordPrice(ctx, req)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "%s %s at %s\n", point.AssetID, report.FormatEUR(point.Price), point.At.Format(time.RFC3339))
	return nil
}

type assetsCmd struct{}

func (*assetsCmd) Name() string     { return "assets" }
func (*assetsCmd) Synopsis() string { return "list tradable assets with their current price" }
func (*assetsCmd) Usage() string {
	return `bitchestctl assets

  Lists the asset catalog and the latest quote of each asset.
`
}

func (*assetsCmd) SetFlags(*flag.FlagSet) {}

func (c *assetsCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return execute(ctx, c)
}

func (c *assetsCmd) run(ctx context.Context, svc *trade.Service, w io.Writer) error {
	quotes, err := svc.Quotes(ctx)
	if err != nil {
		return err
	}
	for _, q := range quotes {
		quote := "no price"
		if q.Price.Valid {
			quote = report.FormatEUR(q.Price.Decimal)
		}
		fmt.Fprintf(w, "%-6s %-14s %s\n", q.ID, q.Name, quote)
	}
	return nil
}

// --- wallets ---

type portfolioCmd struct {
	user string
	raw  bool
	json bool
}

func (*portfolioCmd) Name() string     { return "portfolio" }
func (*portfolioCmd) Synopsis() string { return "display a client's wallet at current prices" }
func (*portfolioCmd) Usage() string {
	return `bitchestctl portfolio -u <user> [-raw | -json]

  Displays cash, open positions, their market value and profit or loss.
`
}

func (c *portfolioCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.user, "u", "", "User id of the client")
	f.BoolVar(&c.raw, "raw", false, "Print markdown without terminal rendering")
	f.BoolVar(&c.json, "json", false, "Print JSON")
}

func (c *portfolioCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return execute(ctx, c)
}

func (c *portfolioCmd) run(ctx context.Context, svc *trade.Service, w io.Writer) error {
	if c.user == "" {
		return fmt.Errorf("%w: -u is required", errUsage)
	}
	p, err := svc.Portfolio(ctx, c.user)
	if err != nil {
		return err
	}
	if c.json {
		return printJSON(w, p)
	}
	return printMarkdown(w, report.PortfolioMarkdown(*p), c.raw)
}

type historyCmd struct {
	user  string
	asset string
	raw   bool
}

func (*historyCmd) Name() string     { return "history" }
func (*historyCmd) Synopsis() string { return "list a client's transactions" }
func (*historyCmd) Usage() string {
	return `bitchestctl history -u <user> [-a <asset>] [-raw]

  Lists the ledger of a client in replay order.
`
}

func (c *historyCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.user, "u", "", "User id of the client")
	f.StringVar(&c.asset, "a", "", "Only show this asset")
	f.BoolVar(&c.raw, "raw", false, "Print markdown without terminal rendering")
}

func (c *historyCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return execute(ctx, c)
}

func (c *historyCmd) run(ctx context.Context, svc *trade.Service, w io.Writer) error {
	if c.user == "" {
		return fmt.Errorf("%w: -u is required", errUsage)
	}
	entries, err := svc.History(ctx, c.user, c.asset)
	if err != nil {
		return err
	}
	return printMarkdown(w, report.LedgerMarkdown(entries), c.raw)
}
