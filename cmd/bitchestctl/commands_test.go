package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"strings"
	"testing"

	"github.com/google/subcommands"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bitchest/wallet-engine/internal/asset"
	"github.com/bitchest/wallet-engine/internal/model"
	"github.com/bitchest/wallet-engine/internal/price"
	"github.com/bitchest/wallet-engine/internal/store"
	"github.com/bitchest/wallet-engine/internal/trade"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newTestService(t *testing.T) *trade.Service {
	t.Helper()
	ms := store.NewMemoryStore()
	return trade.NewService(ms, price.NewStoreFeed(ms, 0), asset.DefaultCatalog())
}

func runCmd(t *testing.T, svc *trade.Service, r runner) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	err := r.run(context.Background(), svc, &buf)
	return buf.String(), err
}

func TestCommands_Workflow(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	out, err := runCmd(t, svc, &provisionCmd{user: "client-1"})
	require.NoError(t, err)
	assert.Contains(t, out, "provisioned client-1")

	_, err = runCmd(t, svc, &priceCmd{asset: "btc", price: "100"})
	require.NoError(t, err)

	_, err = svc.Buy(ctx, trade.Request{UserID: "client-1", AssetID: "BTC", Quantity: dec("2")})
	require.NoError(t, err)

	out, err = runCmd(t, svc, &portfolioCmd{user: "client-1", json: true})
	require.NoError(t, err)
	var p model.Portfolio
	require.NoError(t, json.Unmarshal([]byte(out), &p))
	assert.True(t, p.CashBalance.Equal(dec("300")))
	require.Len(t, p.Holdings, 1)

	out, err = runCmd(t, svc, &portfolioCmd{user: "client-1", raw: true})
	require.NoError(t, err)
	assert.Contains(t, out, "| BTC | 2 |")

	out, err = runCmd(t, svc, &historyCmd{user: "client-1", raw: true})
	require.NoError(t, err)
	assert.Contains(t, out, "| buy | BTC | 2 |")

	out, err = runCmd(t, svc, &accountsCmd{})
	require.NoError(t, err)
	assert.Contains(t, out, "client-1")

	out, err = runCmd(t, svc, &assetsCmd{})
	require.NoError(t, err)
	assert.Equal(t, 10, strings.Count(out, "\n"))
	assert.Contains(t, out, "no price")

	_, err = runCmd(t, svc, &removeCmd{user: "client-1"})
	require.NoError(t, err)
	_, err = runCmd(t, svc, &portfolioCmd{user: "client-1", json: true})
	assert.ErrorIs(t, err, store.ErrAccountNotFound)
}

func TestCommands_UsageErrors(t *testing.T) {
	svc := newTestService(t)

	for _, r := range []runner{
		&provisionCmd{},
		&removeCmd{},
		&priceCmd{asset: "BTC"},
		&priceCmd{asset: "BTC", price: "abc"},
		&priceCmd{asset: "BTC", price: "10", at: "yesterday"},
		&portfolioCmd{},
		&historyCmd{},
	} {
		_, err := runCmd(t, svc, r)
		assert.ErrorIs(t, err, errUsage, "%T", r)
	}
}

func TestRegister(t *testing.T) {
	fs := flag.NewFlagSet("bitchestctl", flag.ContinueOnError)
	c := subcommands.NewCommander(fs, "bitchestctl")
	register(c)

	var names []string
	c.VisitCommands(func(_ *subcommands.CommandGroup, cmd subcommands.Command) {
		names = append(names, cmd.Name())
	})
	assert.ElementsMatch(t, []string{"provision", "remove", "accounts", "price", "assets", "portfolio", "history"}, names)
}
