// Command bitchestctl administers a wallet engine database directly:
// provisioning accounts, seeding prices and inspecting wallets.
package main

import (
	"context"
	"flag"
	"os"
	"path"

	"github.com/google/subcommands"
	"github.com/redis/go-redis/v9"

	"github.com/bitchest/wallet-engine/internal/asset"
	"github.com/bitchest/wallet-engine/internal/config"
	"github.com/bitchest/wallet-engine/internal/notify"
	"github.com/bitchest/wallet-engine/internal/price"
	"github.com/bitchest/wallet-engine/internal/store"
	"github.com/bitchest/wallet-engine/internal/trade"
)

var configPath = flag.String("config", ".", "Directory holding config.yaml and .env")

func main() {
	commander := subcommands.NewCommander(flag.CommandLine, path.Base(os.Args[0]))
	commander.Register(commander.HelpCommand(), "")
	commander.Register(commander.FlagsCommand(), "")
	commander.Register(commander.CommandsCommand(), "")
	register(commander)

	flag.Parse()
	os.Exit(int(commander.Execute(context.Background())))
}

// register adds the bitchestctl subcommands.
func register(c *subcommands.Commander) {
	c.Register(&provisionCmd{}, "accounts")
	c.Register(&removeCmd{}, "accounts")
	c.Register(&accountsCmd{}, "accounts")

	c.Register(&priceCmd{}, "prices")
	c.Register(&assetsCmd{}, "prices")

	c.Register(&portfolioCmd{}, "wallets")
	c.Register(&historyCmd{}, "wallets")
}

// openService builds a trade service over the configured store. The
// returned close function releases the store and the Redis client.
func openService(ctx context.Context) (*trade.Service, func(), error) {
	cfg, err := config.Load(*configPath)
	if err != nil {
		return nil, nil, err
	}

	// The server's cache must be invalidated by our writes too.
	var rdb *redis.Client
	if cfg.Redis.URL != "" {
		opt, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return nil, nil, err
		}
		rdb = redis.NewClient(opt)
	}

	st, err := store.Open(ctx, cfg, rdb)
	if err != nil {
		if rdb != nil {
			rdb.Close()
		}
		return nil, nil, err
	}

	catalog := asset.DefaultCatalog()
	if cfg.Assets.File != "" {
		if catalog, err = asset.LoadCatalog(cfg.Assets.File); err != nil {
			st.Close()
			return nil, nil, err
		}
	}

	opts := []trade.Option{trade.WithInitialBalance(cfg.Trading.InitialBalance)}
	if rdb != nil {
		opts = append(opts, trade.WithNotifier(notify.NewRedisPublisher(rdb)))
	}
	svc := trade.NewService(st, price.NewStoreFeed(st, cfg.Trading.PriceMaxAge), catalog, opts...)

	closeFn := func() {
		st.Close()
		if rdb != nil {
			rdb.Close()
		}
	}
	return svc, closeFn, nil
}
