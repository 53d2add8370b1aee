package main

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	"github.com/gitsrc/multiway/config"
	"github.com/gitsrc/multiway/metrics"
	"github.com/gitsrc/multiway/pool"
)

// session is the toy resource this demo pools: a simulated handle to an
// expensive per-category connection. Real embedders supply their own
// Loader returning whatever is actually expensive to create (a DB
// session, a compiled template, a socket).
type session struct {
	category string
	opened   time.Time
}

func main() {
	app := cli.NewApp()
	app.Name = "multiwayctl"
	app.Usage = "demo CLI exercising the multiway resource pool"

	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "config, c",
			Usage: "pool config file path",
		},
		cli.StringFlag{
			Name:  "log, l",
			Usage: "log level: debug,info,warning,error",
			Value: "info",
		},
	}

	var p *pool.Pool
	recorder := metrics.New(prometheus.NewRegistry())

	app.Before = func(c *cli.Context) error {
		log.SetFlags(log.Llongfile)
		lv, err := logrus.ParseLevel(c.String("log"))
		if err != nil {
			return err
		}
		logrus.SetLevel(lv)

		cfg := config.DefaultPoolConfig()
		if path := c.String("config"); path != "" {
			loaded, err := config.Load(path)
			if err != nil {
				return err
			}
			cfg = *loaded
		}

		builder := pool.NewBuilder().
			WithLoader(func(category interface{}) (interface{}, error) {
				logrus.Infof("creating session for %v", category)
				return &session{category: fmt.Sprint(category), opened: time.Now()}, nil
			}).
			WithMetrics(recorder)

		if cfg.MaximumWeight > 0 {
			builder = builder.MaximumWeight(cfg.MaximumWeight, func(_ interface{}, _ interface{}) uint32 { return 1 })
		} else if cfg.MaximumSize > 0 {
			builder = builder.MaximumSize(cfg.MaximumSize)
		}
		if cfg.ExpireAfterAccess > 0 {
			builder = builder.ExpireAfterAccess(cfg.ExpireAfterAccess)
		}
		if cfg.ExpireAfterWrite > 0 {
			builder = builder.ExpireAfterWrite(cfg.ExpireAfterWrite)
		}

		built, err := builder.Build()
		if err != nil {
			return err
		}
		p = built
		return nil
	}

	app.Commands = []cli.Command{
		{
			Name:  "borrow",
			Usage: "borrow and immediately release a resource for a category",
			Action: func(c *cli.Context) error {
				category := c.Args().First()
				if category == "" {
					return fmt.Errorf("usage: multiwayctl borrow <category>")
				}
				h, err := p.Borrow(category)
				if err != nil {
					return err
				}
				defer h.Release()
				r, err := h.Get()
				if err != nil {
					return err
				}
				s := r.(*session)
				fmt.Printf("borrowed session for %s opened at %s\n", s.category, s.opened.Format(time.RFC3339))
				return nil
			},
		},
		{
			Name:  "stats",
			Usage: "print pool size",
			Action: func(c *cli.Context) error {
				p.CleanUp()
				fmt.Printf("cache size: %d\n", p.Size())
				return nil
			},
		},
	}

	app.After = func(c *cli.Context) error {
		if p == nil {
			return nil
		}
		s := recorder.Snapshot()
		fmt.Printf("multiway_pool_borrows_total %.0f\n", s.Borrows)
		fmt.Printf("multiway_pool_releases_total %.0f\n", s.Releases)
		fmt.Printf("multiway_pool_creates_total %.0f\n", s.Creates)
		fmt.Printf("multiway_pool_removals_total %.0f\n", s.Removals)
		fmt.Printf("multiway_pool_handoffs_total %.0f\n", s.Handoffs)
		fmt.Printf("multiway_pool_cache_size %.0f\n", s.CacheSize)
		p.Close()
		return nil
	}

	if err := app.Run(os.Args); err != nil {
		logrus.WithError(err).Fatal("multiwayctl failed")
	}
}
