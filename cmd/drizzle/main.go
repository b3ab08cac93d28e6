package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/drizzle-bt/drizzle/internal/logger"
	"github.com/drizzle-bt/drizzle/rpcclient"
	"github.com/drizzle-bt/drizzle/torrent"
	"github.com/urfave/cli"
)

var (
	log = logger.New("drizzle")
	clt *rpcclient.Client
)

func main() {
	app := cli.NewApp()
	app.Name = "drizzle"
	app.Usage = "BitTorrent client"
	app.Version = torrent.Version
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "config, c",
			Usage: "read config from `FILE`",
			Value: "~/drizzle/config.yaml",
		},
		cli.BoolFlag{
			Name:  "debug, d",
			Usage: "enable debug log",
		},
	}
	app.Before = func(c *cli.Context) error {
		logger.SetDebug(c.GlobalBool("debug"))
		return nil
	}
	app.Commands = []cli.Command{
		{
			Name:   "server",
			Usage:  "run session with RPC server",
			Action: handleServer,
		},
		{
			Name:      "download",
			Usage:     "download a torrent, magnet link or URL without a server",
			ArgsUsage: "URI",
			Flags: []cli.Flag{
				cli.StringFlag{
					Name:  "dest",
					Usage: "download files into `DIR`",
					Value: ".",
				},
				cli.BoolFlag{
					Name:  "seed",
					Usage: "continue seeding after download finishes",
				},
			},
			Action: handleDownload,
		},
		{
			Name:  "client",
			Usage: "send a command to a running server",
			Flags: []cli.Flag{
				cli.StringFlag{
					Name:  "host",
					Usage: "server host",
					Value: torrent.DefaultConfig.RPCHost,
				},
				cli.IntFlag{
					Name:  "port",
					Usage: "server port",
					Value: torrent.DefaultConfig.RPCPort,
				},
			},
			Before:      handleBeforeClient,
			After:       handleAfterClient,
			Subcommands: clientCommands,
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig(c *cli.Context) (*torrent.Config, error) {
	cfg, err := torrent.LoadConfig(c.GlobalString("config"))
	if err != nil {
		return nil, err
	}
	if c.GlobalBool("debug") {
		cfg.Debug = true
	}
	return cfg, nil
}

func handleServer(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	ses, err := torrent.NewSession(*cfg)
	if err != nil {
		return err
	}
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	s := <-sig
	log.Infof("received %s, stopping server", s)
	return ses.Close()
}
