package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/drizzle-bt/drizzle/internal/jsonutil"
	"github.com/drizzle-bt/drizzle/internal/rpctypes"
	"github.com/drizzle-bt/drizzle/rpcclient"
	"github.com/dustin/go-humanize"
	"github.com/urfave/cli"
)

var idFlag = cli.StringFlag{
	Name:     "id",
	Usage:    "torrent `ID`",
	Required: true,
}

var addFlags = []cli.Flag{
	cli.BoolFlag{
		Name:  "stopped",
		Usage: "do not start torrent after adding",
	},
	cli.IntFlag{
		Name:  "queue-priority",
		Usage: "position in download queue, higher starts first",
	},
}

var limitFlags = []cli.Flag{
	cli.StringFlag{
		Name:  "download",
		Usage: "download limit like 1MB, 0 for no limit",
		Value: "0",
	},
	cli.StringFlag{
		Name:  "upload",
		Usage: "upload limit like 500KB, 0 for no limit",
		Value: "0",
	},
}

var clientCommands = []cli.Command{
	{
		Name:   "version",
		Usage:  "server version",
		Action: clientVersion,
	},
	{
		Name:   "list",
		Usage:  "list torrents",
		Action: clientList,
	},
	{
		Name:      "add",
		Usage:     "add torrent file, magnet link or URL",
		ArgsUsage: "URI",
		Flags:     addFlags,
		Action:    clientAdd,
	},
	{
		Name:  "remove",
		Usage: "remove torrent",
		Flags: []cli.Flag{
			idFlag,
			cli.BoolFlag{
				Name:  "delete-files",
				Usage: "delete downloaded files too",
			},
		},
		Action: clientRemove,
	},
	{
		Name:   "start",
		Usage:  "start torrent",
		Flags:  []cli.Flag{idFlag},
		Action: clientStart,
	},
	{
		Name:   "pause",
		Usage:  "pause torrent",
		Flags:  []cli.Flag{idFlag},
		Action: clientPause,
	},
	{
		Name:   "recheck",
		Usage:  "hash the data of torrent on disk again",
		Flags:  []cli.Flag{idFlag},
		Action: clientRecheck,
	},
	{
		Name:   "stats",
		Usage:  "get stats of torrent",
		Flags:  []cli.Flag{idFlag},
		Action: clientStats,
	},
	{
		Name:   "trackers",
		Usage:  "get trackers of torrent",
		Flags:  []cli.Flag{idFlag},
		Action: clientTrackers,
	},
	{
		Name:   "peers",
		Usage:  "get peers of torrent",
		Flags:  []cli.Flag{idFlag},
		Action: clientPeers,
	},
	{
		Name:      "add-peer",
		Usage:     "add peer to torrent",
		ArgsUsage: "HOST:PORT",
		Flags:     []cli.Flag{idFlag},
		Action:    clientAddPeer,
	},
	{
		Name:      "set-file-priority",
		Usage:     "set priority of a file: skip, low, normal or high",
		ArgsUsage: "FILE_INDEX PRIORITY",
		Flags:     []cli.Flag{idFlag},
		Action:    clientSetFilePriority,
	},
	{
		Name:      "set-queue-priority",
		Usage:     "set position of torrent in download queue",
		ArgsUsage: "PRIORITY",
		Flags:     []cli.Flag{idFlag},
		Action:    clientSetQueuePriority,
	},
	{
		Name:   "set-torrent-limits",
		Usage:  "set speed limits of torrent",
		Flags:  append([]cli.Flag{idFlag}, limitFlags...),
		Action: clientSetTorrentLimits,
	},
	{
		Name:   "set-global-limits",
		Usage:  "set speed limits of session",
		Flags:  limitFlags,
		Action: clientSetGlobalLimits,
	},
	{
		Name:   "session-stats",
		Usage:  "get stats of session",
		Action: clientSessionStats,
	},
	{
		Name:   "events",
		Usage:  "print events until interrupted",
		Action: clientEvents,
	},
}

func handleBeforeClient(c *cli.Context) error {
	clt = rpcclient.New(c.String("host"), c.Int("port"))
	return nil
}

func handleAfterClient(c *cli.Context) error {
	if clt != nil {
		return clt.Close()
	}
	return nil
}

func printPretty(v any) error {
	b, err := jsonutil.MarshalPretty(v)
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(b)
	return err
}

func printCompact(v any) error {
	b, err := jsonutil.MarshalCompactPretty(v)
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(b)
	return err
}

func clientVersion(c *cli.Context) error {
	v, err := clt.ServerVersion()
	if err != nil {
		return err
	}
	fmt.Println(v)
	return nil
}

func clientList(c *cli.Context) error {
	torrents, err := clt.ListTorrents()
	if err != nil {
		return err
	}
	return printPretty(torrents)
}

func clientAdd(c *cli.Context) error {
	uri := c.Args().Get(0)
	if uri == "" {
		return errors.New("give a torrent file, magnet link or URL as first argument")
	}
	opt := rpctypes.AddTorrentOptions{
		Stopped:       c.Bool("stopped"),
		QueuePriority: c.Int("queue-priority"),
	}
	var t *rpctypes.Torrent
	var err error
	if f, oerr := os.Open(uri); oerr == nil {
		// Local files are sent to the server, which may run on another host.
		defer f.Close()
		t, err = clt.AddTorrent(f, opt)
	} else {
		t, err = clt.AddURI(uri, opt)
	}
	if err != nil {
		return err
	}
	return printPretty(t)
}

func clientRemove(c *cli.Context) error {
	return clt.RemoveTorrent(c.String("id"), c.Bool("delete-files"))
}

func clientStart(c *cli.Context) error {
	return clt.StartTorrent(c.String("id"))
}

func clientPause(c *cli.Context) error {
	return clt.PauseTorrent(c.String("id"))
}

func clientRecheck(c *cli.Context) error {
	return clt.RecheckTorrent(c.String("id"))
}

func clientStats(c *cli.Context) error {
	s, err := clt.GetTorrentStats(c.String("id"))
	if err != nil {
		return err
	}
	files := s.Files
	s.Files = nil
	if err = printCompact(s); err != nil {
		return err
	}
	for i, f := range files {
		fmt.Printf("File #%d: %s (%s/%s) %s\n", i, f.Path, humanize.IBytes(uint64(f.Completed)), humanize.IBytes(uint64(f.Length)), f.Priority)
	}
	return nil
}

func clientTrackers(c *cli.Context) error {
	trackers, err := clt.GetTorrentTrackers(c.String("id"))
	if err != nil {
		return err
	}
	return printPretty(trackers)
}

func clientPeers(c *cli.Context) error {
	peers, err := clt.GetTorrentPeers(c.String("id"))
	if err != nil {
		return err
	}
	return printPretty(peers)
}

func clientAddPeer(c *cli.Context) error {
	addr := c.Args().Get(0)
	if addr == "" {
		return errors.New("give peer address as first argument")
	}
	return clt.AddPeer(c.String("id"), addr)
}

func clientSetFilePriority(c *cli.Context) error {
	if c.NArg() != 2 {
		return errors.New("give file index and priority as arguments")
	}
	index, err := strconv.Atoi(c.Args().Get(0))
	if err != nil {
		return err
	}
	return clt.SetFilePriority(c.String("id"), index, c.Args().Get(1))
}

func clientSetQueuePriority(c *cli.Context) error {
	p, err := strconv.Atoi(c.Args().Get(0))
	if err != nil {
		return err
	}
	return clt.SetQueuePriority(c.String("id"), p)
}

func parseLimits(c *cli.Context) (download, upload int64, err error) {
	d, err := humanize.ParseBytes(c.String("download"))
	if err != nil {
		return 0, 0, err
	}
	u, err := humanize.ParseBytes(c.String("upload"))
	if err != nil {
		return 0, 0, err
	}
	return int64(d), int64(u), nil
}

func clientSetTorrentLimits(c *cli.Context) error {
	d, u, err := parseLimits(c)
	if err != nil {
		return err
	}
	return clt.SetTorrentSpeedLimits(c.String("id"), d, u)
}

func clientSetGlobalLimits(c *cli.Context) error {
	d, u, err := parseLimits(c)
	if err != nil {
		return err
	}
	return clt.SetGlobalRateLimit(d, u)
}

func clientSessionStats(c *cli.Context) error {
	s, err := clt.GetSessionStats()
	if err != nil {
		return err
	}
	return printCompact(s)
}

func clientEvents(c *cli.Context) error {
	done := make(chan struct{})
	eventC, errC, err := clt.Events(done)
	if err != nil {
		return err
	}
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sig)
	for {
		select {
		case e, ok := <-eventC:
			if !ok {
				return <-errC
			}
			if err = printPretty(e); err != nil {
				close(done)
				return err
			}
		case <-sig:
			close(done)
			return nil
		}
	}
}
