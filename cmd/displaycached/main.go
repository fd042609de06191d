// displaycached serves cached weather, news, quote, and photo data to a
// constantly-polled local display without ever blocking on a network call.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ipfs/go-datastore"
	leveldb "github.com/ipfs/go-ds-leveldb"
	logging "github.com/ipfs/go-log/v2"

	"github.com/pidisp/go-displaycache/config"
	"github.com/pidisp/go-displaycache/dcache"
	"github.com/pidisp/go-displaycache/server"
	"github.com/pidisp/go-displaycache/source"
)

var log = logging.Logger("displaycached")

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to configuration file")
	logLevel := flag.String("log-level", "info", "minimum log level")
	flag.Parse()

	_ = logging.SetLogLevel("*", *logLevel)

	if err := run(*configPath); err != nil {
		log.Fatalw("displaycached exited", "err", err)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	// A broken datastore costs persistence across restarts, not uptime.
	var ds datastore.Datastore
	var ldb *leveldb.Datastore
	ldb, err = leveldb.NewDatastore(cfg.DatastorePath, nil)
	if err != nil {
		log.Errorw("Cannot open datastore, continuing without persistence", "path", cfg.DatastorePath, "err", err)
	} else {
		ds = ldb
		defer ldb.Close()
	}

	client := source.NewClient(cfg.FetchTimeout.Std())
	reg, err := dcache.NewRegistry(cfg.Specs(client)...)
	if err != nil {
		return err
	}

	opts := []dcache.Option{
		dcache.WithFetchTimeout(cfg.FetchTimeout.Std()),
		dcache.WithReadWait(cfg.ReadWait.Std()),
	}
	if cfg.Jitter != nil {
		opts = append(opts, dcache.WithJitter(*cfg.Jitter))
	}
	cache, err := dcache.New(ds, reg, opts...)
	if err != nil {
		return err
	}
	defer cache.Close()

	srv := server.New(cache, cfg.Listen)
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err = <-serveErr:
		return err
	case sig := <-sigCh:
		log.Infow("Shutting down", "signal", sig.String())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err = srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("HTTP server shutdown", "err", err)
	}
	return nil
}
