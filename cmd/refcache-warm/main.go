// refcache-warm fills an owner's reference data cache from a SQL database
// so that services start against a warm store.
//
// # Usage
//
//	refcache-warm -config refcache.yaml -sqlite app.db -store bolt -bolt refcache.db
//	refcache-warm -config refcache.yaml -sqlite app.db -store redis -redis localhost:6379
//	refcache-warm -config refcache.yaml -sqlite app.db -store redis -redis localhost:6379 -refresh currency,country
//
// The definitions file is described in package config. With -store redis the
// generation counters live in the same Redis, so -refresh invalidates the
// namespace for every process sharing it.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
)

const version = "0.1.0"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "refcache-warm: %v\n", err)
		os.Exit(1)
	}
}

type flags struct {
	config    string
	sqlite    string
	store     string
	redisAddr string
	redisDB   int
	boltPath  string
	badgerDir string
	codec     string
	maxDoc    int
	refresh   string
	verbose   bool
}

func parseFlags(args []string, out io.Writer) (*flags, error) {
	f := &flags{}
	fs := flag.NewFlagSet("refcache-warm", flag.ContinueOnError)
	fs.SetOutput(out)
	fs.StringVar(&f.config, "config", "refcache.yaml", "definitions file")
	fs.StringVar(&f.sqlite, "sqlite", "", "SQLite database to read tables from (required)")
	fs.StringVar(&f.store, "store", "bolt", "cache store: bolt, badger, redis, bigcache, ristretto")
	fs.StringVar(&f.redisAddr, "redis", "localhost:6379", "Redis address (store=redis)")
	fs.IntVar(&f.redisDB, "redis-db", 0, "Redis database number")
	fs.StringVar(&f.boltPath, "bolt", "refcache.db", "bbolt file (store=bolt)")
	fs.StringVar(&f.badgerDir, "badger", "", "Badger directory; empty keeps it in memory (store=badger)")
	fs.StringVar(&f.codec, "codec", "json", "document codec: json, cbor, msgpack, protobuf")
	fs.IntVar(&f.maxDoc, "max-doc", 0, "reject stored documents larger than this many bytes (0 = no limit)")
	fs.StringVar(&f.refresh, "refresh", "", "comma-separated definitions to refill even if cached")
	fs.BoolVar(&f.verbose, "v", false, "debug logging")
	showVersion := fs.Bool("version", false, "print version and exit")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if *showVersion {
		fmt.Fprintf(out, "refcache-warm version %s\n", version)
		return nil, nil
	}
	if f.sqlite == "" {
		return nil, fmt.Errorf("-sqlite is required")
	}
	return f, nil
}

func (f *flags) refreshNames() []string {
	var out []string
	for _, n := range strings.Split(f.refresh, ",") {
		if n = strings.TrimSpace(n); n != "" {
			out = append(out, n)
		}
	}
	return out
}
