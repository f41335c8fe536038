package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/glebarez/sqlite"
	goredis "github.com/redis/go-redis/v9"
	"github.com/unkn0wn-root/refcache"
	"github.com/unkn0wn-root/refcache/codec"
	"github.com/unkn0wn-root/refcache/config"
	"github.com/unkn0wn-root/refcache/entity"
	"github.com/unkn0wn-root/refcache/genstore"
	zapadapter "github.com/unkn0wn-root/refcache/log/zap"
	pr "github.com/unkn0wn-root/refcache/provider"
	"github.com/unkn0wn-root/refcache/provider/badger"
	"github.com/unkn0wn-root/refcache/provider/bigcache"
	"github.com/unkn0wn-root/refcache/provider/bolt"
	rp "github.com/unkn0wn-root/refcache/provider/redis"
	"github.com/unkn0wn-root/refcache/provider/ristretto"
	"github.com/unkn0wn-root/refcache/source/gormdb"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func run(ctx context.Context, args []string, out io.Writer) error {
	f, err := parseFlags(args, out)
	if err != nil || f == nil {
		return err
	}

	zl, err := newZap(f.verbose)
	if err != nil {
		return err
	}
	defer zl.Sync() //nolint:errcheck

	file, err := config.LoadFile(f.config)
	if err != nil {
		return err
	}

	db, err := gorm.Open(sqlite.Open(f.sqlite), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return fmt.Errorf("open %s: %w", f.sqlite, err)
	}
	src, err := gormdb.New(db)
	if err != nil {
		return err
	}

	cdc, err := newCodec(f.codec, f.maxDoc)
	if err != nil {
		return err
	}

	var rdb goredis.UniversalClient
	if f.store == "redis" {
		rdb = goredis.NewClient(&goredis.Options{Addr: f.redisAddr, DB: f.redisDB})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis %s: %w", f.redisAddr, err)
		}
	}
	p, err := newProvider(ctx, f, rdb)
	if err != nil {
		return err
	}

	opts := refcache.Options{
		Source:   src,
		Provider: p,
		Codec:    cdc,
		Logger:   zapadapter.ZapLogger{L: zl},
	}
	file.Apply(&opts)
	if rdb != nil {
		gs, err := genstore.NewRedisGenStore(genstore.RedisConfig{Client: rdb})
		if err != nil {
			return err
		}
		opts.GenStore = gs
	}

	rc, err := refcache.New(opts)
	if err != nil {
		_ = p.Close(ctx)
		return err
	}
	defer rc.Close(ctx)

	rep, _ := rc.Initialize(ctx, file.Definitions...)
	passes := []*refcache.Report{rep}
	for _, name := range f.refreshNames() {
		r, err := rc.Refresh(ctx, name)
		if r == nil {
			return err
		}
		passes = append(passes, r)
	}
	rep = mergeReports(rc.Definitions(), passes...)
	printReport(out, rep)
	return rep.Err()
}

// mergeReports folds consecutive passes into one line per definition. The
// last pass decides failures; a name filled in any pass counts as filled.
func mergeReports(defs []refcache.Definition, passes ...*refcache.Report) *refcache.Report {
	last := passes[len(passes)-1]
	out := &refcache.Report{
		Owner:     last.Owner,
		Disabled:  last.Disabled,
		ColdStart: passes[0].ColdStart,
	}
	failed := make(map[string]*refcache.DefinitionError, len(last.Failed))
	for _, de := range last.Failed {
		failed[de.Name] = de
	}
	filled := make(map[string]bool)
	skipped := make(map[string]bool)
	for _, r := range passes {
		for _, n := range r.Filled {
			filled[n] = true
		}
		for _, n := range r.Skipped {
			skipped[n] = true
		}
		out.Persist = append(out.Persist, r.Persist...)
		out.Took += r.Took
	}
	for _, d := range defs {
		switch {
		case failed[d.Name] != nil:
			out.Failed = append(out.Failed, failed[d.Name])
		case filled[d.Name]:
			out.Filled = append(out.Filled, d.Name)
		case skipped[d.Name]:
			out.Skipped = append(out.Skipped, d.Name)
		}
	}
	return out
}

func newZap(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	cfg.DisableStacktrace = true
	return cfg.Build()
}

func newCodec(name string, maxDoc int) (codec.DocumentCodec, error) {
	var c codec.DocumentCodec
	switch name {
	case "", "json":
		c = codec.JSON[entity.Document]{}
	case "cbor":
		cb, err := codec.NewCBOR[entity.Document](true)
		if err != nil {
			return nil, err
		}
		c = cb
	case "msgpack":
		c = codec.Msgpack[entity.Document]{}
	case "protobuf":
		c = codec.Protobuf{}
	default:
		return nil, fmt.Errorf("unknown codec %q", name)
	}
	if maxDoc > 0 {
		c = codec.LimitCodec[entity.Document]{Inner: c, MaxDecode: maxDoc}
	}
	return c, nil
}

func newProvider(ctx context.Context, f *flags, rdb goredis.UniversalClient) (pr.Provider, error) {
	switch f.store {
	case "bolt":
		return bolt.Open(bolt.Config{Path: f.boltPath})
	case "badger":
		return badger.Open(badger.Config{Path: f.badgerDir})
	case "redis":
		if rdb == nil {
			return nil, errors.New("redis store needs a client")
		}
		return rp.New(rp.Config{Client: rdb})
	case "bigcache":
		return bigcache.New(ctx, bigcache.Config{})
	case "ristretto":
		return ristretto.New(ristretto.Config{NumCounters: 1e4, MaxCost: 64 << 20, BufferItems: 64})
	}
	return nil, fmt.Errorf("unknown store %q", f.store)
}

func printReport(w io.Writer, rep *refcache.Report) {
	if rep == nil {
		return
	}
	fmt.Fprintf(w, "owner %s (%s)\n", rep.Owner, rep.Took)
	if rep.ColdStart {
		fmt.Fprintln(w, "  stored document was unreadable; started cold")
	}
	for _, n := range rep.Filled {
		fmt.Fprintf(w, "  filled   %s\n", n)
	}
	for _, n := range rep.Skipped {
		fmt.Fprintf(w, "  cached   %s\n", n)
	}
	for _, de := range rep.Failed {
		fmt.Fprintf(w, "  FAILED   %s: %v\n", de.Name, de.Err)
	}
	for _, err := range rep.Persist {
		fmt.Fprintf(w, "  NOT SAVED: %v\n", err)
	}
}
