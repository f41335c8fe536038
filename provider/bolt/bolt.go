// Package bolt persists owner documents in a local bbolt file so a warm cache
// survives process restarts without a network cache.
package bolt

import (
	"context"
	"encoding/binary"
	"errors"
	"time"

	bolt "go.etcd.io/bbolt"

	pr "github.com/unkn0wn-root/refcache/provider"
)

const headerLen = 8

var errShortValue = errors.New("bolt provider: value shorter than header")

type Config struct {
	// Path of the database file; created if missing.
	Path string
	// Bucket name; defaults to "refcache".
	Bucket string
	// OpenTimeout bounds waiting for the file lock; 0 => 1s.
	OpenTimeout time.Duration
}

// Provider stores values as expiresAt(u64 be, unix seconds; 0 = never) || value.
type Provider struct {
	db     *bolt.DB
	bucket []byte
	now    func() time.Time
}

var _ pr.Provider = (*Provider)(nil)

func Open(cfg Config) (*Provider, error) {
	timeout := cfg.OpenTimeout
	if timeout <= 0 {
		timeout = time.Second
	}
	db, err := bolt.Open(cfg.Path, 0o600, &bolt.Options{Timeout: timeout})
	if err != nil {
		return nil, err
	}
	bucket := []byte("refcache")
	if cfg.Bucket != "" {
		bucket = []byte(cfg.Bucket)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucket)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Provider{db: db, bucket: bucket, now: time.Now}, nil
}

func (p *Provider) Get(_ context.Context, key string) ([]byte, bool, error) {
	var (
		out     []byte
		expired bool
	)
	err := p.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(p.bucket).Get([]byte(key))
		if v == nil {
			return nil
		}
		if len(v) < headerLen {
			return errShortValue
		}
		exp := int64(binary.BigEndian.Uint64(v[:headerLen]))
		if exp > 0 && p.now().Unix() > exp {
			expired = true
			return nil
		}
		// bbolt memory is only valid inside the transaction
		out = append([]byte{}, v[headerLen:]...)
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if expired {
		_ = p.Del(context.Background(), key)
		return nil, false, nil
	}
	return out, out != nil, nil
}

func (p *Provider) Set(_ context.Context, key string, value []byte, _ int64, ttl time.Duration) (bool, error) {
	var exp int64
	if ttl > 0 {
		exp = p.now().Add(ttl).Unix()
	}
	buf := make([]byte, headerLen+len(value))
	binary.BigEndian.PutUint64(buf[:headerLen], uint64(exp))
	copy(buf[headerLen:], value)

	err := p.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(p.bucket).Put([]byte(key), buf)
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

func (p *Provider) Del(_ context.Context, key string) error {
	return p.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(p.bucket).Delete([]byte(key))
	})
}

func (p *Provider) Close(_ context.Context) error {
	if p == nil || p.db == nil {
		return nil
	}
	return p.db.Close()
}
