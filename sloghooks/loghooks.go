// Package sloghooks reports refcache events through log/slog.
package sloghooks

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync/atomic"

	"github.com/unkn0wn-root/refcache"
)

type Options struct {
	// Sampling to avoid floods; 0/1 = log all.
	FilledEvery  uint64
	SkippedEvery uint64
	// Optional owner redactor. nil logs owners as-is; RedactHash is a
	// ready-made SHA-256 prefix.
	Redact func(string) string
}

type Hooks struct {
	l    *slog.Logger
	opts Options

	filledCtr  atomic.Uint64
	skippedCtr atomic.Uint64
}

var _ refcache.Hooks = (*Hooks)(nil)

func New(l *slog.Logger, opts Options) *Hooks {
	return &Hooks{l: l, opts: opts}
}

// RedactHash returns the first 8 bytes of the SHA-256 of s, hex encoded.
func RedactHash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:8])
}

func (h *Hooks) owner(o string) string {
	if h.opts.Redact != nil {
		return h.opts.Redact(o)
	}
	return o
}

func sample(n uint64, ctr *atomic.Uint64) bool {
	if n == 0 || n == 1 {
		return true
	}
	return ctr.Add(1)%n == 0
}

func (h *Hooks) DefinitionFilled(owner, namespace string, entities int) {
	if h.l == nil || !sample(h.opts.FilledEvery, &h.filledCtr) {
		return
	}
	h.l.Info("refcache.definition_filled",
		"owner", h.owner(owner),
		"namespace", namespace,
		"entities", entities)
}

func (h *Hooks) DefinitionSkipped(owner, namespace string) {
	if h.l == nil || !sample(h.opts.SkippedEvery, &h.skippedCtr) {
		return
	}
	h.l.Debug("refcache.definition_skipped",
		"owner", h.owner(owner),
		"namespace", namespace)
}

func (h *Hooks) DefinitionFailed(owner, name string, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("refcache.definition_failed",
		"owner", h.owner(owner),
		"definition", name,
		"err", err)
}

func (h *Hooks) MalformedEntry(owner string, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("refcache.malformed_entry",
		"owner", h.owner(owner),
		"err", err)
}

func (h *Hooks) StoreWriteFailed(owner string, err error) {
	if h.l == nil {
		return
	}
	h.l.Error("refcache.store_write_failed",
		"owner", h.owner(owner),
		"err", err)
}

func (h *Hooks) NamespaceConflict(namespace, existing, incoming string) {
	if h.l == nil {
		return
	}
	h.l.Warn("refcache.namespace_conflict",
		"namespace", namespace,
		"existing", existing,
		"incoming", incoming)
}
