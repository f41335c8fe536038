package util

import (
	"crypto/sha256"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/spf13/cast"
)

var detMode = func() cbor.EncMode {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	return em
}()

// Key returns the canonical string form of a key field value. Numbers compare
// by value, so 3, int64(3) and float64(3) all yield "3".
func Key(v any) (string, error) {
	return cast.ToStringE(v)
}

// Fingerprint returns a short stable identity for a filter condition.
// nil yields "". Values with a Fingerprint() string method supply their own
// identity; everything else is hashed over its deterministic CBOR encoding.
func Fingerprint(cond any) string {
	if cond == nil {
		return ""
	}
	if f, ok := cond.(interface{ Fingerprint() string }); ok {
		return f.Fingerprint()
	}
	b, err := detMode.Marshal(cond)
	if err != nil {
		b = []byte(fmt.Sprintf("%T:%#v", cond, cond))
	}
	sum := sha256.Sum256(b)
	return fmt.Sprintf("%x", sum)[:16]
}

// StoreKey isolates an owner inside a shared provider keyspace.
func StoreKey(prefix, owner string) string {
	return prefix + ":" + owner
}

// GenKey names the generation counter of one namespace of one owner.
func GenKey(owner, namespace string) string {
	return owner + "/" + namespace
}
