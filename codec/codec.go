package codec

import "github.com/unkn0wn-root/refcache/entity"

// Codec encodes/decodes values V to []byte for storage.
type Codec[V any] interface {
	Encode(V) ([]byte, error)
	Decode([]byte) (V, error)
}

// DocumentCodec is what a refcache store needs: an owner document codec.
type DocumentCodec = Codec[entity.Document]
