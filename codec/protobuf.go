package codec

import (
	"fmt"
	"reflect"
	"time"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/unkn0wn-root/refcache/entity"
)

// Protobuf stores owner documents as a google.protobuf.Struct so that
// non-Go readers of a shared cache can decode them with stock protobuf
// tooling. Row values must be JSON-like (nil, bool, numbers, string, []byte,
// slices, string-keyed maps) or time.Time. Numbers decode as float64, []byte
// as base64 and time.Time as an RFC 3339 string.
type Protobuf struct{}

var _ Codec[entity.Document] = Protobuf{}

func (Protobuf) Encode(doc entity.Document) ([]byte, error) {
	m := make(map[string]any, len(doc))
	for ns, s := range doc {
		ents := make(map[string]any, len(s.Entities))
		for k, r := range s.Entities {
			ents[k] = plain(map[string]any(r))
		}
		sc := map[string]any{"entities": ents}
		if s.Condition != "" {
			sc["condition"] = s.Condition
		}
		if s.Gen != 0 {
			sc["gen"] = s.Gen
		}
		if !s.FilledAt.IsZero() {
			sc["filledAt"] = s.FilledAt.UTC().Format(time.RFC3339Nano)
		}
		m[ns] = sc
	}
	st, err := structpb.NewStruct(m)
	if err != nil {
		return nil, err
	}
	return proto.Marshal(st)
}

func (Protobuf) Decode(b []byte) (entity.Document, error) {
	var st structpb.Struct
	if err := proto.Unmarshal(b, &st); err != nil {
		return nil, err
	}
	doc := make(entity.Document, len(st.GetFields()))
	for ns, v := range st.AsMap() {
		sm, ok := v.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("protobuf document: namespace %q is %T, not a scaffold", ns, v)
		}
		var s entity.Scaffold
		ents, ok := sm["entities"].(map[string]any)
		if !ok {
			return nil, fmt.Errorf("protobuf document: namespace %q has no entities", ns)
		}
		s.Entities = make(entity.Entities, len(ents))
		for k, rv := range ents {
			row, ok := rv.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("protobuf document: %s[%s] is %T, not a row", ns, k, rv)
			}
			s.Entities[k] = entity.Row(row)
		}
		s.Condition, _ = sm["condition"].(string)
		if g, ok := sm["gen"].(float64); ok {
			s.Gen = uint64(g)
		}
		if ts, ok := sm["filledAt"].(string); ok {
			t, err := time.Parse(time.RFC3339Nano, ts)
			if err != nil {
				return nil, fmt.Errorf("protobuf document: %s filledAt: %w", ns, err)
			}
			s.FilledAt = t
		}
		doc[ns] = s
	}
	return doc, nil
}

// plain rewrites v into the shapes structpb accepts.
func plain(v any) any {
	switch x := v.(type) {
	case nil, bool, string, []byte, float32, float64,
		int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return v
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	case *time.Time:
		if x == nil {
			return nil
		}
		return x.UTC().Format(time.RFC3339Nano)
	case entity.Row:
		return plain(map[string]any(x))
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = plain(e)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = plain(e)
		}
		return out
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = plain(rv.Index(i).Interface())
		}
		return out
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return v
		}
		out := make(map[string]any, rv.Len())
		it := rv.MapRange()
		for it.Next() {
			out[it.Key().String()] = plain(it.Value().Interface())
		}
		return out
	case reflect.Pointer:
		if rv.IsNil() {
			return nil
		}
		return plain(rv.Elem().Interface())
	}
	return v
}
