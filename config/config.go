// Package config loads refcache definitions from YAML.
//
//	owner: billing
//	ttl: 24h
//	definitions:
//	  - name: currency
//	    table: currencies
//	    keyField: id
//	    sourceProperty: currencyIds
//	  - name: euCountry
//	    table: countries
//	    namespace: country
//	    keyField: code
//	    sourceProperty: countryCode
//	    condition: {region: eu}
//
// definitions may also be a mapping keyed by definition name; document order
// is kept either way.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/unkn0wn-root/refcache"
	"gopkg.in/yaml.v3"
)

// File is one definitions document.
type File struct {
	Owner       string        `yaml:"owner"`
	TTL         time.Duration `yaml:"ttl"`
	KeyPrefix   string        `yaml:"keyPrefix"`
	Definitions Definitions   `yaml:"definitions"`
}

// Definitions accepts a YAML sequence or a mapping of name -> definition.
type Definitions []refcache.Definition

func (d *Definitions) UnmarshalYAML(n *yaml.Node) error {
	switch n.Kind {
	case yaml.SequenceNode:
		var out []refcache.Definition
		if err := n.Decode(&out); err != nil {
			return err
		}
		*d = out
		return nil
	case yaml.MappingNode:
		out := make([]refcache.Definition, 0, len(n.Content)/2)
		for i := 0; i+1 < len(n.Content); i += 2 {
			k, v := n.Content[i], n.Content[i+1]
			var def refcache.Definition
			if err := v.Decode(&def); err != nil {
				return fmt.Errorf("definition %q: %w", k.Value, err)
			}
			if def.Name == "" {
				def.Name = k.Value
			} else if def.Name != k.Value {
				return fmt.Errorf("line %d: definition %q declares name %q", k.Line, k.Value, def.Name)
			}
			out = append(out, def)
		}
		*d = out
		return nil
	}
	return fmt.Errorf("line %d: definitions must be a list or a mapping", n.Line)
}

// Load decodes and validates one document from r.
func Load(r io.Reader) (*File, error) {
	var f File
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("config: empty document")
		}
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

func LoadFile(path string) (*File, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	defer fh.Close()
	f, err := Load(fh)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

// Validate checks what the cache cannot report per definition: a missing
// owner, unnamed definitions and duplicate names. Missing tables and key
// fields are left to bootstrap, which fails only the affected definition.
func (f *File) Validate() error {
	if f.Owner == "" {
		return errors.New("config: owner is required")
	}
	if f.TTL < 0 {
		return fmt.Errorf("config: negative ttl %s", f.TTL)
	}
	seen := make(map[string]struct{}, len(f.Definitions))
	for i, d := range f.Definitions {
		if d.Name == "" {
			return fmt.Errorf("config: definition #%d has no name", i+1)
		}
		if _, dup := seen[d.Name]; dup {
			return fmt.Errorf("config: duplicate definition %q", d.Name)
		}
		seen[d.Name] = struct{}{}
	}
	return nil
}

// Apply copies the document's cache settings into o.
func (f *File) Apply(o *refcache.Options) {
	o.Owner = f.Owner
	if f.TTL > 0 {
		o.TTL = f.TTL
	}
	if f.KeyPrefix != "" {
		o.KeyPrefix = f.KeyPrefix
	}
}
