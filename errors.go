package refcache

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnknownDefinition: a lookup or population referenced a name that was never registered.
	ErrUnknownDefinition = errors.New("refcache: unknown definition")
	// ErrMissingTableIdentifier: a definition has no table to populate from.
	ErrMissingTableIdentifier = errors.New("refcache: missing table identifier")
	// ErrMissingKeyField: a definition has no key field to key rows by.
	ErrMissingKeyField = errors.New("refcache: missing key field")
	// ErrNamespaceConflict: two definitions share a namespace but select different rows.
	ErrNamespaceConflict = errors.New("refcache: namespace conflict")
	// ErrMalformedCacheEntry: the store returned something that is not an owner document.
	ErrMalformedCacheEntry = errors.New("refcache: malformed cache entry")
	// ErrNotLoaded: Flush was called on a working copy that was never loaded.
	ErrNotLoaded = errors.New("refcache: working copy not loaded")
	// ErrWriteRejected: the provider refused the document (eviction/pressure).
	ErrWriteRejected = errors.New("refcache: store rejected write")
)

// DefinitionError ties a failure to the definition it happened in.
type DefinitionError struct {
	Name      string
	Namespace string
	Err       error
}

func (e *DefinitionError) Error() string {
	if e.Namespace == "" {
		return fmt.Sprintf("definition %q: %v", e.Name, e.Err)
	}
	return fmt.Sprintf("definition %q (namespace %q): %v", e.Name, e.Namespace, e.Err)
}

func (e *DefinitionError) Unwrap() error { return e.Err }

// BootstrapError is returned by Bootstrap when at least one definition failed
// or a flush did not persist. Definitions not listed were filled or skipped.
type BootstrapError struct {
	Owner   string
	Failed  []*DefinitionError
	Persist []error
}

func (e *BootstrapError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "bootstrap %q:", e.Owner)
	if len(e.Failed) > 0 {
		names := make([]string, len(e.Failed))
		for i, f := range e.Failed {
			names[i] = f.Name
		}
		fmt.Fprintf(&b, " %d definition(s) failed [%s]", len(e.Failed), strings.Join(names, ", "))
	}
	if len(e.Persist) > 0 {
		if len(e.Failed) > 0 {
			b.WriteString(";")
		}
		fmt.Fprintf(&b, " %d flush(es) failed: %v", len(e.Persist), e.Persist[len(e.Persist)-1])
	}
	return b.String()
}

func (e *BootstrapError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failed)+len(e.Persist))
	for _, f := range e.Failed {
		errs = append(errs, f)
	}
	errs = append(errs, e.Persist...)
	return errs
}
