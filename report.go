package refcache

import "time"

// Report describes one bootstrap pass. Names are definition names in
// registration order.
type Report struct {
	Owner     string
	Disabled  bool
	ColdStart bool // the stored document was unreadable and treated as empty
	Filled    []string
	Skipped   []string
	Failed    []*DefinitionError
	Persist   []error // write-through flushes that did not persist
	Took      time.Duration
}

// Err returns a *BootstrapError when anything failed, nil otherwise.
func (r *Report) Err() error {
	if r == nil || (len(r.Failed) == 0 && len(r.Persist) == 0) {
		return nil
	}
	return &BootstrapError{Owner: r.Owner, Failed: r.Failed, Persist: r.Persist}
}

// FailedNames lists the names of failed definitions.
func (r *Report) FailedNames() []string {
	out := make([]string, len(r.Failed))
	for i, f := range r.Failed {
		out[i] = f.Name
	}
	return out
}
