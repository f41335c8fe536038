package refcache

// Hooks are lightweight callbacks for operator-visible events.
// Implementations MUST be cheap and non-blocking; wrap slow sinks with
// hooks/async.
type Hooks interface {
	// A definition was fetched from the source and stored under namespace.
	DefinitionFilled(owner, namespace string, entities int)

	// A definition's namespace was already cached and current.
	DefinitionSkipped(owner, namespace string)

	// A definition could not be populated; siblings were still processed.
	DefinitionFailed(owner, name string, err error)

	// The stored owner document was unreadable; bootstrap cold-started.
	MalformedEntry(owner string, err error)

	// A write-through flush did not persist.
	StoreWriteFailed(owner string, err error)

	// A registered definition shares a namespace with another one that has a
	// different condition.
	NamespaceConflict(namespace, existing, incoming string)
}

// NopHooks is the default no-op
type NopHooks struct{}

func (NopHooks) DefinitionFilled(string, string, int)     {}
func (NopHooks) DefinitionSkipped(string, string)         {}
func (NopHooks) DefinitionFailed(string, string, error)   {}
func (NopHooks) MalformedEntry(string, error)             {}
func (NopHooks) StoreWriteFailed(string, error)           {}
func (NopHooks) NamespaceConflict(string, string, string) {}
