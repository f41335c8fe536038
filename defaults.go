package refcache

// coalesce returns def when v is the zero value of T, otherwise v.
// Interfaces compare against nil, so a typed nil pointer is kept.
func coalesce[T comparable](v, def T) T {
	var zero T
	if v == zero {
		return def
	}
	return v
}
