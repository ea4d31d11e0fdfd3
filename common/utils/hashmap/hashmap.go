package hashmap

// HashMap is a map that is safe for concurrent use.
type HashMap[K any, V any] interface {
	Load(K) (val V, loaded bool)
	LoadOrStore(K, V) (val V, loaded bool)
	Store(K, V)
	Delete(K)

	// Range iterates over the map's key/value pairs until the callback returns false.
	Range(func(K, V) (contd bool))

	Len() int
}
