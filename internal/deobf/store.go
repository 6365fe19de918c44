package deobf

// Key names a typed slot in a Store.
type Key[T any] struct {
	name string
}

// NewKey returns the key for slot name holding values of type T.
func NewKey[T any](name string) Key[T] {
	return Key[T]{name: name}
}

// Name returns the slot name.
func (k Key[T]) Name() string { return k.name }

// Store holds values shared between the passes of one run.
type Store struct {
	data map[string]any
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{data: make(map[string]any)}
}

// Set stores v under k, replacing any previous value.
func Set[T any](s *Store, k Key[T], v T) {
	s.data[k.name] = v
}

// Get returns the value under k. A slot holding a value of another type
// reads as absent.
func Get[T any](s *Store, k Key[T]) (T, bool) {
	v, ok := s.data[k.name].(T)
	return v, ok
}

// Delete removes the slot called name.
func (s *Store) Delete(name string) {
	delete(s.data, name)
}

// Reset removes every slot.
func (s *Store) Reset() {
	clear(s.data)
}

// Len returns the number of occupied slots.
func (s *Store) Len() int { return len(s.data) }
