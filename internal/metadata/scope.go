package metadata

// Scope is the set of modules type references can be resolved against.
type Scope struct {
	modules map[string]*Module
}

// NewScope returns a scope containing mods.
func NewScope(mods ...*Module) *Scope {
	s := &Scope{modules: make(map[string]*Module)}
	for _, m := range mods {
		s.Add(m)
	}
	return s
}

// Add makes m resolvable. A module with the same name is replaced.
func (s *Scope) Add(m *Module) {
	if m == nil {
		return
	}
	s.modules[m.Name] = m
}

// Module returns the module called name.
func (s *Scope) Module(name string) (*Module, bool) {
	m, ok := s.modules[name]
	return m, ok
}

// Resolve finds the definition r refers to. It fails when r's module is not
// part of the scope or does not define the type.
func (s *Scope) Resolve(r *TypeRef) (*TypeDef, bool) {
	if s == nil || r == nil {
		return nil, false
	}
	m, ok := s.modules[r.Scope]
	if !ok {
		return nil, false
	}
	return m.Find(r.FullName())
}
