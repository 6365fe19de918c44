// Package deobf implements the run-scoped state of a deobfuscation pass:
// the shared data store, generic-aware member resolution with caching, the
// known-member index, and the pass pipeline that drives them.
package deobf

import (
	"repatch/internal/metadata"
)

// Context is shared by every pass of one deobfuscation run.
type Context struct {
	Scope *metadata.Scope
	Store *Store
	Cache *Cache
}

// NewContext returns a context resolving type references against scope.
func NewContext(scope *metadata.Scope) *Context {
	if scope == nil {
		scope = metadata.NewScope()
	}
	return &Context{Scope: scope, Store: NewStore(), Cache: NewCache()}
}

// Clear empties the store and the resolver cache.
func (c *Context) Clear() {
	c.Store.Reset()
	c.Cache.Clear()
}

// Canonical strips the arguments from a generic instantiation, returning
// the generic type it instantiates. Other references are returned as is.
func Canonical(t metadata.TypeDefOrRef) metadata.TypeDefOrRef {
	spec, ok := t.(*metadata.TypeSpec)
	if !ok || spec == nil {
		return t
	}
	gis, ok := spec.GenericInst()
	if !ok {
		return t
	}
	return gis.GenericType.Type
}

// ResolveType returns the definition t refers to.
func (c *Context) ResolveType(t metadata.TypeDefOrRef) (*metadata.TypeDef, bool) {
	if t == nil {
		return nil, false
	}
	switch x := Canonical(t).(type) {
	case *metadata.TypeDef:
		return x, x != nil
	case *metadata.TypeRef:
		return c.Scope.Resolve(x)
	}
	return nil, false
}

// ResolveMethod returns the definition m refers to.
func (c *Context) ResolveMethod(m metadata.Method) (*metadata.MethodDef, bool) {
	switch x := m.(type) {
	case *metadata.MethodDef:
		return x, x != nil
	case *metadata.MemberRef:
		rm, ok := c.ResolveMethodInstance(x)
		if !ok {
			return nil, false
		}
		return rm.Def, true
	}
	return nil, false
}

// ResolveField returns the definition f refers to.
func (c *Context) ResolveField(f metadata.Field) (*metadata.FieldDef, bool) {
	switch x := f.(type) {
	case *metadata.FieldDef:
		return x, x != nil
	case *metadata.MemberRef:
		rf, ok := c.ResolveFieldInstance(x)
		if !ok {
			return nil, false
		}
		return rf.Def, true
	}
	return nil, false
}

// ResolveMethodInstance resolves a method reference to its definition and
// the signature it has on the referenced instantiation.
func (c *Context) ResolveMethodInstance(ref *metadata.MemberRef) (*ResolvedMethod, bool) {
	if ref == nil || !ref.IsMethodRef() {
		return nil, false
	}
	tr, ok := c.typeResolver(ref.Class)
	if !ok {
		return nil, false
	}
	return tr.ResolveMethod(ref)
}

// ResolveFieldInstance resolves a field reference to its definition and the
// type it has on the referenced instantiation.
func (c *Context) ResolveFieldInstance(ref *metadata.MemberRef) (*ResolvedField, bool) {
	if ref == nil || !ref.IsFieldRef() {
		return nil, false
	}
	tr, ok := c.typeResolver(ref.Class)
	if !ok {
		return nil, false
	}
	return tr.ResolveField(ref)
}

func (c *Context) typeResolver(class metadata.TypeDefOrRef) (*TypeResolver, bool) {
	if class == nil {
		return nil, false
	}
	canonical := Canonical(class)
	if tr, ok := c.Cache.Peek(canonical); ok {
		return c.Cache.Get(canonical, tr.Type), true
	}
	def, ok := c.ResolveType(canonical)
	if !ok {
		return nil, false
	}
	return c.Cache.Get(canonical, def), true
}
