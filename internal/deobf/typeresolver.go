package deobf

import (
	"repatch/internal/metadata"
)

// Cache maps canonical (open) types to their TypeResolver. Entries live
// until Clear is called.
type Cache struct {
	resolvers map[string]*TypeResolver
	hits      int
	misses    int
}

// NewCache returns an empty cache.
func NewCache() *Cache {
	return &Cache{resolvers: make(map[string]*TypeResolver)}
}

// Get returns the resolver for canonical, creating it around def on first use.
func (c *Cache) Get(canonical metadata.TypeDefOrRef, def *metadata.TypeDef) *TypeResolver {
	key := metadata.TypeKey(canonical)
	if r, ok := c.resolvers[key]; ok {
		c.hits++
		return r
	}
	c.misses++
	r := &TypeResolver{Type: def, key: key, instances: make(map[string]*TypeInstanceResolver)}
	c.resolvers[key] = r
	return r
}

// Peek returns the cached resolver for canonical without creating one.
func (c *Cache) Peek(canonical metadata.TypeDefOrRef) (*TypeResolver, bool) {
	r, ok := c.resolvers[metadata.TypeKey(canonical)]
	return r, ok
}

// Len returns the number of cached type resolvers.
func (c *Cache) Len() int { return len(c.resolvers) }

// Stats returns the lookup hit and miss counts since the last Clear.
func (c *Cache) Stats() (hits, misses int) { return c.hits, c.misses }

// Clear drops every cached resolver.
func (c *Cache) Clear() {
	clear(c.resolvers)
	c.hits, c.misses = 0, 0
}

// TypeResolver resolves members of one type definition across all of its
// instantiations.
type TypeResolver struct {
	Type      *metadata.TypeDef
	key       string
	instances map[string]*TypeInstanceResolver
}

// Key returns the cache key of the canonical type.
func (r *TypeResolver) Key() string { return r.key }

// Instance returns the resolver for the exact type reference t, which is
// either the definition itself or one instantiation of it.
func (r *TypeResolver) Instance(t metadata.TypeDefOrRef) *TypeInstanceResolver {
	key := metadata.TypeKey(t)
	if inst, ok := r.instances[key]; ok {
		return inst
	}
	inst := &TypeInstanceResolver{
		def:     r.Type,
		Owner:   t,
		fields:  make(map[*metadata.FieldDef]*ResolvedField),
		methods: make(map[*metadata.MethodDef]*ResolvedMethod),
	}
	if spec, ok := t.(*metadata.TypeSpec); ok {
		if gis, ok := spec.GenericInst(); ok {
			inst.Args = gis.Args
		}
	}
	r.instances[key] = inst
	return inst
}

// Instances returns the number of instantiations seen so far.
func (r *TypeResolver) Instances() int { return len(r.instances) }

// ResolveField resolves a field reference through the instance resolver of
// its declaring type.
func (r *TypeResolver) ResolveField(ref *metadata.MemberRef) (*ResolvedField, bool) {
	return r.Instance(ref.Class).ResolveField(ref)
}

// ResolveMethod resolves a method reference through the instance resolver of
// its declaring type.
func (r *TypeResolver) ResolveMethod(ref *metadata.MemberRef) (*ResolvedMethod, bool) {
	return r.Instance(ref.Class).ResolveMethod(ref)
}

// TypeInstanceResolver maps member references on one instantiation to the
// generic definition and the instantiated signature.
type TypeInstanceResolver struct {
	Owner metadata.TypeDefOrRef
	Args  []metadata.TypeSig

	def     *metadata.TypeDef
	fields  map[*metadata.FieldDef]*ResolvedField
	methods map[*metadata.MethodDef]*ResolvedMethod
}

// ResolvedField is a field as seen through one instantiation.
type ResolvedField struct {
	Def   *metadata.FieldDef
	Owner metadata.TypeDefOrRef
	Type  metadata.TypeSig
}

// ResolvedMethod is a method as seen through one instantiation.
type ResolvedMethod struct {
	Def   *metadata.MethodDef
	Owner metadata.TypeDefOrRef
	Sig   metadata.MethodSig
}

// ResolveField finds the field ref names and substitutes the instance's type
// arguments into its type.
func (r *TypeInstanceResolver) ResolveField(ref *metadata.MemberRef) (*ResolvedField, bool) {
	if r.def == nil {
		return nil, false
	}
	f, ok := r.def.ResolveField(ref)
	if !ok {
		return nil, false
	}
	if rf, ok := r.fields[f]; ok {
		return rf, true
	}
	rf := &ResolvedField{Def: f, Owner: r.Owner, Type: metadata.Substitute(f.Type, r.Args)}
	r.fields[f] = rf
	return rf, true
}

// ResolveMethod finds the method ref names and substitutes the instance's
// type arguments into its signature.
func (r *TypeInstanceResolver) ResolveMethod(ref *metadata.MemberRef) (*ResolvedMethod, bool) {
	if r.def == nil {
		return nil, false
	}
	md, ok := r.def.ResolveMethod(ref)
	if !ok {
		return nil, false
	}
	if rm, ok := r.methods[md]; ok {
		return rm, true
	}
	rm := &ResolvedMethod{Def: md, Owner: r.Owner, Sig: md.Sig.Substitute(r.Args)}
	r.methods[md] = rm
	return rm, true
}
