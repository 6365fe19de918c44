// Package metadata models the type-level contents of a module: type
// definitions, their members, type and member references, and the signatures
// that tie them together.
package metadata

import (
	"strings"
)

// TypeDefOrRef is a *TypeDef, *TypeRef or *TypeSpec.
type TypeDefOrRef interface {
	FullName() string
	typeDefOrRef()
}

// Field is a *FieldDef or a field-shaped *MemberRef.
type Field interface {
	MemberName() string
	field()
}

// Method is a *MethodDef or a method-shaped *MemberRef.
type Method interface {
	MemberName() string
	method()
}

// Module is the metadata of one binary module.
type Module struct {
	Name       string
	Types      []*TypeDef
	MemberRefs []*MemberRef
}

// NewModule returns an empty module called name.
func NewModule(name string) *Module {
	return &Module{Name: name}
}

// AddType defines a new type in m.
func (m *Module) AddType(namespace, name string, genericParams ...string) *TypeDef {
	t := &TypeDef{Module: m, Namespace: namespace, Name: name, GenericParams: genericParams}
	m.Types = append(m.Types, t)
	return t
}

// AddMemberRef records a member reference used by m.
func (m *Module) AddMemberRef(r *MemberRef) *MemberRef {
	m.MemberRefs = append(m.MemberRefs, r)
	return r
}

// Find returns the type with the given full name.
func (m *Module) Find(fullName string) (*TypeDef, bool) {
	for _, t := range m.Types {
		if t.FullName() == fullName {
			return t, true
		}
	}
	return nil, false
}

// RemoveType deletes t from m. It reports whether t was present.
func (m *Module) RemoveType(t *TypeDef) bool {
	for i, x := range m.Types {
		if x == t {
			m.Types = append(m.Types[:i], m.Types[i+1:]...)
			return true
		}
	}
	return false
}

// TypeDef is a type defined in a module.
type TypeDef struct {
	Module        *Module
	Namespace     string
	Name          string
	GenericParams []string
	Fields        []*FieldDef
	Methods       []*MethodDef
	Events        []*EventDef
	Properties    []*PropertyDef
}

func (*TypeDef) typeDefOrRef() {}

// FullName returns Namespace.Name.
func (t *TypeDef) FullName() string { return fullName(t.Namespace, t.Name) }

func (t *TypeDef) String() string { return t.FullName() }

// AddField defines a field on t.
func (t *TypeDef) AddField(name string, typ TypeSig) *FieldDef {
	f := &FieldDef{DeclaringType: t, Name: name, Type: typ}
	t.Fields = append(t.Fields, f)
	return f
}

// AddMethod defines a method on t.
func (t *TypeDef) AddMethod(name string, sig MethodSig) *MethodDef {
	md := &MethodDef{DeclaringType: t, Name: name, Sig: sig}
	t.Methods = append(t.Methods, md)
	return md
}

// AddEvent defines an event on t.
func (t *TypeDef) AddEvent(name string, typ TypeSig) *EventDef {
	e := &EventDef{DeclaringType: t, Name: name, Type: typ}
	t.Events = append(t.Events, e)
	return e
}

// AddProperty defines a property on t.
func (t *TypeDef) AddProperty(name string, typ TypeSig) *PropertyDef {
	p := &PropertyDef{DeclaringType: t, Name: name, Type: typ}
	t.Properties = append(t.Properties, p)
	return p
}

// ResolveField finds the field of t that r refers to by name and signature.
func (t *TypeDef) ResolveField(r *MemberRef) (*FieldDef, bool) {
	if r == nil || !r.IsFieldRef() {
		return nil, false
	}
	for _, f := range t.Fields {
		if f.Name == r.Name && SigEqual(f.Type, r.FieldType) {
			return f, true
		}
	}
	return nil, false
}

// ResolveMethod finds the method of t that r refers to by name and signature.
func (t *TypeDef) ResolveMethod(r *MemberRef) (*MethodDef, bool) {
	if r == nil || !r.IsMethodRef() {
		return nil, false
	}
	for _, md := range t.Methods {
		if md.Name == r.Name && md.Sig.Equal(*r.MethodSig) {
			return md, true
		}
	}
	return nil, false
}

// TypeRef refers by name to a type defined in the module named Scope.
type TypeRef struct {
	Scope     string
	Namespace string
	Name      string
}

func (*TypeRef) typeDefOrRef() {}

// FullName returns Namespace.Name.
func (r *TypeRef) FullName() string { return fullName(r.Namespace, r.Name) }

func (r *TypeRef) String() string { return "[" + r.Scope + "]" + r.FullName() }

// TypeSpec refers to a constructed type such as a generic instantiation.
type TypeSpec struct {
	Sig TypeSig
}

func (*TypeSpec) typeDefOrRef() {}

// FullName returns the signature text.
func (s *TypeSpec) FullName() string {
	if s.Sig == nil {
		return ""
	}
	return s.Sig.String()
}

func (s *TypeSpec) String() string { return s.FullName() }

// GenericInst returns the generic instance signature s wraps, if any.
func (s *TypeSpec) GenericInst() (*GenericInstSig, bool) {
	gis, ok := s.Sig.(*GenericInstSig)
	if !ok || gis == nil || gis.GenericType == nil || gis.GenericType.Type == nil {
		return nil, false
	}
	return gis, true
}

// FieldDef is a field defined on a type.
type FieldDef struct {
	DeclaringType *TypeDef
	Name          string
	Type          TypeSig
}

func (f *FieldDef) MemberName() string { return f.Name }
func (*FieldDef) field()               {}

func (f *FieldDef) String() string { return memberString(f.DeclaringType, f.Name) }

// MethodDef is a method defined on a type.
type MethodDef struct {
	DeclaringType *TypeDef
	Name          string
	Sig           MethodSig
}

func (m *MethodDef) MemberName() string { return m.Name }
func (*MethodDef) method()              {}

func (m *MethodDef) String() string { return memberString(m.DeclaringType, m.Name) + m.Sig.String() }

// EventDef is an event defined on a type.
type EventDef struct {
	DeclaringType *TypeDef
	Name          string
	Type          TypeSig
}

func (e *EventDef) String() string { return memberString(e.DeclaringType, e.Name) }

// PropertyDef is a property defined on a type.
type PropertyDef struct {
	DeclaringType *TypeDef
	Name          string
	Type          TypeSig
}

func (p *PropertyDef) String() string { return memberString(p.DeclaringType, p.Name) }

// MemberRef refers to a field or method declared on Class. Exactly one of
// FieldType and MethodSig is set for a well-formed reference.
type MemberRef struct {
	Class     TypeDefOrRef
	Name      string
	FieldType TypeSig
	MethodSig *MethodSig
}

// FieldRef returns a field reference.
func FieldRef(class TypeDefOrRef, name string, typ TypeSig) *MemberRef {
	return &MemberRef{Class: class, Name: name, FieldType: typ}
}

// MethodRef returns a method reference.
func MethodRef(class TypeDefOrRef, name string, sig MethodSig) *MemberRef {
	return &MemberRef{Class: class, Name: name, MethodSig: &sig}
}

func (r *MemberRef) IsFieldRef() bool  { return r.FieldType != nil && r.MethodSig == nil }
func (r *MemberRef) IsMethodRef() bool { return r.MethodSig != nil && r.FieldType == nil }

func (r *MemberRef) MemberName() string { return r.Name }
func (*MemberRef) field()               {}
func (*MemberRef) method()              {}

func (r *MemberRef) String() string {
	var owner string
	if r.Class != nil {
		owner = r.Class.FullName()
	}
	s := owner + "::" + r.Name
	if r.MethodSig != nil {
		s += r.MethodSig.String()
	}
	return s
}

func fullName(namespace, name string) string {
	if namespace == "" {
		return name
	}
	return namespace + "." + name
}

func memberString(t *TypeDef, name string) string {
	if t == nil {
		return name
	}
	return t.FullName() + "::" + name
}

// IsIdentifier reports whether s is a plain printable identifier.
func IsIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_' || r == '<' || r == '>' || r == '`' || r == '$':
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return !strings.HasPrefix(s, "`")
}

// IsSpecialName reports whether s is a runtime special name such as .ctor
// or .cctor, or an explicit interface implementation name such as
// System.IDisposable.Dispose. Such names must be kept as they are.
func IsSpecialName(s string) bool {
	if rest, ok := strings.CutPrefix(s, "."); ok {
		return IsIdentifier(rest)
	}
	if !strings.Contains(s, ".") {
		return false
	}
	for _, part := range strings.Split(s, ".") {
		if !IsIdentifier(part) {
			return false
		}
	}
	return true
}
