package metadata

import (
	"fmt"
	"strings"
)

// TypeSig is a type signature.
type TypeSig interface {
	String() string
	typeSig()
}

// CorLibSig is a built-in type such as "int32" or "string".
type CorLibSig struct {
	Name string
}

// ClassSig names a class or value type.
type ClassSig struct {
	Type TypeDefOrRef
}

// GenericVar is the Number'th generic parameter of the enclosing type (!N).
type GenericVar struct {
	Number int
}

// GenericMVar is the Number'th generic parameter of the enclosing method (!!N).
type GenericMVar struct {
	Number int
}

// GenericInstSig instantiates GenericType with Args.
type GenericInstSig struct {
	GenericType *ClassSig
	Args        []TypeSig
}

// SZArraySig is a single-dimension zero-based array of Elem.
type SZArraySig struct {
	Elem TypeSig
}

func (*CorLibSig) typeSig()      {}
func (*ClassSig) typeSig()       {}
func (*GenericVar) typeSig()     {}
func (*GenericMVar) typeSig()    {}
func (*GenericInstSig) typeSig() {}
func (*SZArraySig) typeSig()     {}

func (s *CorLibSig) String() string { return s.Name }

func (s *ClassSig) String() string {
	if s.Type == nil {
		return "<nil>"
	}
	return s.Type.FullName()
}

func (s *GenericVar) String() string  { return fmt.Sprintf("!%d", s.Number) }
func (s *GenericMVar) String() string { return fmt.Sprintf("!!%d", s.Number) }

func (s *GenericInstSig) String() string {
	var b strings.Builder
	if s.GenericType != nil {
		b.WriteString(s.GenericType.String())
	}
	b.WriteByte('<')
	for i, a := range s.Args {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(sigString(a))
	}
	b.WriteByte('>')
	return b.String()
}

func (s *SZArraySig) String() string { return sigString(s.Elem) + "[]" }

func sigString(s TypeSig) string {
	if s == nil {
		return "<nil>"
	}
	return s.String()
}

// Corlib returns a built-in type signature.
func Corlib(name string) *CorLibSig { return &CorLibSig{Name: name} }

// Class returns a class signature for t.
func Class(t TypeDefOrRef) *ClassSig { return &ClassSig{Type: t} }

// Var returns the type generic parameter !n.
func Var(n int) *GenericVar { return &GenericVar{Number: n} }

// Instantiate returns a TypeSpec for generic applied to args.
func Instantiate(generic TypeDefOrRef, args ...TypeSig) *TypeSpec {
	return &TypeSpec{Sig: &GenericInstSig{GenericType: Class(generic), Args: args}}
}

// MethodSig is a method signature.
type MethodSig struct {
	Ret           TypeSig
	Params        []TypeSig
	GenParamCount int
}

// Sig returns a MethodSig with the given return and parameter types.
func Sig(ret TypeSig, params ...TypeSig) MethodSig {
	return MethodSig{Ret: ret, Params: params}
}

func (m MethodSig) String() string {
	var b strings.Builder
	if m.GenParamCount > 0 {
		fmt.Fprintf(&b, "<%d>", m.GenParamCount)
	}
	b.WriteByte('(')
	for i, p := range m.Params {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(sigString(p))
	}
	b.WriteString(")")
	b.WriteString(sigString(m.Ret))
	return b.String()
}

// Equal reports whether m and o have equivalent signatures.
func (m MethodSig) Equal(o MethodSig) bool {
	if m.GenParamCount != o.GenParamCount || len(m.Params) != len(o.Params) {
		return false
	}
	if !SigEqual(m.Ret, o.Ret) {
		return false
	}
	for i := range m.Params {
		if !SigEqual(m.Params[i], o.Params[i]) {
			return false
		}
	}
	return true
}

// Substitute replaces type generic parameters in m with args.
func (m MethodSig) Substitute(args []TypeSig) MethodSig {
	out := MethodSig{Ret: Substitute(m.Ret, args), GenParamCount: m.GenParamCount}
	if len(m.Params) > 0 {
		out.Params = make([]TypeSig, len(m.Params))
		for i, p := range m.Params {
			out.Params[i] = Substitute(p, args)
		}
	}
	return out
}

// SigEqual reports whether a and b describe the same type.
func SigEqual(a, b TypeSig) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	switch x := a.(type) {
	case *CorLibSig:
		y, ok := b.(*CorLibSig)
		return ok && x.Name == y.Name
	case *ClassSig:
		y, ok := b.(*ClassSig)
		return ok && TypeEqual(x.Type, y.Type)
	case *GenericVar:
		y, ok := b.(*GenericVar)
		return ok && x.Number == y.Number
	case *GenericMVar:
		y, ok := b.(*GenericMVar)
		return ok && x.Number == y.Number
	case *GenericInstSig:
		y, ok := b.(*GenericInstSig)
		if !ok || len(x.Args) != len(y.Args) {
			return false
		}
		if !SigEqual(classOrNil(x.GenericType), classOrNil(y.GenericType)) {
			return false
		}
		for i := range x.Args {
			if !SigEqual(x.Args[i], y.Args[i]) {
				return false
			}
		}
		return true
	case *SZArraySig:
		y, ok := b.(*SZArraySig)
		return ok && SigEqual(x.Elem, y.Elem)
	}
	return false
}

func classOrNil(c *ClassSig) TypeSig {
	if c == nil {
		return nil
	}
	return c
}

// Substitute replaces every !N in s with args[N]. Parameters without a
// matching argument are left as they are.
func Substitute(s TypeSig, args []TypeSig) TypeSig {
	switch x := s.(type) {
	case *GenericVar:
		if x.Number >= 0 && x.Number < len(args) {
			return args[x.Number]
		}
		return x
	case *GenericInstSig:
		out := &GenericInstSig{GenericType: x.GenericType, Args: make([]TypeSig, len(x.Args))}
		for i, a := range x.Args {
			out.Args[i] = Substitute(a, args)
		}
		return out
	case *SZArraySig:
		return &SZArraySig{Elem: Substitute(x.Elem, args)}
	}
	return s
}

// TypeKey returns a string that is equal for two type references exactly
// when they denote the same type. A *TypeDef and a *TypeRef naming the same
// type in the same module share a key.
func TypeKey(t TypeDefOrRef) string {
	switch x := t.(type) {
	case *TypeDef:
		if x == nil {
			return ""
		}
		var scope string
		if x.Module != nil {
			scope = x.Module.Name
		}
		return "[" + scope + "]" + x.FullName()
	case *TypeRef:
		if x == nil {
			return ""
		}
		return "[" + x.Scope + "]" + x.FullName()
	case *TypeSpec:
		if x == nil {
			return ""
		}
		return "spec:" + sigKey(x.Sig)
	}
	return ""
}

func sigKey(s TypeSig) string {
	switch x := s.(type) {
	case *ClassSig:
		return TypeKey(x.Type)
	case *GenericInstSig:
		var b strings.Builder
		if x.GenericType != nil {
			b.WriteString(TypeKey(x.GenericType.Type))
		}
		b.WriteByte('<')
		for i, a := range x.Args {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(sigKey(a))
		}
		b.WriteByte('>')
		return b.String()
	case *SZArraySig:
		return sigKey(x.Elem) + "[]"
	case nil:
		return "<nil>"
	}
	return s.String()
}

// TypeEqual reports whether a and b denote the same type.
func TypeEqual(a, b TypeDefOrRef) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return TypeKey(a) == TypeKey(b)
}
