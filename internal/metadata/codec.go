package metadata

import (
	"encoding/json"
	"fmt"
)

// The stream form references types defined in the same module by index and
// everything else by scope and name.

type moduleJSON struct {
	Name       string          `json:"name"`
	Types      []typeJSON      `json:"types,omitempty"`
	MemberRefs []memberRefJSON `json:"member_refs,omitempty"`
}

type typeJSON struct {
	Namespace     string       `json:"namespace,omitempty"`
	Name          string       `json:"name"`
	GenericParams []string     `json:"generic_params,omitempty"`
	Fields        []memberJSON `json:"fields,omitempty"`
	Methods       []memberJSON `json:"methods,omitempty"`
	Events        []memberJSON `json:"events,omitempty"`
	Properties    []memberJSON `json:"properties,omitempty"`
}

type memberJSON struct {
	Name string         `json:"name"`
	Type *sigJSON       `json:"type,omitempty"`
	Sig  *methodSigJSON `json:"sig,omitempty"`
}

type memberRefJSON struct {
	Class     typeRefJSON    `json:"class"`
	Name      string         `json:"name"`
	FieldType *sigJSON       `json:"field_type,omitempty"`
	MethodSig *methodSigJSON `json:"method_sig,omitempty"`
}

type methodSigJSON struct {
	Ret           *sigJSON  `json:"ret,omitempty"`
	Params        []sigJSON `json:"params,omitempty"`
	GenParamCount int       `json:"gen_params,omitempty"`
}

type typeRefJSON struct {
	Def       *int     `json:"def,omitempty"`
	Scope     string   `json:"scope,omitempty"`
	Namespace string   `json:"namespace,omitempty"`
	Name      string   `json:"name,omitempty"`
	Spec      *sigJSON `json:"spec,omitempty"`
}

type sigJSON struct {
	Kind   string       `json:"kind"`
	Name   string       `json:"name,omitempty"`
	Type   *typeRefJSON `json:"type,omitempty"`
	Number int          `json:"n,omitempty"`
	Args   []sigJSON    `json:"args,omitempty"`
	Elem   *sigJSON     `json:"elem,omitempty"`
}

const (
	kindCorLib  = "corlib"
	kindClass   = "class"
	kindVar     = "var"
	kindMVar    = "mvar"
	kindGeneric = "generic"
	kindSZArray = "szarray"
	kindNull    = "null"
)

// Encode serialises m.
func Encode(m *Module) ([]byte, error) {
	e := encoder{index: make(map[*TypeDef]int)}
	for i, t := range m.Types {
		e.index[t] = i
	}
	out := moduleJSON{Name: m.Name}
	for _, t := range m.Types {
		tj := typeJSON{Namespace: t.Namespace, Name: t.Name, GenericParams: t.GenericParams}
		for _, f := range t.Fields {
			tj.Fields = append(tj.Fields, memberJSON{Name: f.Name, Type: e.sig(f.Type)})
		}
		for _, md := range t.Methods {
			tj.Methods = append(tj.Methods, memberJSON{Name: md.Name, Sig: e.methodSig(md.Sig)})
		}
		for _, ev := range t.Events {
			tj.Events = append(tj.Events, memberJSON{Name: ev.Name, Type: e.sig(ev.Type)})
		}
		for _, p := range t.Properties {
			tj.Properties = append(tj.Properties, memberJSON{Name: p.Name, Type: e.sig(p.Type)})
		}
		out.Types = append(out.Types, tj)
	}
	for _, r := range m.MemberRefs {
		rj := memberRefJSON{Class: e.typeRef(r.Class), Name: r.Name, FieldType: e.sig(r.FieldType)}
		if r.MethodSig != nil {
			rj.MethodSig = e.methodSig(*r.MethodSig)
		}
		out.MemberRefs = append(out.MemberRefs, rj)
	}
	data, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("metadata: encode: %w", err)
	}
	return data, nil
}

type encoder struct {
	index map[*TypeDef]int
}

func (e *encoder) typeRef(t TypeDefOrRef) typeRefJSON {
	switch x := t.(type) {
	case *TypeDef:
		if i, ok := e.index[x]; ok {
			return typeRefJSON{Def: &i}
		}
		var scope string
		if x.Module != nil {
			scope = x.Module.Name
		}
		return typeRefJSON{Scope: scope, Namespace: x.Namespace, Name: x.Name}
	case *TypeRef:
		return typeRefJSON{Scope: x.Scope, Namespace: x.Namespace, Name: x.Name}
	case *TypeSpec:
		return typeRefJSON{Spec: e.sig(x.Sig)}
	}
	return typeRefJSON{}
}

func (e *encoder) sig(s TypeSig) *sigJSON {
	switch x := s.(type) {
	case *CorLibSig:
		return &sigJSON{Kind: kindCorLib, Name: x.Name}
	case *ClassSig:
		tr := e.typeRef(x.Type)
		return &sigJSON{Kind: kindClass, Type: &tr}
	case *GenericVar:
		return &sigJSON{Kind: kindVar, Number: x.Number}
	case *GenericMVar:
		return &sigJSON{Kind: kindMVar, Number: x.Number}
	case *GenericInstSig:
		out := &sigJSON{Kind: kindGeneric}
		if x.GenericType != nil {
			tr := e.typeRef(x.GenericType.Type)
			out.Type = &tr
		}
		for _, a := range x.Args {
			out.Args = append(out.Args, e.listSig(a))
		}
		return out
	case *SZArraySig:
		return &sigJSON{Kind: kindSZArray, Elem: e.sig(x.Elem)}
	}
	return nil
}

func (e *encoder) methodSig(m MethodSig) *methodSigJSON {
	out := &methodSigJSON{Ret: e.sig(m.Ret), GenParamCount: m.GenParamCount}
	for _, p := range m.Params {
		out.Params = append(out.Params, e.listSig(p))
	}
	return out
}

// listSig encodes a list element; a missing signature keeps its slot.
func (e *encoder) listSig(s TypeSig) sigJSON {
	if j := e.sig(s); j != nil {
		return *j
	}
	return sigJSON{Kind: kindNull}
}

// Decode parses a stream produced by Encode.
func Decode(data []byte) (*Module, error) {
	var in moduleJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, fmt.Errorf("metadata: decode: %w", err)
	}
	m := NewModule(in.Name)
	for _, tj := range in.Types {
		m.AddType(tj.Namespace, tj.Name, tj.GenericParams...)
	}
	d := decoder{module: m}
	for i, tj := range in.Types {
		t := m.Types[i]
		for _, f := range tj.Fields {
			typ, err := d.sig(f.Type)
			if err != nil {
				return nil, fmt.Errorf("metadata: %s.%s: %w", t.FullName(), f.Name, err)
			}
			t.AddField(f.Name, typ)
		}
		for _, md := range tj.Methods {
			sig, err := d.methodSig(md.Sig)
			if err != nil {
				return nil, fmt.Errorf("metadata: %s.%s: %w", t.FullName(), md.Name, err)
			}
			t.AddMethod(md.Name, sig)
		}
		for _, ev := range tj.Events {
			typ, err := d.sig(ev.Type)
			if err != nil {
				return nil, fmt.Errorf("metadata: %s.%s: %w", t.FullName(), ev.Name, err)
			}
			t.AddEvent(ev.Name, typ)
		}
		for _, p := range tj.Properties {
			typ, err := d.sig(p.Type)
			if err != nil {
				return nil, fmt.Errorf("metadata: %s.%s: %w", t.FullName(), p.Name, err)
			}
			t.AddProperty(p.Name, typ)
		}
	}
	for i, rj := range in.MemberRefs {
		class, err := d.typeRef(rj.Class)
		if err != nil {
			return nil, fmt.Errorf("metadata: member ref %d: %w", i, err)
		}
		r := &MemberRef{Class: class, Name: rj.Name}
		if rj.FieldType != nil {
			if r.FieldType, err = d.sig(rj.FieldType); err != nil {
				return nil, fmt.Errorf("metadata: member ref %d: %w", i, err)
			}
		}
		if rj.MethodSig != nil {
			sig, err := d.methodSig(rj.MethodSig)
			if err != nil {
				return nil, fmt.Errorf("metadata: member ref %d: %w", i, err)
			}
			r.MethodSig = &sig
		}
		m.AddMemberRef(r)
	}
	return m, nil
}

type decoder struct {
	module *Module
}

func (d *decoder) typeRef(j typeRefJSON) (TypeDefOrRef, error) {
	switch {
	case j.Def != nil:
		if *j.Def < 0 || *j.Def >= len(d.module.Types) {
			return nil, fmt.Errorf("type index %d out of range", *j.Def)
		}
		return d.module.Types[*j.Def], nil
	case j.Spec != nil:
		sig, err := d.sig(j.Spec)
		if err != nil {
			return nil, err
		}
		return &TypeSpec{Sig: sig}, nil
	case j.Name != "":
		return &TypeRef{Scope: j.Scope, Namespace: j.Namespace, Name: j.Name}, nil
	}
	return nil, fmt.Errorf("empty type reference")
}

func (d *decoder) sig(j *sigJSON) (TypeSig, error) {
	if j == nil {
		return nil, nil
	}
	switch j.Kind {
	case kindNull:
		return nil, nil
	case kindCorLib:
		return Corlib(j.Name), nil
	case kindClass:
		if j.Type == nil {
			return nil, fmt.Errorf("class signature without type")
		}
		t, err := d.typeRef(*j.Type)
		if err != nil {
			return nil, err
		}
		return Class(t), nil
	case kindVar:
		return Var(j.Number), nil
	case kindMVar:
		return &GenericMVar{Number: j.Number}, nil
	case kindGeneric:
		out := &GenericInstSig{}
		if j.Type != nil {
			t, err := d.typeRef(*j.Type)
			if err != nil {
				return nil, err
			}
			out.GenericType = Class(t)
		}
		for i := range j.Args {
			a, err := d.sig(&j.Args[i])
			if err != nil {
				return nil, err
			}
			out.Args = append(out.Args, a)
		}
		return out, nil
	case kindSZArray:
		elem, err := d.sig(j.Elem)
		if err != nil {
			return nil, err
		}
		return &SZArraySig{Elem: elem}, nil
	}
	return nil, fmt.Errorf("unknown signature kind %q", j.Kind)
}

func (d *decoder) methodSig(j *methodSigJSON) (MethodSig, error) {
	if j == nil {
		return MethodSig{}, nil
	}
	ret, err := d.sig(j.Ret)
	if err != nil {
		return MethodSig{}, err
	}
	out := MethodSig{Ret: ret, GenParamCount: j.GenParamCount}
	for i := range j.Params {
		p, err := d.sig(&j.Params[i])
		if err != nil {
			return MethodSig{}, err
		}
		out.Params = append(out.Params, p)
	}
	return out, nil
}
