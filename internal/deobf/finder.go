package deobf

import (
	"errors"
	"fmt"

	"repatch/internal/metadata"
)

// ErrInconsistentGraph reports that a pass removed a member the index never
// recorded, which means the pass and the index disagree about the module.
var ErrInconsistentGraph = errors.New("deobf: inconsistent member index")

// MemberRefFinder indexes every member a module defines or references.
// Passes remove entries as they delete the corresponding members.
type MemberRefFinder struct {
	TypeDefs     map[*metadata.TypeDef]struct{}
	EventDefs    map[*metadata.EventDef]struct{}
	FieldDefs    map[*metadata.FieldDef]struct{}
	MethodDefs   map[*metadata.MethodDef]struct{}
	PropertyDefs map[*metadata.PropertyDef]struct{}
	MemberRefs   map[*metadata.MemberRef]struct{}
}

// NewMemberRefFinder returns an empty index.
func NewMemberRefFinder() *MemberRefFinder {
	return &MemberRefFinder{
		TypeDefs:     make(map[*metadata.TypeDef]struct{}),
		EventDefs:    make(map[*metadata.EventDef]struct{}),
		FieldDefs:    make(map[*metadata.FieldDef]struct{}),
		MethodDefs:   make(map[*metadata.MethodDef]struct{}),
		PropertyDefs: make(map[*metadata.PropertyDef]struct{}),
		MemberRefs:   make(map[*metadata.MemberRef]struct{}),
	}
}

// FindAll adds every definition and member reference of m to the index.
func (f *MemberRefFinder) FindAll(m *metadata.Module) *MemberRefFinder {
	if m == nil {
		return f
	}
	for _, t := range m.Types {
		f.TypeDefs[t] = struct{}{}
		for _, x := range t.Fields {
			f.FieldDefs[x] = struct{}{}
		}
		for _, x := range t.Methods {
			f.MethodDefs[x] = struct{}{}
		}
		for _, x := range t.Events {
			f.EventDefs[x] = struct{}{}
		}
		for _, x := range t.Properties {
			f.PropertyDefs[x] = struct{}{}
		}
	}
	for _, r := range m.MemberRefs {
		f.MemberRefs[r] = struct{}{}
	}
	return f
}

func remove[K comparable](set map[K]struct{}, k K, kind string) error {
	if _, ok := set[k]; !ok {
		return fmt.Errorf("%w: %s %v not indexed", ErrInconsistentGraph, kind, k)
	}
	delete(set, k)
	return nil
}

// RemoveTypeDef drops t from the index.
func (f *MemberRefFinder) RemoveTypeDef(t *metadata.TypeDef) error {
	return remove(f.TypeDefs, t, "type")
}

// RemoveEventDef drops e from the index.
func (f *MemberRefFinder) RemoveEventDef(e *metadata.EventDef) error {
	return remove(f.EventDefs, e, "event")
}

// RemoveFieldDef drops x from the index.
func (f *MemberRefFinder) RemoveFieldDef(x *metadata.FieldDef) error {
	return remove(f.FieldDefs, x, "field")
}

// RemoveMethodDef drops m from the index.
func (f *MemberRefFinder) RemoveMethodDef(m *metadata.MethodDef) error {
	return remove(f.MethodDefs, m, "method")
}

// RemovePropertyDef drops p from the index.
func (f *MemberRefFinder) RemovePropertyDef(p *metadata.PropertyDef) error {
	return remove(f.PropertyDefs, p, "property")
}

// RemoveMemberRef drops r from the index.
func (f *MemberRefFinder) RemoveMemberRef(r *metadata.MemberRef) error {
	return remove(f.MemberRefs, r, "member reference")
}

// Len returns the total number of indexed entries.
func (f *MemberRefFinder) Len() int {
	return len(f.TypeDefs) + len(f.EventDefs) + len(f.FieldDefs) +
		len(f.MethodDefs) + len(f.PropertyDefs) + len(f.MemberRefs)
}
