package deobf

import (
	"fmt"
	"regexp"

	"repatch/internal/metadata"
)

var (
	// JunkRemovedKey counts the types removed by JunkTypes.
	JunkRemovedKey = NewKey[int]("junk.removed")
	// RenamesKey maps original member strings to their new names.
	RenamesKey = NewKey[map[string]string]("rename.map")
)

// JunkTypes removes types whose full name matches any pattern, together with
// their members and the references that point at them.
type JunkTypes struct {
	Patterns []*regexp.Regexp
}

// NewJunkTypes compiles patterns.
func NewJunkTypes(patterns []string) (*JunkTypes, error) {
	j := &JunkTypes{}
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("deobf: junk pattern %q: %w", p, err)
		}
		j.Patterns = append(j.Patterns, re)
	}
	return j, nil
}

func (j *JunkTypes) Name() string { return "junk-types" }

func (j *JunkTypes) matches(name string) bool {
	for _, re := range j.Patterns {
		if re.MatchString(name) {
			return true
		}
	}
	return false
}

func (j *JunkTypes) Run(r *Run) error {
	md := r.Module.Metadata
	junk := make(map[*metadata.TypeDef]bool)
	for _, t := range md.Types {
		if j.matches(t.FullName()) {
			junk[t] = true
		}
	}
	if len(junk) == 0 {
		Set(r.Context.Store, JunkRemovedKey, 0)
		return nil
	}

	// References are resolved while the junk types are still in the scope.
	kept := md.MemberRefs[:0]
	for _, ref := range md.MemberRefs {
		if t, ok := r.Context.ResolveType(ref.Class); ok && junk[t] {
			if err := r.Finder.RemoveMemberRef(ref); err != nil {
				return err
			}
			continue
		}
		kept = append(kept, ref)
	}
	md.MemberRefs = kept

	for _, t := range append([]*metadata.TypeDef(nil), md.Types...) {
		if !junk[t] {
			continue
		}
		if err := removeType(r.Finder, t); err != nil {
			return err
		}
		md.RemoveType(t)
		r.Log.WithField("type", t.FullName()).Debug("removed junk type")
	}
	Set(r.Context.Store, JunkRemovedKey, len(junk))
	return nil
}

func removeType(f *MemberRefFinder, t *metadata.TypeDef) error {
	for _, x := range t.Fields {
		if err := f.RemoveFieldDef(x); err != nil {
			return err
		}
	}
	for _, x := range t.Methods {
		if err := f.RemoveMethodDef(x); err != nil {
			return err
		}
	}
	for _, x := range t.Events {
		if err := f.RemoveEventDef(x); err != nil {
			return err
		}
	}
	for _, x := range t.Properties {
		if err := f.RemovePropertyDef(x); err != nil {
			return err
		}
	}
	return f.RemoveTypeDef(t)
}

// obfuscated reports whether name should be replaced. Special names such as
// .ctor and explicit interface implementations stay.
func obfuscated(name string) bool {
	return !metadata.IsIdentifier(name) && !metadata.IsSpecialName(name)
}

// Rename gives members whose names are not plain identifiers sequential
// names and rewrites member references to match.
type Rename struct{}

func (Rename) Name() string { return "rename" }

func (Rename) Run(r *Run) error {
	md := r.Module.Metadata

	// Bind references to definitions before any name changes, since
	// resolution matches by name.
	type binding struct {
		ref   *metadata.MemberRef
		field *metadata.FieldDef
		meth  *metadata.MethodDef
	}
	var bound []binding
	for _, ref := range md.MemberRefs {
		switch {
		case ref.IsFieldRef():
			if f, ok := r.Context.ResolveField(ref); ok {
				bound = append(bound, binding{ref: ref, field: f})
				continue
			}
		case ref.IsMethodRef():
			if m, ok := r.Context.ResolveMethod(ref); ok {
				bound = append(bound, binding{ref: ref, meth: m})
				continue
			}
		}
		r.Log.WithField("ref", ref.String()).Debug("unresolved member reference")
	}

	renames := make(map[string]string)
	var nt, nf, nm, ne, np int
	rename := func(old string, n *int, prefix string) string {
		*n++
		name := fmt.Sprintf("%s%d", prefix, *n)
		renames[old] = name
		return name
	}
	for _, t := range md.Types {
		if obfuscated(t.Name) {
			t.Name = rename(t.FullName(), &nt, "Type")
		}
		for _, x := range t.Fields {
			if obfuscated(x.Name) {
				x.Name = rename(x.String(), &nf, "field_")
			}
		}
		for _, x := range t.Methods {
			if obfuscated(x.Name) {
				x.Name = rename(x.String(), &nm, "method_")
			}
		}
		for _, x := range t.Events {
			if obfuscated(x.Name) {
				x.Name = rename(x.String(), &ne, "event_")
			}
		}
		for _, x := range t.Properties {
			if obfuscated(x.Name) {
				x.Name = rename(x.String(), &np, "prop_")
			}
		}
	}

	for _, b := range bound {
		switch {
		case b.field != nil:
			b.ref.Name = b.field.Name
		case b.meth != nil:
			b.ref.Name = b.meth.Name
		}
	}

	Set(r.Context.Store, RenamesKey, renames)
	r.Log.WithField("renamed", len(renames)).Debug("renamed members")
	return nil
}
