package deobf

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"repatch/internal/metadata"
	"repatch/internal/module"
)

// ErrNoMetadata is returned for modules that carry no object model.
var ErrNoMetadata = errors.New("deobf: module has no metadata")

// Pass is one step of a deobfuscation run.
type Pass interface {
	Name() string
	Run(r *Run) error
}

// Run is the state shared by the passes of one Deobfuscate call.
type Run struct {
	Module  *module.Module
	Context *Context
	Finder  *MemberRefFinder
	Log     logrus.FieldLogger
}

// Deobfuscator runs a fixed pass pipeline over modules.
type Deobfuscator struct {
	Passes []Pass

	refs []*metadata.Module
	log  logrus.FieldLogger
}

// New returns a deobfuscator running passes in order.
func New(log logrus.FieldLogger, passes ...Pass) *Deobfuscator {
	if log == nil {
		l := logrus.New()
		l.SetLevel(logrus.PanicLevel)
		log = l
	}
	return &Deobfuscator{Passes: passes, log: log}
}

// AddReference makes the types of m resolvable from every later run.
func (d *Deobfuscator) AddReference(m *metadata.Module) {
	if m != nil {
		d.refs = append(d.refs, m)
	}
}

// Deobfuscate loads the module at in, runs every pass, and writes the
// result to out. Errors wrapping ErrInconsistentGraph mean the module's
// index was corrupted by a pass and the caller should stop.
func (d *Deobfuscator) Deobfuscate(in, out string) error {
	m, err := module.Load(in)
	if err != nil {
		return err
	}
	if err := d.Apply(m); err != nil {
		return err
	}
	return m.Write(out)
}

// Apply runs every pass over m in memory.
func (d *Deobfuscator) Apply(m *module.Module) error {
	if m.Metadata == nil {
		return ErrNoMetadata
	}
	scope := metadata.NewScope(d.refs...)
	scope.Add(m.Metadata)

	r := &Run{
		Module:  m,
		Context: NewContext(scope),
		Finder:  NewMemberRefFinder().FindAll(m.Metadata),
		Log:     d.log.WithField("module", m.Name),
	}
	defer r.Context.Clear()

	for _, p := range d.Passes {
		r.Log.WithField("pass", p.Name()).Debug("running pass")
		if err := p.Run(r); err != nil {
			return fmt.Errorf("deobf: %s: %w", p.Name(), err)
		}
	}
	return nil
}
