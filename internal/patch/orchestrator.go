package patch

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"repatch/internal/deobf"
	"repatch/internal/module"
)

// DefaultOutputDir is where patched modules are written, relative to the
// base directory.
const DefaultOutputDir = "patched"

// Deobfuscator rewrites the module at in and writes the result to out.
type Deobfuscator interface {
	Deobfuscate(in, out string) error
}

// Options controls a patch run.
type Options struct {
	OutputDir   string
	Deobfuscate bool
	Force       bool // patch modules that already carry the patched mark
	Required    []string
	Out         io.Writer
}

// Orchestrator applies a fixed transform list to modules under a base
// directory.
type Orchestrator struct {
	transforms []Transform
	opts       Options
	deobf      Deobfuscator
	log        logrus.FieldLogger
}

var (
	tagPatched = color.New(color.FgGreen).SprintFunc()
	tagSkip    = color.New(color.FgYellow).SprintFunc()
	tagFailed  = color.New(color.FgRed).SprintFunc()
	tagDeobf   = color.New(color.FgCyan).SprintFunc()
)

// New validates transforms and returns an orchestrator. d may be nil when
// opts.Deobfuscate is false.
func New(transforms []Transform, opts Options, d Deobfuscator, log *logrus.Logger) (*Orchestrator, error) {
	if err := ValidateOrder(transforms); err != nil {
		return nil, err
	}
	if opts.Deobfuscate && d == nil {
		return nil, errors.New("patch: deobfuscation requested without a deobfuscator")
	}
	if opts.OutputDir == "" {
		opts.OutputDir = DefaultOutputDir
	}
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Orchestrator{transforms: transforms, opts: opts, deobf: d, log: log}, nil
}

// Run patches each named module under base in order and prints one status
// line per module followed by the transform legend. It returns early with
// an error when base or a required module is missing, or when
// deobfuscation finds an inconsistent member index; the report holds every
// module processed so far.
func (o *Orchestrator) Run(base string, modules []string) (*Report, error) {
	out := o.opts.Out
	if fi, err := os.Stat(base); err != nil || !fi.IsDir() {
		fmt.Fprintf(out, "Folder '%s' not found, exiting...\n", base)
		return nil, fmt.Errorf("%w: %s", ErrNoBaseDir, base)
	}
	for _, lib := range o.opts.Required {
		if _, err := os.Stat(filepath.Join(base, lib)); err != nil {
			fmt.Fprintf(out, "Required library '%s' not found, exiting...\n", lib)
			return nil, fmt.Errorf("%w: %s", ErrRequiredMissing, lib)
		}
	}

	report := &Report{
		RunID:      uuid.NewString(),
		Started:    time.Now(),
		Transforms: Names(o.transforms),
	}
	log := o.log.WithFields(logrus.Fields{"run": report.RunID, "base": base})
	log.WithField("modules", len(modules)).Info("patch run started")

	indent := 1
	for _, name := range modules {
		indent = max(indent, utf8.RuneCountInString(name)+1)
	}

	fmt.Fprintln(out, "=== Patch Begin ===")
	var fatal error
	for _, name := range modules {
		res, err := o.patchModule(base, name, log.WithField("module", name))
		report.Results = append(report.Results, res)
		fmt.Fprintf(out, "%s%s%s\n", name, strings.Repeat(" ", indent-utf8.RuneCountInString(name)), o.statusLine(res))
		if err != nil {
			fatal = err
			log.WithError(err).Error("patch run aborted")
			break
		}
	}
	for _, line := range Legend(report.Transforms) {
		fmt.Fprintln(out, strings.Repeat(" ", indent)+line)
	}
	fmt.Fprintln(out, "=== Patch Done ===")

	log.WithFields(logrus.Fields{
		"patched": report.Count(StatusPatched),
		"skipped": report.Count(StatusSkip),
		"failed":  report.Count(StatusFailed),
	}).Info("patch run finished")
	return report, fatal
}

func (o *Orchestrator) statusLine(res Result) string {
	var b strings.Builder
	switch res.Status {
	case StatusNotFound:
		b.WriteString(" " + tagFailed("[not found]"))
		return b.String()
	case StatusAlreadyPatched:
		return tagSkip("[already patched]")
	}
	if res.Applied != nil {
		b.WriteString(res.Indicator() + " ")
	}
	switch res.Status {
	case StatusSkip:
		b.WriteString(tagSkip("[skip]"))
	case StatusFailed:
		b.WriteString(tagFailed("[failed]") + ": " + res.Reason)
	case StatusPatched:
		b.WriteString(tagPatched("[patched]"))
		switch res.Deobfuscation {
		case deobfSuccess:
			b.WriteString(tagDeobf("[deobfuscate success" + elapsedSuffix(res.DeobfElapsed) + "]"))
		case deobfSkipped:
			b.WriteString(tagSkip("[deobfuscate skipped]") + ": " + res.Reason)
		case deobfFailed:
			b.WriteString(tagFailed("[deobfuscate failed]") + ": " + res.Reason)
		}
	}
	return b.String()
}

// elapsedSuffix renders " in mm:ss" for runs longer than a second.
func elapsedSuffix(d time.Duration) string {
	if d <= time.Second {
		return ""
	}
	return fmt.Sprintf(" in %02d:%02d", int(d/time.Minute)%60, int(d/time.Second)%60)
}

const (
	deobfSuccess = "success"
	deobfSkipped = "skipped"
	deobfFailed  = "failed"
)

// patchModule processes one module. The returned error is non-nil only when
// the whole run must stop.
func (o *Orchestrator) patchModule(base, name string, log logrus.FieldLogger) (res Result, fatal error) {
	res = Result{Module: name}
	src := filepath.Join(base, name)
	target := filepath.Join(base, o.opts.OutputDir, name)

	if _, err := os.Stat(src); err != nil {
		res.Status = StatusNotFound
		log.Warn("module not found")
		return res, nil
	}

	start := time.Now()
	defer func() {
		res.Elapsed = time.Since(start)
	}()
	defer func() {
		if r := recover(); r != nil {
			res.Status = StatusFailed
			res.Reason = fmt.Sprint(r)
			log.WithField("panic", r).Error("module failed")
			removeOutput(target, log)
		}
	}()

	err := o.process(src, target, &res, log)
	switch {
	case err == nil:
		log.WithFields(logrus.Fields{"status": res.Status, "applied": res.Indicator()}).Info("module processed")
		return res, nil
	case errors.Is(err, deobf.ErrInconsistentGraph):
		return res, fmt.Errorf("patch: %s: %w", name, err)
	default:
		res.Status = StatusFailed
		res.Reason = err.Error()
		log.WithError(err).Error("module failed")
		removeOutput(target, log)
		return res, nil
	}
}

func (o *Orchestrator) process(src, target string, res *Result, log logrus.FieldLogger) error {
	m, err := module.Load(src)
	if err != nil {
		return err
	}
	if m.HasPatchedMark() && !o.opts.Force {
		res.Status = StatusAlreadyPatched
		return nil
	}

	applied := make([]bool, len(o.transforms))
	for i, t := range o.transforms {
		changed, err := t.Apply(m)
		if err != nil {
			return fmt.Errorf("%s: %w", t.Name, err)
		}
		applied[i] = changed
		log.WithFields(logrus.Fields{"transform": t.Name, "changed": changed}).Debug("transform applied")
	}
	res.Applied = applied
	if !res.Any() {
		res.Status = StatusSkip
		return nil
	}

	m.SetPatchedMark()
	if err := m.Write(target); err != nil {
		return err
	}
	res.Status = StatusPatched

	if o.opts.Deobfuscate {
		return o.deobfuscate(target, res, log)
	}
	return nil
}

func (o *Orchestrator) deobfuscate(target string, res *Result, log logrus.FieldLogger) error {
	tmp := target + ".deobf"
	start := time.Now()
	if err := o.runDeobfuscator(target, tmp); err != nil {
		removeOutput(tmp, log)
		res.Reason = err.Error()
		if errors.Is(err, deobf.ErrInconsistentGraph) {
			res.Deobfuscation = deobfFailed
			return err
		}
		res.Deobfuscation = deobfSkipped
		log.WithError(err).Warn("deobfuscation skipped")
		return nil
	}
	if err := os.Rename(tmp, target); err != nil {
		removeOutput(tmp, log)
		return fmt.Errorf("patch: replace %s: %w", target, err)
	}
	res.Deobfuscation = deobfSuccess
	res.DeobfElapsed = time.Since(start)
	return nil
}

// runDeobfuscator turns a deobfuscator panic into an error so the patched
// output survives.
func (o *Orchestrator) runDeobfuscator(in, out string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("deobfuscator panic: %v", r)
		}
	}()
	return o.deobf.Deobfuscate(in, out)
}

func removeOutput(path string, log logrus.FieldLogger) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		log.WithError(err).WithField("path", path).Warn("remove output")
	}
}
