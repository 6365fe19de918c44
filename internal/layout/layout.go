// Package layout checks an installation directory and works out which
// modules a patch run should visit.
package layout

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/sirupsen/logrus"

	"repatch/internal/manifest"
)

var ErrLayout = errors.New("layout: folder structure does not match")

// Layout locates the parts of an installation.
type Layout struct {
	Base      string
	ModuleDir string // directory holding the modules to patch
	Manifest  string // integrity manifest, "" when not configured
}

// Resolve joins moduleDir and manifestPath onto base. Either the module
// directory or the manifest must exist.
func Resolve(base, moduleDir, manifestPath string) (*Layout, error) {
	l := &Layout{Base: base, ModuleDir: filepath.Join(base, moduleDir)}
	if manifestPath != "" {
		l.Manifest = filepath.Join(base, manifestPath)
	}
	if isDir(l.ModuleDir) {
		return l, nil
	}
	if l.Manifest != "" && isFile(l.Manifest) {
		return l, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrLayout, base)
}

// Decryptor reads manifest records.
type Decryptor interface {
	Decrypt(file string) ([]manifest.Record, error)
}

// Selection controls which modules are listed.
type Selection struct {
	Extensions []string
	Include    []string
	Exclude    []string
}

// Modules lists the modules to patch. File names come from the manifest
// when it decrypts to at least one record, otherwise from the module
// directory filtered by extension. Excluded names are dropped, included
// names are always added, and the result is sorted without duplicates.
func (l *Layout) Modules(dec Decryptor, sel Selection, log logrus.FieldLogger) ([]string, error) {
	var files []string
	if dec != nil && l.Manifest != "" {
		records, err := dec.Decrypt(l.Manifest)
		if err == nil {
			for _, r := range records {
				files = append(files, r.FileName)
			}
		}
		log.WithField("records", len(records)).Debug("module list from manifest")
	}
	if len(files) == 0 {
		var err error
		files, err = l.scan(sel.Extensions)
		if err != nil {
			return nil, err
		}
		log.WithField("files", len(files)).Debug("module list from directory")
	}
	return PatchList(sel.Include, files, sel.Exclude), nil
}

func (l *Layout) scan(extensions []string) ([]string, error) {
	entries, err := os.ReadDir(l.ModuleDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("layout: scan: %w", err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if hasExtension(e.Name(), extensions) {
			files = append(files, e.Name())
		}
	}
	return files, nil
}

func hasExtension(name string, extensions []string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, x := range extensions {
		if strings.ToLower(x) == ext {
			return true
		}
	}
	return false
}

// PatchList returns include ∪ (files − exclude), deduplicated and sorted.
func PatchList(include, files, exclude []string) []string {
	out := slices.Clone(include)
	for _, f := range files {
		if f != "" && !slices.Contains(exclude, f) {
			out = append(out, f)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

func isDir(p string) bool {
	fi, err := os.Stat(p)
	return err == nil && fi.IsDir()
}

func isFile(p string) bool {
	fi, err := os.Stat(p)
	return err == nil && !fi.IsDir()
}
