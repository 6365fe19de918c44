package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/sirupsen/logrus"

	"repatch/internal/config"
	"repatch/internal/deobf"
	"repatch/internal/logging"
	"repatch/internal/manifest"
	"repatch/internal/module"
	"repatch/internal/patch"
)

func setup(configPath string) (*config.Config, *logrus.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	log, err := logging.New(cfg.Log.Level, cfg.Log.JSON, os.Stderr)
	if err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}

func newCodec(cfg *config.Config, log logrus.FieldLogger) (*manifest.Codec, error) {
	salt, err := cfg.Manifest.SaltBytes()
	if err != nil {
		return nil, err
	}
	return manifest.NewCodec([]byte(cfg.Manifest.Password), salt, cfg.Manifest.Iterations, log)
}

// loadTransforms resolves a comma-separated list of patch set names or
// files. An empty list selects every configured set, ordered by name.
func loadTransforms(cfg *config.Config, types string, log logrus.FieldLogger) ([]patch.Transform, error) {
	var sets []string
	for _, s := range strings.Split(types, ",") {
		if s = strings.TrimSpace(s); s != "" {
			sets = append(sets, s)
		}
	}
	if len(sets) == 0 {
		for name := range cfg.PatchSets {
			sets = append(sets, name)
		}
		slices.Sort(sets)
	}
	if len(sets) == 0 {
		return nil, errors.New("no patch sets configured")
	}

	var all []patch.Transform
	for _, s := range sets {
		path := s
		if p, ok := cfg.PatchSets[strings.ToLower(s)]; ok {
			path = p
		}
		ts, err := patch.LoadSet(path, log)
		if err != nil {
			return nil, fmt.Errorf("patch set %s: %w", s, err)
		}
		log.WithFields(logrus.Fields{"set": s, "transforms": len(ts)}).Debug("loaded patch set")
		all = append(all, ts...)
	}
	if err := patch.ValidateOrder(all); err != nil {
		return nil, err
	}
	return all, nil
}

// newDeobfuscator builds the pass pipeline and registers the metadata of
// every listed module so cross-module references resolve.
func newDeobfuscator(cfg *config.Config, dir string, modules []string, log logrus.FieldLogger) (*deobf.Deobfuscator, error) {
	junk, err := deobf.NewJunkTypes(cfg.Deobfuscate.JunkTypes)
	if err != nil {
		return nil, err
	}
	d := deobf.New(log, junk, deobf.Rename{})
	for _, name := range modules {
		m, err := module.Load(filepath.Join(dir, name))
		if err != nil || m.Metadata == nil {
			continue
		}
		d.AddReference(m.Metadata)
	}
	return d, nil
}
