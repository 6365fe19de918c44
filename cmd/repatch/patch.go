package main

import (
	"flag"
	"fmt"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"repatch/internal/layout"
	"repatch/internal/output"
	"repatch/internal/patch"
)

func cmdPatch(args []string) error {
	fs := flag.NewFlagSet("patch", flag.ExitOnError)
	cfgPath := fs.String("config", "", "config file")
	types := fs.String("type", "", "comma-separated patch set names or files")
	deobfuscate := fs.Bool("deobfuscate", false, "deobfuscate patched modules")
	force := fs.Bool("force", false, "patch modules already marked as patched")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("patch: base directory is required")
	}
	base := fs.Arg(0)
	cfg, log, err := setup(*cfgPath)
	if err != nil {
		return err
	}

	lay, err := layout.Resolve(base, cfg.ModuleDir, cfg.Manifest.Path)
	if err != nil {
		fmt.Fprintf(stdout, "Folder structure does not match under: %s, please check your installation\n", base)
		return &exitError{code: -1, err: err}
	}

	var dec layout.Decryptor
	if cfg.Manifest.HasKey() {
		if codec, err := newCodec(cfg, log); err == nil {
			dec = codec
		} else {
			log.WithError(err).Warn("manifest key unusable, listing modules from directory")
		}
	}
	modules, err := lay.Modules(dec, layout.Selection{
		Extensions: cfg.Extensions,
		Include:    cfg.Include,
		Exclude:    cfg.Exclude,
	}, log)
	if err != nil {
		return err
	}

	transforms, err := loadTransforms(cfg, *types, log)
	if err != nil {
		return err
	}

	var d patch.Deobfuscator
	if *deobfuscate {
		dd, err := newDeobfuscator(cfg, lay.ModuleDir, modules, log)
		if err != nil {
			return err
		}
		d = dd
	}

	orch, err := patch.New(transforms, patch.Options{
		OutputDir:   cfg.OutputDir,
		Deobfuscate: *deobfuscate,
		Force:       *force,
		Required:    cfg.Required,
		Out:         stdout,
	}, d, log)
	if err != nil {
		return err
	}

	report, runErr := orch.Run(lay.ModuleDir, modules)
	if report == nil {
		// base directory or a required module is missing
		return &exitError{code: -1, err: runErr}
	}
	outDir := filepath.Join(lay.ModuleDir, cfg.OutputDir)
	if err := output.WriteReport(outDir, report); err != nil {
		log.WithError(err).Warn("failed to write report")
	}
	log.WithFields(logrus.Fields{"run": report.RunID, "report": filepath.Join(outDir, output.ReportFile)}).Debug("report written")
	if runErr != nil {
		return &exitError{code: 1, err: runErr}
	}
	return nil
}
