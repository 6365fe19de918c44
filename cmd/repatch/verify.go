package main

import (
	"errors"
	"flag"
	"fmt"
	"path/filepath"

	"repatch/internal/manifest"
	"repatch/internal/output"
)

func cmdVerify(args []string) error {
	fs := flag.NewFlagSet("verify", flag.ExitOnError)
	cfgPath := fs.String("config", "", "config file")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("verify: base directory is required")
	}
	base := fs.Arg(0)
	cfg, log, err := setup(*cfgPath)
	if err != nil {
		return err
	}
	if cfg.Manifest.Path == "" {
		return &exitError{code: -1, err: errors.New("verify: manifest.path is not configured")}
	}

	codec, err := newCodec(cfg, log)
	if err != nil {
		return &exitError{code: -1, err: err}
	}
	records, err := codec.Decrypt(filepath.Join(base, cfg.Manifest.Path))
	if err != nil {
		return &exitError{code: -1, err: err}
	}

	checks := manifest.Verify(base, records, log)
	output.CheckTable(stdout, checks)
	failed := manifest.Failed(checks)
	fmt.Fprintf(stdout, "%d checked, %d failed\n", len(checks), failed)
	if failed > 0 {
		return &exitError{code: 1}
	}
	return nil
}
