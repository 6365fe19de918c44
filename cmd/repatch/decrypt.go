package main

import (
	"errors"
	"flag"
	"fmt"
	"path/filepath"

	"repatch/internal/output"
)

func cmdDecrypt(args []string) error {
	fs := flag.NewFlagSet("decrypt", flag.ExitOnError)
	cfgPath := fs.String("config", "", "config file")
	jsonOut := fs.String("json", "", "also write records to this JSON file")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("decrypt: base directory is required")
	}
	cfg, log, err := setup(*cfgPath)
	if err != nil {
		return err
	}
	if cfg.Manifest.Path == "" {
		return &exitError{code: -1, err: errors.New("decrypt: manifest.path is not configured")}
	}

	codec, err := newCodec(cfg, log)
	if err != nil {
		return &exitError{code: -1, err: err}
	}
	records, err := codec.Decrypt(filepath.Join(fs.Arg(0), cfg.Manifest.Path))
	if err != nil {
		fmt.Fprintln(stdout, "Failed to decrypt manifest, exiting...")
		return &exitError{code: -1, err: err}
	}

	output.RecordTable(stdout, records)
	if *jsonOut != "" {
		if err := output.WriteRecordsJSON(*jsonOut, records); err != nil {
			return err
		}
	}
	return nil
}
