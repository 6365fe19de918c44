package main

import (
	"errors"
	"fmt"
	"io"
	"os"
)

// stdout receives tables and status lines; tests swap it out.
var stdout io.Writer = os.Stdout

// exitError carries a process exit code. A nil err exits silently.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "decrypt":
		err = cmdDecrypt(os.Args[2:])
	case "verify":
		err = cmdVerify(os.Args[2:])
	case "patch":
		err = cmdPatch(os.Args[2:])
	case "graph":
		err = cmdGraph(os.Args[2:])
	case "help", "-h", "--help":
		usage()
		os.Exit(0)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		usage()
		os.Exit(1)
	}

	if err != nil {
		code := 1
		var ee *exitError
		if errors.As(err, &ee) {
			code = ee.code
			err = ee.err
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
		os.Exit(code)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `repatch - integrity manifest and module patching tool

Usage:
  repatch decrypt [--config <file>] [--json <file>] <base>   Print decrypted manifest records
  repatch verify  [--config <file>] <base>                   Hash manifest entries and compare
  repatch patch   [--config <file>] [--type <sets>] [--deobfuscate] [--force] <base>
                                                             Apply patch sets to the installation
  repatch graph   [--config <file>] [--type <sets>] [--out <file>]
                                                             Transform dependency graph as DOT

Flags:
  --config <file>   Config file (default ./repatch.yaml, env REPATCH_*)
  --type <sets>     Comma-separated patch set names or files (default: all configured)
  --deobfuscate     Deobfuscate patched modules
  --force           Patch modules that are already marked as patched

Patched modules are written to <module_dir>/<output_dir> and stamped with a
patched mark. Sources under <base> are never modified, so a second run over
the same base patches them again. Pointing module_dir at the patched output
(REPATCH_MODULE_DIR) reports [already patched] unless --force is given.
`)
}
