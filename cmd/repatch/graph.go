package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/zboralski/lattice/render"

	"repatch/internal/patch"
)

func cmdGraph(args []string) error {
	fs := flag.NewFlagSet("graph", flag.ExitOnError)
	cfgPath := fs.String("config", "", "config file")
	types := fs.String("type", "", "comma-separated patch set names or files")
	out := fs.String("out", "", "write DOT to this file instead of stdout")
	title := fs.String("title", "transforms", "graph title")

	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, log, err := setup(*cfgPath)
	if err != nil {
		return err
	}
	transforms, err := loadTransforms(cfg, *types, log)
	if err != nil {
		return err
	}

	g := patch.Graph(transforms)
	dot := render.DOT(g, *title)
	if *out == "" {
		fmt.Fprint(stdout, dot)
		return nil
	}
	if err := os.WriteFile(*out, []byte(dot), 0644); err != nil {
		return fmt.Errorf("write %s: %w", *out, err)
	}
	fmt.Fprintf(os.Stderr, "wrote %s (%d nodes, %d edges)\n", *out, len(g.Nodes), len(g.Edges))
	return nil
}
