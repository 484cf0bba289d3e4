// simulate validates every blueprint template offline: each template is
// compiled into an empty world and every piece must pass the placement
// validator. CI and template authors run this; the live server never does.
package main

import (
	"flag"
	"fmt"
	"os"
	"sort"

	"monworld.ai/internal/sim/catalogs"
	"monworld.ai/internal/sim/geometry"
	"monworld.ai/internal/sim/simulate"
	"monworld.ai/internal/sim/tuning"
)

func main() {
	var (
		configDir  = flag.String("configs", "./configs", "config directory")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		only       = flag.String("blueprint", "", "check a single blueprint by name")
		verbose    = flag.Bool("v", false, "print per-piece results")
	)
	flag.Parse()

	cats, err := catalogs.Load(*configDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "load catalogs:", err)
		os.Exit(1)
	}

	tp := *tuningPath
	if tp == "" {
		tp = *configDir + "/tuning.yaml"
	}
	tune, err := tuning.Load(tp)
	if err != nil {
		if !os.IsNotExist(err) {
			fmt.Fprintln(os.Stderr, "load tuning:", err)
			os.Exit(1)
		}
		tune = tuning.Defaults()
	}
	tol := geometry.Tolerances{Snap: tune.SnapTolerance, Overlap: tune.OverlapTolerance}

	var names []string
	for name := range cats.Blueprints.ByName {
		if *only != "" && name != *only {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	if len(names) == 0 {
		fmt.Fprintln(os.Stderr, "no blueprints to check")
		os.Exit(2)
	}

	failed := 0
	for _, name := range names {
		tpl := cats.Blueprints.ByName[name]
		for _, orientation := range []float64{0, 90, 180, 270} {
			rep := simulate.Run(tpl, orientation, tol)
			status := "ok"
			if !rep.AllValid() {
				status = "FAIL"
				failed++
			}
			fmt.Printf("%-24s orientation=%-3.0f %d/%d %s\n", rep.Blueprint, orientation, rep.Valid, rep.Total, status)
			if *verbose || !rep.AllValid() {
				for _, p := range rep.Pieces {
					if p.OK && !*verbose {
						continue
					}
					mark := "ok"
					if !p.OK {
						mark = "FAIL " + p.Reason
					}
					fmt.Printf("  piece %-3d %-10s phase=%-12s y=%.3f->%.3f %s\n",
						p.Index, p.Shape, p.Phase, p.RequestedY, p.PlacedY, mark)
				}
			}
		}
	}
	if failed > 0 {
		os.Exit(1)
	}
}
