package catalogs

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"monworld.ai/internal/sim/shapes"
)

type Catalogs struct {
	Blueprints BlueprintCatalog
}

type BlueprintCatalog struct {
	ByName map[string]Template
	Digest string
}

// Template is a named, versioned recipe of relative-offset pieces grouped
// into construction phases. Immutable reference data, loaded once.
type Template struct {
	Name    string  `json:"name"`
	Version string  `json:"version"`
	Phases  []Phase `json:"phases"`
}

type Phase struct {
	Name   string      `json:"name"`
	Pieces []PieceSpec `json:"pieces"`
}

// PieceSpec positions a piece relative to the blueprint anchor. Offset Y is
// the piece's absolute center height (anchors are ground points).
type PieceSpec struct {
	Shape    shapes.Kind `json:"shape"`
	Offset   [3]float64  `json:"offset"`
	Rotation [3]float64  `json:"rotation"`
	Scale    [3]float64  `json:"scale"`
	Color    string      `json:"color,omitempty"`
}

func (t Template) PieceCount() int {
	n := 0
	for _, ph := range t.Phases {
		n += len(ph.Pieces)
	}
	return n
}

func Load(configDir string) (*Catalogs, error) {
	var c Catalogs
	if err := loadBlueprints(filepath.Join(configDir, "blueprints"), &c.Blueprints); err != nil {
		return nil, err
	}
	return &c, nil
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func loadBlueprints(dir string, out *BlueprintCatalog) error {
	out.ByName = map[string]Template{}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			out.Digest = sha256Hex(nil)
			return nil
		}
		return err
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.HasSuffix(e.Name(), ".json") {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)

	var concat bytes.Buffer
	for _, p := range files {
		b, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		concat.Write(b)
		concat.WriteByte('\n')

		var tpl Template
		if err := json.Unmarshal(b, &tpl); err != nil {
			return fmt.Errorf("blueprint %s: %w", filepath.Base(p), err)
		}
		if err := validateTemplate(tpl); err != nil {
			return fmt.Errorf("blueprint %s: %w", filepath.Base(p), err)
		}
		out.ByName[tpl.Name] = tpl
	}
	out.Digest = sha256Hex(concat.Bytes())
	return nil
}

func validateTemplate(tpl Template) error {
	if tpl.Name == "" {
		return fmt.Errorf("missing name")
	}
	if len(tpl.Phases) == 0 {
		return fmt.Errorf("no phases")
	}
	for _, ph := range tpl.Phases {
		if ph.Name == "" {
			return fmt.Errorf("phase with empty name")
		}
		if len(ph.Pieces) == 0 {
			return fmt.Errorf("phase %s: no pieces", ph.Name)
		}
		for i, p := range ph.Pieces {
			if !shapes.Known(p.Shape) {
				return fmt.Errorf("phase %s piece %d: unknown shape %q", ph.Name, i, p.Shape)
			}
			if p.Scale[0] <= 0 || p.Scale[1] <= 0 || p.Scale[2] <= 0 {
				return fmt.Errorf("phase %s piece %d: non-positive scale", ph.Name, i)
			}
		}
	}
	return nil
}
