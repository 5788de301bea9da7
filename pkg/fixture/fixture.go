package fixture

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/Sriram-PR/poet-crawler/pkg/utils"
)

const (
	inputsDir    = "inputs"
	outputFile   = "output.json"
	metaFile     = "meta.json"
	testDirTitle = "test-"
)

// Meta is stored in meta.json
type Meta struct {
	FrozenTime string `json:"frozen_time"`
	URL        string `json:"url,omitempty"`
}

// Fixture is a stored test case: the inputs a page object received, the item it produced and run metadata
type Fixture struct {
	Path   string
	Inputs map[string]json.RawMessage // Keyed by input file name without extension
	Output json.RawMessage
	Meta   Meta
}

// Save writes a new fixture under baseDir/<type name>/test-N, N being one
// more than the highest existing test number.
func Save(baseDir, typeName string, inputs []Input, item any, meta Meta) (*Fixture, error) {
	typeDir := filepath.Join(baseDir, utils.SanitizeFilename(typeName))
	if err := os.MkdirAll(typeDir, 0755); err != nil {
		return nil, fmt.Errorf("%w: creating fixture dir '%s': %w", utils.ErrFilesystem, typeDir, err)
	}
	next, err := nextTestNumber(typeDir)
	if err != nil {
		return nil, err
	}
	dir := filepath.Join(typeDir, testDirTitle+strconv.Itoa(next))
	if err := os.MkdirAll(filepath.Join(dir, inputsDir), 0755); err != nil {
		return nil, fmt.Errorf("%w: creating fixture dir '%s': %w", utils.ErrFilesystem, dir, err)
	}

	fx := &Fixture{Path: dir, Inputs: make(map[string]json.RawMessage, len(inputs)), Meta: meta}
	for _, in := range inputs {
		data, err := json.MarshalIndent(in.Value, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("%w: encoding JSON input %v: %w", utils.ErrParsing, in.Type, err)
		}
		fx.Inputs[inputName(in)] = data
	}
	if fx.Output, err = json.MarshalIndent(item, "", "  "); err != nil {
		return nil, fmt.Errorf("%w: encoding JSON output: %w", utils.ErrParsing, err)
	}
	metaData, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("%w: encoding JSON meta: %w", utils.ErrParsing, err)
	}

	var g errgroup.Group
	for name, data := range fx.Inputs {
		g.Go(func() error {
			return writeFile(filepath.Join(dir, inputsDir, name+".json"), data)
		})
	}
	g.Go(func() error { return writeFile(filepath.Join(dir, outputFile), fx.Output) })
	g.Go(func() error { return writeFile(filepath.Join(dir, metaFile), metaData) })
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return fx, nil
}

// Load reads a fixture directory written by Save
func Load(dir string) (*Fixture, error) {
	fx := &Fixture{Path: dir, Inputs: make(map[string]json.RawMessage)}

	entries, err := os.ReadDir(filepath.Join(dir, inputsDir))
	if err != nil {
		return nil, fmt.Errorf("%w: reading fixture inputs in '%s': %w", utils.ErrFilesystem, dir, err)
	}
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, inputsDir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("%w: reading fixture input '%s': %w", utils.ErrFilesystem, e.Name(), err)
		}
		fx.Inputs[strings.TrimSuffix(e.Name(), ".json")] = data
	}

	if fx.Output, err = os.ReadFile(filepath.Join(dir, outputFile)); err != nil {
		return nil, fmt.Errorf("%w: reading fixture output: %w", utils.ErrFilesystem, err)
	}
	metaData, err := os.ReadFile(filepath.Join(dir, metaFile))
	if err != nil {
		return nil, fmt.Errorf("%w: reading fixture meta: %w", utils.ErrFilesystem, err)
	}
	if err := json.Unmarshal(metaData, &fx.Meta); err != nil {
		return nil, fmt.Errorf("%w: decoding JSON fixture meta: %w", utils.ErrParsing, err)
	}
	return fx, nil
}

// inputName is the file name of an input: its type name, e.g. "HTMLDocument"
func inputName(in Input) string {
	name := in.Type.Name()
	if name == "" {
		name = in.Type.String()
	}
	return utils.SanitizeFilename(name)
}

func nextTestNumber(typeDir string) (int, error) {
	entries, err := os.ReadDir(typeDir)
	if err != nil {
		return 0, fmt.Errorf("%w: listing fixtures in '%s': %w", utils.ErrFilesystem, typeDir, err)
	}
	highest := 0
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), testDirTitle) {
			continue
		}
		if n, convErr := strconv.Atoi(strings.TrimPrefix(e.Name(), testDirTitle)); convErr == nil && n > highest {
			highest = n
		}
	}
	return highest + 1, nil
}

func writeFile(path string, data []byte) error {
	if err := os.WriteFile(path, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("%w: writing '%s': %w", utils.ErrFilesystem, path, err)
	}
	return nil
}
