// Package config reads the optional per-project configuration table.
// Every key is optional and overridable from the CLI.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
)

// FileName is looked up next to the uploaded image.
const FileName = "v5deploy.toml"

// Project is the config table. Pointer fields distinguish "unset" from a
// zero value.
type Project struct {
	Slot     *int    `toml:"slot"`
	Icon     *string `toml:"icon"`
	Compress *bool   `toml:"compress"`
	Strategy *string `toml:"upload-strategy"`
}

// Load reads the project table from dir. A missing file yields an empty
// table; a malformed one is an error.
func Load(dir string) (*Project, error) {
	raw, err := os.ReadFile(filepath.Join(dir, FileName))
	if errors.Is(err, fs.ErrNotExist) {
		return &Project{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", FileName, err)
	}
	var p Project
	if err := toml.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", FileName, err)
	}
	return &p, nil
}
