package scenario

import (
	"fmt"
	"path/filepath"
	"strings"
)

// LoadFile loads a scenario from path, dispatching on the file extension
// (.lua scripts, .yaml/.yml documents), and validates the resulting plan.
func LoadFile(path string) (*Plan, error) {
	var plan *Plan
	var err error

	switch strings.ToLower(filepath.Ext(path)) {
	case ".lua":
		plan, err = LoadLuaFile(path)
	case ".yaml", ".yml":
		plan, err = LoadYAMLFile(path)
	default:
		return nil, fmt.Errorf("unsupported scenario format %q", filepath.Ext(path))
	}
	if err != nil {
		return nil, err
	}

	if err := plan.Validate(); err != nil {
		return nil, err
	}
	return plan, nil
}
