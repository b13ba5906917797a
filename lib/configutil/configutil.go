package configutil

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"dario.cat/mergo"
	"github.com/titanous/json5"
)

// Layers lists the files ReadConfig merges for `name`, lowest priority first.
// For "conf/config.json5" that is conf/config.json5 then conf/config.local.json5.
func Layers(name string) []string {
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	return []string{name, stem + ".local" + ext}
}

// readLayer decodes a single file, a missing or empty file is reported as
// not found.
func readLayer[T any](path string) (T, bool, error) {
	var out T
	contents, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return out, false, nil
	}
	if err != nil {
		return out, false, err
	}
	if len(contents) == 0 {
		return out, false, nil
	}
	err = json5.Unmarshal(contents, &out)
	if err != nil {
		return out, false, fmt.Errorf("parse %s: %w", path, err)
	}
	return out, true, nil
}

// ReadConfig merges every layer of `name` that exists, later layers override
// the fields they set. It returns os.ErrNotExist when no layer exists.
func ReadConfig[T any](name string) (T, error) {
	var out T
	found := false
	for _, path := range Layers(name) {
		layer, ok, err := readLayer[T](path)
		if err != nil {
			return out, err
		}
		if !ok {
			continue
		}
		if !found {
			out = layer
			found = true
			continue
		}
		err = mergo.Merge(&out, layer, mergo.WithOverride)
		if err != nil {
			return out, fmt.Errorf("merge %s: %w", path, err)
		}
	}
	if !found {
		return out, os.ErrNotExist
	}
	return out, nil
}

// ReadConfigWithDefaults is ReadConfig, except missing files are not an error
// and every field left empty by the files is filled in from `defaults`.
func ReadConfigWithDefaults[T any](name string, defaults T) (T, error) {
	out, err := ReadConfig[T](name)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return out, err
	}
	err = mergo.Merge(&out, defaults)
	if err != nil {
		return out, err
	}
	return out, nil
}
