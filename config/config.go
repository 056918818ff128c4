// Package config reads and writes link configuration trees as JSON or YAML
// files.
//
// A file holds a single tree whose __class__ key names the root link:
//
//	__class__: base.Chain
//	links:
//	  - __class__: dataframe.DropColumns
//	    columns: [tmp]
//	  - __class__: custom.LinearModelRow
//	    slope: 2
//	    bias: 1
//
// Numbers are normalized on load, so a tree read from JSON equals the same
// tree read from YAML.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/zoobzio/linkz"
	"gopkg.in/yaml.v3"
)

// Format is a serialization format of configuration trees.
type Format string

// Supported formats.
const (
	JSON Format = "json"
	YAML Format = "yaml"
)

// ErrUnknownFormat is returned for file extensions other than .json, .yaml and .yml.
var ErrUnknownFormat = errors.New("unknown configuration format")

// FormatFor picks the format from a file extension.
func FormatFor(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return JSON, nil
	case ".yaml", ".yml":
		return YAML, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, path)
	}
}

// Marshal serializes a tree.
func Marshal(format Format, tree linkz.Tree) ([]byte, error) {
	switch format {
	case JSON:
		data, err := json.MarshalIndent(tree, "", "  ")
		if err != nil {
			return nil, err
		}
		return append(data, '\n'), nil
	case YAML:
		return yaml.Marshal(tree)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

// Unmarshal parses a tree. The root must be a mapping.
func Unmarshal(format Format, data []byte) (linkz.Tree, error) {
	var raw any
	switch format {
	case JSON:
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parse json: %w", err)
		}
	case YAML:
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parse yaml: %w", err)
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
	tree, ok := normalize(raw).(linkz.Tree)
	if !ok {
		return nil, fmt.Errorf("configuration root must be a mapping, got %T", raw)
	}
	return tree, nil
}

// normalize converts decoded values to the shapes linkz.Registry expects:
// mappings become Trees, sequences []any and integral numbers int.
func normalize(v any) any {
	switch x := v.(type) {
	case map[string]any:
		tree := make(linkz.Tree, len(x))
		for k, item := range x {
			tree[k] = normalize(item)
		}
		return tree
	case map[any]any:
		tree := make(linkz.Tree, len(x))
		for k, item := range x {
			tree[fmt.Sprint(k)] = normalize(item)
		}
		return tree
	case []any:
		out := make([]any, len(x))
		for i, item := range x {
			out[i] = normalize(item)
		}
		return out
	case float64:
		if x == math.Trunc(x) && math.Abs(x) < 1<<53 {
			return int(x)
		}
		return x
	case int64:
		return int(x)
	case uint64:
		return int(x)
	default:
		return v
	}
}

// Load reads a tree from a file, picking the format from its extension.
func Load(path string) (linkz.Tree, error) {
	format, err := FormatFor(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	tree, err := Unmarshal(format, data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return tree, nil
}

// Save writes a tree to a file, picking the format from its extension.
func Save(path string, tree linkz.Tree) error {
	format, err := FormatFor(path)
	if err != nil {
		return err
	}
	data, err := Marshal(format, tree)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// LoadLink reads a tree and constructs its link with reg. A nil reg means the
// process-wide registry.
func LoadLink(reg *linkz.Registry, path string) (linkz.Link, error) {
	tree, err := Load(path)
	if err != nil {
		return nil, err
	}
	if reg == nil {
		reg = linkz.Default()
	}
	return reg.Construct(tree)
}

// SaveLink describes a link and writes its tree, stamped with the installed
// version, to a file.
func SaveLink(path string, link linkz.Link) error {
	tree := linkz.Describe(link)
	tree[linkz.VersionKey] = linkz.Version
	return Save(path, tree)
}
