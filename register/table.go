// Copyright 2025 Edgeo SCADA
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package register

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

var (
	// ErrInvalidTable indicates the descriptor table could not be parsed.
	ErrInvalidTable = errors.New("register: invalid descriptor table")

	// ErrEmptyTable indicates the descriptor table has no entries.
	ErrEmptyTable = errors.New("register: empty descriptor table")
)

// Format is the serialization of a descriptor table file.
type Format int

const (
	FormatJSON Format = iota
	FormatYAML
)

// FormatFromPath picks the table format from a file extension.
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

// LoadTable reads a descriptor table from disk.
func LoadTable(path string) ([]Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read descriptor table: %w", err)
	}
	return ParseTable(data, FormatFromPath(path))
}

// ParseTable decodes a descriptor table. Extra keys in an entry are ignored and
// an unrecognized data_type is kept as-is (it encodes like FLOAT32).
func ParseTable(data []byte, format Format) ([]Descriptor, error) {
	var table []Descriptor

	switch format {
	case FormatYAML:
		if err := yaml.Unmarshal(data, &table); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidTable, err)
		}
	default:
		if err := json.Unmarshal(data, &table); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidTable, err)
		}
	}

	if len(table) == 0 {
		return nil, ErrEmptyTable
	}
	return table, nil
}
