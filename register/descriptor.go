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

// Package register maps a power-meter descriptor table onto a flat holding
// register store and converts typed values to and from 16-bit words.
package register

import "strings"

// DataType is the device-native encoding of a register value.
type DataType string

// Data types found in meter register tables.
const (
	TypeFloat32  DataType = "FLOAT32"
	TypePF4Q     DataType = "4Q_FP_PF"
	TypeInt64    DataType = "INT64"
	TypeDateTime DataType = "DATETIME"
	TypeInt16    DataType = "INT16"
	TypeInt16U   DataType = "INT16U"
)

// Width returns the number of 16-bit registers a value of this type occupies.
// Unrecognized types are treated as FLOAT32.
func (t DataType) Width() int {
	switch t.Canonical() {
	case TypeInt16, TypeInt16U:
		return 1
	case TypeInt64:
		return 4
	default:
		return 2
	}
}

// Known reports whether t is one of the recognized data types.
func (t DataType) Known() bool {
	switch t.Canonical() {
	case TypeFloat32, TypePF4Q, TypeInt64, TypeDateTime, TypeInt16, TypeInt16U:
		return true
	}
	return false
}

// Canonical returns t upper-cased with surrounding space removed.
func (t DataType) Canonical() DataType {
	return DataType(strings.ToUpper(strings.TrimSpace(string(t))))
}

// RuleKind selects how the generator produces a value.
type RuleKind string

// Generation rule kinds.
const (
	RuleUniform   RuleKind = "uniform"
	RuleRandInt   RuleKind = "randint"
	RuleFixed     RuleKind = "fixed"
	RuleTimestamp RuleKind = "timestamp"
)

// GenerationRule describes how synthetic values are produced for a descriptor.
// Params holds [min, max] for uniform and randint, and [v] for fixed.
type GenerationRule struct {
	Type   RuleKind  `json:"type" yaml:"type"`
	Params []float64 `json:"params,omitempty" yaml:"params,omitempty"`
}

// Descriptor is one entry of the device register table.
type Descriptor struct {
	Address     uint32         `json:"address" yaml:"address"`
	DataType    DataType       `json:"data_type" yaml:"data_type"`
	Generation  GenerationRule `json:"generation" yaml:"generation"`
	Unit        string         `json:"unit,omitempty" yaml:"unit,omitempty"`
	Description string         `json:"description" yaml:"description"`
}

// Width returns the register width of the descriptor's data type.
func (d Descriptor) Width() int {
	return d.DataType.Width()
}
