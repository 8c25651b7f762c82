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
	"math"
	"sync"
)

// Store is a fixed-size array of holding registers shared by the generator,
// the Modbus engine and the control API. It is safe for concurrent use; runs
// of words are read and written under a single lock so a multi-word value is
// never observed half-written.
type Store struct {
	mu   sync.RWMutex
	regs []uint16
}

// NewStore creates a zeroed store with size registers.
func NewStore(size int) *Store {
	if size < 0 {
		size = 0
	}
	return &Store{regs: make([]uint16, size)}
}

// Size returns the number of registers.
func (s *Store) Size() int {
	return len(s.regs)
}

// Read returns the register at index, or 0 when index is out of bounds.
func (s *Store) Read(index int) uint16 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if index < 0 || index >= len(s.regs) {
		return 0
	}
	return s.regs[index]
}

// Write stores value at index, clamped to [0, 65535]. Out of bounds indices
// are ignored.
func (s *Store) Write(index int, value int) {
	switch {
	case value < 0:
		value = 0
	case value > math.MaxUint16:
		value = math.MaxUint16
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if index < 0 || index >= len(s.regs) {
		return
	}
	s.regs[index] = uint16(value)
}

// ReadRun returns n consecutive registers starting at index. Slots outside
// the store read as 0.
func (s *Store) ReadRun(index, n int) []uint16 {
	out := make([]uint16, n)

	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := range out {
		if j := index + i; j >= 0 && j < len(s.regs) {
			out[i] = s.regs[j]
		}
	}
	return out
}

// WriteRun stores words at consecutive registers starting at index. Slots
// outside the store are skipped.
func (s *Store) WriteRun(index int, words []uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, w := range words {
		if j := index + i; j >= 0 && j < len(s.regs) {
			s.regs[j] = w
		}
	}
}

// Gather reads the registers at the given indices under one lock. A negative
// index reads as 0.
func (s *Store) Gather(indices []int) []uint16 {
	out := make([]uint16, len(indices))

	s.mu.RLock()
	defer s.mu.RUnlock()
	for i, j := range indices {
		if j >= 0 && j < len(s.regs) {
			out[i] = s.regs[j]
		}
	}
	return out
}

// Snapshot returns a copy of all registers.
func (s *Store) Snapshot() []uint16 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]uint16, len(s.regs))
	copy(out, s.regs)
	return out
}
