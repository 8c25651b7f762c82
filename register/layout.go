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

// Device addresses of the control registers appended after the table.
const (
	AddrPump1      uint32 = 4000
	AddrPump2      uint32 = 4001
	AddrWaterLevel uint32 = 4002
)

// ControlAddresses lists the control registers in allocation order.
var ControlAddresses = []uint32{AddrPump1, AddrPump2, AddrWaterLevel}

// Collision records a device address that was allocated twice. The later
// allocation owns the forward mapping.
type Collision struct {
	Address       uint32
	PreviousIndex int
	Index         int
}

// Layout maps device register addresses to sequential store indices and back.
// It is immutable after Build and safe for concurrent use.
type Layout struct {
	forward    map[uint32]int
	reverse    []uint32
	collisions []Collision
}

// Build allocates store indices for every descriptor in table order and then
// appends the control registers.
func Build(table []Descriptor) *Layout {
	l := &Layout{forward: make(map[uint32]int)}

	for _, d := range table {
		for i := 0; i < d.Width(); i++ {
			l.allocate(d.Address + uint32(i))
		}
	}
	for _, addr := range ControlAddresses {
		l.allocate(addr)
	}
	return l
}

func (l *Layout) allocate(addr uint32) {
	index := len(l.reverse)
	if prev, ok := l.forward[addr]; ok {
		l.collisions = append(l.collisions, Collision{Address: addr, PreviousIndex: prev, Index: index})
	}
	l.forward[addr] = index
	l.reverse = append(l.reverse, addr)
}

// Total returns the number of store slots the layout allocates.
func (l *Layout) Total() int {
	return len(l.reverse)
}

// Index resolves a device address to a store index.
func (l *Layout) Index(addr uint32) (int, bool) {
	index, ok := l.forward[addr]
	return index, ok
}

// Address resolves a store index back to its device address.
func (l *Layout) Address(index int) (uint32, bool) {
	if index < 0 || index >= len(l.reverse) {
		return 0, false
	}
	return l.reverse[index], true
}

// Collisions returns the addresses that were allocated more than once.
func (l *Layout) Collisions() []Collision {
	out := make([]Collision, len(l.collisions))
	copy(out, l.collisions)
	return out
}
