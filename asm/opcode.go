// Copyright (C) 2022 Sneller, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package asm

import "golang.org/x/exp/maps"

// Tier is one of the four dispatch tiers from the component design: the
// first tier that claims an opcode handles it.
type Tier uint8

const (
	// TierUnknown marks an opcode the registry has never heard of.
	TierUnknown Tier = iota
	Tier1AlwaysLegal
	Tier2CatchBranch
	Tier3FloatGuard
	Tier4General
)

func (t Tier) String() string {
	switch t {
	case Tier1AlwaysLegal:
		return "tier1"
	case Tier2CatchBranch:
		return "tier2"
	case Tier3FloatGuard:
		return "tier3"
	case Tier4General:
		return "tier4"
	default:
		return "unknown"
	}
}

// Opcode is a registry entry: the opcode's name, the tier its transfer
// function belongs to, and the argument kinds it expects. The dispatcher
// classifies by Tier only; Args is carried for manifests and tooling and
// is not checked against an instruction's operands.
type Opcode struct {
	Name string        `json:"name"`
	Tier Tier          `json:"tier"`
	Args []OperandKind `json:"args,omitempty"`
}

// Registry is the concrete form of the "extension interface": a mutable
// table of opcodes the verifier's dispatcher consults to classify an
// instruction into a tier. The built-in catalogue (Catalogue) populates
// a fresh Registry; hosts may Register additional opcodes (e.g. loaded
// from an extension manifest, see Manifest) without forking the
// verifier.
type Registry struct {
	byName map[string]Opcode
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]Opcode)}
}

// Register adds or replaces an opcode entry.
func (r *Registry) Register(op Opcode) {
	if r.byName == nil {
		r.byName = make(map[string]Opcode)
	}
	r.byName[op.Name] = op
}

// Lookup returns the opcode entry for name, if any.
func (r *Registry) Lookup(name string) (Opcode, bool) {
	op, ok := r.byName[name]
	return op, ok
}

// Names returns every registered opcode name, sorted, for diagnostics
// and documentation tooling.
func (r *Registry) Names() []string {
	names := maps.Keys(r.byName)
	sortStrings(names)
	return names
}

// Clone returns an independent copy of the registry so a host can start
// from the built-in Catalogue and layer extensions on top without
// mutating the shared default.
func (r *Registry) Clone() *Registry {
	out := NewRegistry()
	for name, op := range r.byName {
		out.byName[name] = op
	}
	return out
}

func sortStrings(s []string) {
	// insertion sort: the catalogue and typical extension manifests are
	// small (tens of entries), and avoiding an extra import here keeps
	// this file's dependency surface to exactly what Names() needs.
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}
