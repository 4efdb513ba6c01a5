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

import (
	"fmt"

	"sigs.k8s.io/yaml"
)

// manifestOpcode is the on-disk shape of a single extension opcode
// entry. Tier is a name rather than the numeric Tier so manifests stay
// readable and stable across internal tier renumbering.
type manifestOpcode struct {
	Name string   `json:"name"`
	Tier string   `json:"tier"`
	Args []string `json:"args,omitempty"`
}

// Manifest is the decoded form of an opcode-extension file: a flat list
// of opcodes a host wants the verifier to accept beyond the built-in
// Catalogue.
type Manifest struct {
	Opcodes []manifestOpcode `json:"opcodes"`
}

// ParseManifest decodes a YAML (or JSON, since YAML is a superset)
// opcode-extension document.
func ParseManifest(doc []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(doc, &m); err != nil {
		return nil, fmt.Errorf("asm: parse opcode extension manifest: %w", err)
	}
	return &m, nil
}

func tierByName(name string) (Tier, error) {
	switch name {
	case "tier1":
		return Tier1AlwaysLegal, nil
	case "tier2":
		return Tier2CatchBranch, nil
	case "tier3":
		return Tier3FloatGuard, nil
	case "tier4":
		return Tier4General, nil
	default:
		return TierUnknown, fmt.Errorf("asm: unknown tier %q", name)
	}
}

func kindByName(name string) (OperandKind, error) {
	switch name {
	case "x":
		return KindX, nil
	case "y":
		return KindY, nil
	case "fr":
		return KindFR, nil
	case "f":
		return KindLabel, nil
	case "atom":
		return KindAtom, nil
	case "integer":
		return KindInteger, nil
	case "float":
		return KindFloat, nil
	case "literal":
		return KindLiteral, nil
	case "nil":
		return KindNil, nil
	case "list":
		return KindList, nil
	default:
		return 0, fmt.Errorf("asm: unknown operand kind %q", name)
	}
}

// Register adds every opcode in the manifest to r. This is the concrete
// form of the extension interface: a host that wants the verifier to
// accept a new opcode family registers it here (with a tier and an
// argument shape) and separately supplies the verify.Options.Extensions
// transfer function for it, instead of forking the verifier.
func (m *Manifest) Register(r *Registry) error {
	for _, op := range m.Opcodes {
		tier, err := tierByName(op.Tier)
		if err != nil {
			return fmt.Errorf("asm: opcode %q: %w", op.Name, err)
		}
		args := make([]OperandKind, 0, len(op.Args))
		for _, a := range op.Args {
			k, err := kindByName(a)
			if err != nil {
				return fmt.Errorf("asm: opcode %q: %w", op.Name, err)
			}
			args = append(args, k)
		}
		r.Register(Opcode{Name: op.Name, Tier: tier, Args: args})
	}
	return nil
}
