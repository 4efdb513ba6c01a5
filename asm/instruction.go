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

import "strings"

// Instruction is a single tagged-tuple instruction: an opcode atom plus
// its operands, as described by the external interface.
type Instruction struct {
	Op   string
	Args []Operand
}

// Insn is a small constructor helper used heavily by test fixtures.
func Insn(op string, args ...Operand) Instruction {
	return Instruction{Op: op, Args: args}
}

func (i Instruction) String() string {
	var b strings.Builder
	b.WriteByte('{')
	b.WriteString(i.Op)
	for _, a := range i.Args {
		b.WriteString(", ")
		b.WriteString(a.String())
	}
	b.WriteByte('}')
	return b.String()
}

// Arg returns the n'th operand, or the zero Operand (KindNil) if the
// instruction has fewer operands than n+1. This is a convenience used
// pervasively by transfer functions that only care about a handful of
// well-known argument positions.
func (i Instruction) Arg(n int) Operand {
	if n < 0 || n >= len(i.Args) {
		return Operand{Kind: KindNil}
	}
	return i.Args[n]
}

// IsLabel reports whether this is a {label, L} pseudo-instruction.
func (i Instruction) IsLabel() bool {
	return i.Op == "label" && len(i.Args) == 1 && i.Args[0].Kind == KindInteger
}

// LabelValue returns the label introduced by an IsLabel instruction.
func (i Instruction) LabelValue() int {
	return int(i.Args[0].Int)
}

// IsLine reports whether this is a source-line marker, which carries no
// verification-relevant information and is skipped by every tier.
func (i Instruction) IsLine() bool {
	return i.Op == "line"
}
