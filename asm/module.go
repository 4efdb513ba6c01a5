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

// MFA identifies a function the way diagnostics address it: module,
// name, arity.
type MFA struct {
	Module string
	Name   string
	Arity  int
}

func (m MFA) String() string {
	return m.Module + ":" + m.Name + "/" + itoa(m.Arity)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// Function is a single compiled function: its declared name/arity, the
// entry label the emulator jumps to on a call, and the flat instruction
// stream (including leading {label,_} pseudo-instructions and the
// func_info header — the pre-scan and frame validation steps consume
// those directly rather than requiring a pre-split caller).
type Function struct {
	Name  string
	Arity int
	Entry int
	Code  []Instruction
}

// MFAIn reports this function's identity within a module.
func (f *Function) MFAIn(mod *Module) MFA {
	return MFA{Module: mod.Name, Name: f.Name, Arity: f.Arity}
}

// Module is a full compilation unit: its name, declared exports,
// attributes, the functions it defines, and the label counter the
// compiler used. The verifier does not read LabelCount; a referenced
// label that does not exist is caught by the undefined-label check.
type Module struct {
	Name       string
	Exports    []MFA
	Attributes map[string]any
	Functions  []*Function
	LabelCount int
}
