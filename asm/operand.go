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

// Package asm is the wire-level data model of the modules the verifier
// consumes: operands, instructions, functions and the opcode registry
// ("extension interface") that lets hosts teach the verifier about
// opcodes outside its built-in catalogue.
package asm

import "fmt"

// OperandKind tags the shape of an Operand, mirroring the operand forms
// enumerated in the external interface: (x,n), (y,n), (fr,n), (f,label),
// (atom,a), (integer,i), (float,x), (literal,term), nil, (list,[operand]).
type OperandKind uint8

const (
	KindX OperandKind = iota
	KindY
	KindFR
	KindLabel
	KindAtom
	KindInteger
	KindFloat
	KindLiteral
	KindNil
	KindList
)

func (k OperandKind) String() string {
	switch k {
	case KindX:
		return "x"
	case KindY:
		return "y"
	case KindFR:
		return "fr"
	case KindLabel:
		return "f"
	case KindAtom:
		return "atom"
	case KindInteger:
		return "integer"
	case KindFloat:
		return "float"
	case KindLiteral:
		return "literal"
	case KindNil:
		return "nil"
	case KindList:
		return "list"
	default:
		return "<unknown-operand>"
	}
}

// Operand is a single instruction argument. Exactly one of the fields is
// meaningful, selected by Kind; List is used only when Kind == KindList.
type Operand struct {
	Kind  OperandKind
	Reg   int // valid for KindX, KindY, KindFR
	Label int // valid for KindLabel
	Atom  string
	Int   int64
	Float float64
	Lit   any
	List  []Operand
}

// TupleLit is a literal operand's payload when the literal is a tuple
// shape: the verifier never inspects element values, only the arity, so
// this is all a {literal, Tuple} operand needs to carry for the
// exact-equality tuple refinement rule.
type TupleLit struct {
	Arity int
}

// ExtFunc is a literal operand's payload naming an external callee as
// module:name/arity, carried by the call_ext instruction family.
type ExtFunc struct {
	Module string
	Name   string
	Arity  int
}

func X(n int) Operand     { return Operand{Kind: KindX, Reg: n} }
func Y(n int) Operand     { return Operand{Kind: KindY, Reg: n} }
func FR(n int) Operand    { return Operand{Kind: KindFR, Reg: n} }
func F(label int) Operand { return Operand{Kind: KindLabel, Label: label} }
func Atom(a string) Operand {
	return Operand{Kind: KindAtom, Atom: a}
}
func Int(v int64) Operand   { return Operand{Kind: KindInteger, Int: v} }
func Flt(v float64) Operand { return Operand{Kind: KindFloat, Float: v} }
func Literal(v any) Operand { return Operand{Kind: KindLiteral, Lit: v} }
func Nil() Operand          { return Operand{Kind: KindNil} }
func List(ops ...Operand) Operand {
	return Operand{Kind: KindList, List: ops}
}

func (o Operand) String() string {
	switch o.Kind {
	case KindX:
		return fmt.Sprintf("x(%d)", o.Reg)
	case KindY:
		return fmt.Sprintf("y(%d)", o.Reg)
	case KindFR:
		return fmt.Sprintf("fr(%d)", o.Reg)
	case KindLabel:
		return fmt.Sprintf("f(%d)", o.Label)
	case KindAtom:
		return o.Atom
	case KindInteger:
		return fmt.Sprintf("%d", o.Int)
	case KindFloat:
		return fmt.Sprintf("%g", o.Float)
	case KindLiteral:
		return fmt.Sprintf("literal(%v)", o.Lit)
	case KindNil:
		return "nil"
	case KindList:
		return fmt.Sprintf("%v", o.List)
	default:
		return "?"
	}
}

// IsRegister reports whether the operand addresses an X, Y or F register.
func (o Operand) IsRegister() bool {
	switch o.Kind {
	case KindX, KindY, KindFR:
		return true
	default:
		return false
	}
}
