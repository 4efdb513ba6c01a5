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

package verify

import (
	"testing"

	"github.com/basalt-labs/bcverify/asm"
)

// matchingCallee is a function at entry label 10 whose first real
// instruction consumes a match context from x(0).
func matchingCallee() *asm.Function {
	return &asm.Function{
		Name:  "callee",
		Arity: 1,
		Entry: 10,
		Code: []asm.Instruction{
			asm.Insn("func_info", asm.Atom("m"), asm.Atom("callee"), asm.Int(1)),
			asm.Insn("label", asm.Int(10)),
			asm.Insn("bs_start_match2", asm.F(0), asm.X(0), asm.Int(1), asm.Int(0), asm.X(0)),
			asm.Insn("move", asm.Atom("ok"), asm.X(0)),
			asm.Insn("return"),
		},
	}
}

// A tail call handing a match context to a callee that starts matching
// from the same X-slot is accepted.
func TestTailCallIntoMatchingEntry(t *testing.T) {
	caller := buildFunc("caller", 1,
		asm.Insn("bs_start_match2", asm.F(0), asm.X(0), asm.Int(1), asm.Int(0), asm.X(0)),
		asm.Insn("call_only", asm.Int(1), asm.F(10)),
	)
	mod := &asm.Module{Name: "m", Functions: []*asm.Function{caller, matchingCallee()}}
	result := Validate(mod, Options{})
	if ds := result.Diagnostics[fnKey(caller.MFAIn(mod))]; len(ds) != 0 {
		t.Fatalf("expected the tail call to be accepted, got %v", ds)
	}
}

// The same callee is unsuitable when the context sits in a different
// X-slot than the one its bs_start_match2 reads.
func TestTailCallIntoUnsuitableEntry(t *testing.T) {
	caller := buildFunc("caller", 2,
		asm.Insn("bs_start_match2", asm.F(0), asm.X(1), asm.Int(2), asm.Int(0), asm.X(1)),
		asm.Insn("call_only", asm.Int(2), asm.F(10)),
	)
	mod := &asm.Module{Name: "m", Functions: []*asm.Function{caller, matchingCallee()}}
	result := Validate(mod, Options{})
	ds := result.Diagnostics[fnKey(caller.MFAIn(mod))]
	if got := reasonOf(t, ds); got != ErrUnsuitableBSStartMatch2 {
		t.Fatalf("expected %s, got %s", ErrUnsuitableBSStartMatch2, got)
	}
}

// A context crossing a tail call into an entry with no bs_start_match2
// at all is rejected outright.
func TestTailCallIntoNonMatchingEntry(t *testing.T) {
	caller := buildFunc("caller", 1,
		asm.Insn("bs_start_match2", asm.F(0), asm.X(0), asm.Int(1), asm.Int(0), asm.X(0)),
		asm.Insn("call_only", asm.Int(1), asm.F(10)),
	)
	plain := &asm.Function{
		Name:  "plain",
		Arity: 1,
		Entry: 10,
		Code: []asm.Instruction{
			asm.Insn("func_info", asm.Atom("m"), asm.Atom("plain"), asm.Int(1)),
			asm.Insn("label", asm.Int(10)),
			asm.Insn("move", asm.Atom("ok"), asm.X(0)),
			asm.Insn("return"),
		},
	}
	mod := &asm.Module{Name: "m", Functions: []*asm.Function{caller, plain}}
	result := Validate(mod, Options{})
	ds := result.Diagnostics[fnKey(caller.MFAIn(mod))]
	if got := reasonOf(t, ds); got != ErrNoBSStartMatch2 {
		t.Fatalf("expected %s, got %s", ErrNoBSStartMatch2, got)
	}
}

// The tolerated legacy detour still indexes an entry: a leading test
// that branches to the real matching code via bs_context_to_binary.
func TestPrescanToleratesLegacyPattern(t *testing.T) {
	fn := &asm.Function{
		Name:  "legacy",
		Arity: 1,
		Entry: 10,
		Code: []asm.Instruction{
			asm.Insn("func_info", asm.Atom("m"), asm.Atom("legacy"), asm.Int(1)),
			asm.Insn("label", asm.Int(10)),
			asm.Insn("test", asm.Atom("is_binary"), asm.F(11), asm.X(0)),
			asm.Insn("bs_context_to_binary", asm.X(0)),
			asm.Insn("label", asm.Int(11)),
			asm.Insn("bs_start_match2", asm.F(0), asm.X(0), asm.Int(1), asm.Int(0), asm.X(0)),
			asm.Insn("move", asm.Atom("ok"), asm.X(0)),
			asm.Insn("return"),
		},
	}
	idx := buildMatchContextIndex(&asm.Module{Name: "m", Functions: []*asm.Function{fn}})
	start, ok := idx[10]
	if !ok {
		t.Fatal("expected the legacy detour to index entry 10")
	}
	if start.Op != "bs_start_match2" {
		t.Fatalf("indexed instruction is %s, want bs_start_match2", start.Op)
	}
}
