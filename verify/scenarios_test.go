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

// buildFunc wraps body in the header shape splitHeader requires: a
// func_info marker followed by the label the function enters on.
func buildFunc(name string, arity int, body ...asm.Instruction) *asm.Function {
	const entry = 1
	code := []asm.Instruction{
		asm.Insn("func_info", asm.Atom("scenarios"), asm.Atom(name), asm.Int(int64(arity))),
		asm.Insn("label", asm.Int(entry)),
	}
	code = append(code, body...)
	return &asm.Function{Name: name, Arity: arity, Entry: entry, Code: code}
}

func validateOne(fn *asm.Function) []Diagnostic {
	mod := &asm.Module{Name: "scenarios", Functions: []*asm.Function{fn}}
	result := Validate(mod, Options{})
	return result.Diagnostics[fnKey(fn.MFAIn(mod))]
}

func reasonOf(t *testing.T, ds []Diagnostic) Reason {
	t.Helper()
	if len(ds) == 0 {
		t.Fatal("expected a diagnostic, got none")
	}
	return ds[0].Reason
}

// A frameless function that sets X(0) and returns is accepted: with
// arity 0 nothing is seeded, so the move defines X(0), and there is no
// open frame or catch/try to object to.
func TestScenarioBareReturnAccepted(t *testing.T) {
	fn := buildFunc("bare_return", 0, asm.Insn("move", asm.Atom("ok"), asm.X(0)), asm.Insn("return"))
	if ds := validateOne(fn); len(ds) != 0 {
		t.Fatalf("expected no diagnostics, got %v", ds)
	}
}

// deallocate must match the size the enclosing allocate reserved.
func TestScenarioDeallocateSizeMismatch(t *testing.T) {
	fn := buildFunc("bad_dealloc", 0,
		asm.Insn("allocate", asm.Int(2), asm.Int(0)),
		asm.Insn("move", asm.Atom("ok"), asm.X(0)),
		asm.Insn("deallocate", asm.Int(3)),
		asm.Insn("return"),
	)
	ds := validateOne(fn)
	if got := reasonOf(t, ds); got != ErrStackFrame {
		t.Fatalf("expected %s, got %s", ErrStackFrame, got)
	}
}

// put_tuple starts a two-element fill but only one put follows before
// control leaves the fill via return; because the fill is still
// "active", the dispatcher rejects the return as not_building_a_tuple,
// since only put may run until the fill completes.
func TestScenarioIncompleteTupleFill(t *testing.T) {
	fn := buildFunc("bad_put", 0,
		asm.Insn("test_heap", asm.Int(8), asm.Int(0)),
		asm.Insn("put_tuple", asm.Int(2), asm.X(0)),
		asm.Insn("put", asm.Int(1)),
		asm.Insn("return"),
	)
	ds := validateOne(fn)
	if got := reasonOf(t, ds); got != ErrNotBuildingATuple {
		t.Fatalf("expected %s, got %s", ErrNotBuildingATuple, got)
	}
}

// A `put` with no preceding put_tuple is rejected as not_building_a_tuple.
func TestScenarioPutWithoutTupleInProgress(t *testing.T) {
	fn := buildFunc("stray_put", 0,
		asm.Insn("put", asm.Int(1)),
		asm.Insn("return"),
	)
	ds := validateOne(fn)
	if got := reasonOf(t, ds); got != ErrNotBuildingATuple {
		t.Fatalf("expected %s, got %s", ErrNotBuildingATuple, got)
	}
}

// Catch/try tags on ct must nest at strictly increasing Y-indices: an
// inner catch at a lower index than its enclosing one is rejected.
func TestScenarioBadCatchNesting(t *testing.T) {
	fn := buildFunc("bad_nesting", 0,
		asm.Insn("allocate", asm.Int(2), asm.Int(0)),
		asm.Insn("catch", asm.Y(1), asm.F(9)),
		asm.Insn("catch", asm.Y(0), asm.F(10)),
		asm.Insn("move", asm.Atom("ok"), asm.X(0)),
		asm.Insn("return"),
		asm.Insn("label", asm.Int(9)),
		asm.Insn("move", asm.Atom("ok"), asm.X(0)),
		asm.Insn("return"),
		asm.Insn("label", asm.Int(10)),
		asm.Insn("move", asm.Atom("ok"), asm.X(0)),
		asm.Insn("return"),
	)
	ds := validateOne(fn)
	if got := reasonOf(t, ds); got != ErrBadTryCatchNesting {
		t.Fatalf("expected %s, got %s", ErrBadTryCatchNesting, got)
	}
}

// fadd requires the floating-point error flag to have been cleared
// first; running it against a freshly-entered (undefined) state is
// rejected.
func TestScenarioFloatArithWithoutClear(t *testing.T) {
	fn := buildFunc("bad_float", 0,
		asm.Insn("fadd", asm.F(0), asm.FR(0), asm.FR(1), asm.FR(2)),
		asm.Insn("return"),
	)
	ds := validateOne(fn)
	if got := reasonOf(t, ds); got != ErrBadFloatingPointState {
		t.Fatalf("expected %s, got %s", ErrBadFloatingPointState, got)
	}
}

// A value received via loop_rec is fragile until remove_message: storing
// it into a Y-register beforehand is rejected.
func TestScenarioFragileMessageIntoYRegister(t *testing.T) {
	fn := buildFunc("bad_fragile", 0,
		asm.Insn("allocate", asm.Int(1), asm.Int(0)),
		asm.Insn("loop_rec", asm.F(3), asm.X(0)),
		asm.Insn("move", asm.X(0), asm.Y(0)),
		asm.Insn("label", asm.Int(3)),
		asm.Insn("move", asm.Atom("ok"), asm.X(0)),
		asm.Insn("deallocate", asm.Int(1)),
		asm.Insn("return"),
	)
	ds := validateOne(fn)
	if got := reasonOf(t, ds); got != ErrFragileMessageReference {
		t.Fatalf("expected %s, got %s", ErrFragileMessageReference, got)
	}
}

// Verifying the same module twice produces identical diagnostics.
func TestScenarioDeterminism(t *testing.T) {
	fn := buildFunc("det", 0,
		asm.Insn("allocate", asm.Int(2), asm.Int(0)),
		asm.Insn("move", asm.Atom("ok"), asm.X(0)),
		asm.Insn("deallocate", asm.Int(3)),
		asm.Insn("return"),
	)
	first := validateOne(fn)
	second := validateOne(fn)
	if len(first) != len(second) {
		t.Fatalf("non-deterministic diagnostic count: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].Reason != second[i].Reason {
			t.Fatalf("non-deterministic reason at %d: %s vs %s", i, first[i].Reason, second[i].Reason)
		}
	}
}
