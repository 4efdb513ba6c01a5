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

// Join monotonicity: joining two disagreeing concrete values must widen
// to a type that no longer asserts either specific value, since an
// assertion passing on the join has to pass on both inputs.
func TestPropertyJoinMonotonicity(t *testing.T) {
	testcases := []struct {
		name       string
		a, b       Type
		want       Kind
		noneHasVal bool
	}{
		{"integers disagree", IntValue(1), IntValue(2), KInteger, true},
		{"atoms disagree", AtomValue("a"), AtomValue("b"), KAtom, true},
		{"int and float widen to number", IntValue(1), FloatValue(1.0), KNumber, false},
	}
	for _, tc := range testcases {
		joined := JoinTypes(tc.a, tc.b)
		if joined.Kind != tc.want {
			t.Errorf("%s: join kind = %s, want %s", tc.name, joined.Kind, tc.want)
		}
		if tc.noneHasVal && joined.HasValue {
			t.Errorf("%s: join kept a concrete value that disagreed between inputs", tc.name)
		}
	}
}

// Dead-code neutrality: once a path is killed (by an unconditional
// jump), any instruction reached before the next label is simply
// skipped, including ones that would otherwise be rejected — and the
// label resumes exactly the state recorded by the branch that reached
// it.
func TestPropertyDeadCodeNeutrality(t *testing.T) {
	fn := buildFunc("dead_code", 0,
		asm.Insn("jump", asm.F(3)),
		// unreachable: would fail (x(9999) exceeds the register limit)
		// if dead-code skipping did not apply.
		asm.Insn("move", asm.Atom("unreachable"), asm.X(9999)),
		asm.Insn("label", asm.Int(3)),
		asm.Insn("move", asm.Atom("ok"), asm.X(0)),
		asm.Insn("return"),
	)
	if ds := validateOne(fn); len(ds) != 0 {
		t.Fatalf("expected dead code to be skipped without diagnostics, got %v", ds)
	}
}

// Fragility sticks across a plain move between X-registers: the
// fragile bit must survive the copy so a later attempt to store it into
// a Y-register is still rejected.
func TestPropertyFragilityPropagatesThroughMove(t *testing.T) {
	fn := buildFunc("fragile_move", 0,
		asm.Insn("allocate", asm.Int(1), asm.Int(0)),
		asm.Insn("loop_rec", asm.F(5), asm.X(0)),
		asm.Insn("move", asm.X(0), asm.X(1)),
		asm.Insn("move", asm.X(1), asm.Y(0)),
		asm.Insn("label", asm.Int(5)),
		asm.Insn("move", asm.Atom("ok"), asm.X(0)),
		asm.Insn("deallocate", asm.Int(1)),
		asm.Insn("return"),
	)
	ds := validateOne(fn)
	if got := reasonOf(t, ds); got != ErrFragileMessageReference {
		t.Fatalf("expected %s, got %s", ErrFragileMessageReference, got)
	}
}

// Put-tuple atomicity: any instruction other than put between put_tuple
// and its matching final put is rejected, not just the ones that make
// it all the way to return.
func TestPropertyPutTupleAtomicity(t *testing.T) {
	fn := buildFunc("interrupted_fill", 0,
		asm.Insn("test_heap", asm.Int(8), asm.Int(0)),
		asm.Insn("put_tuple", asm.Int(2), asm.X(0)),
		asm.Insn("put", asm.Int(1)),
		asm.Insn("move", asm.Atom("oops"), asm.X(1)),
		asm.Insn("put", asm.Int(2)),
		asm.Insn("return"),
	)
	ds := validateOne(fn)
	if got := reasonOf(t, ds); got != ErrNotBuildingATuple {
		t.Fatalf("expected %s, got %s", ErrNotBuildingATuple, got)
	}
}

// Float-state automaton: fclearerror -> fadd -> fcheckerror transitions
// the state to "checked"; a subsequent fadd without re-clearing is
// rejected even though the function cleared the flag once already.
func TestPropertyFloatAutomatonRequiresReclear(t *testing.T) {
	fn := buildFunc("float_automaton", 0,
		asm.Insn("fclearerror"),
		asm.Insn("fmove", asm.Flt(1.0), asm.FR(0)),
		asm.Insn("fmove", asm.Flt(2.0), asm.FR(1)),
		asm.Insn("fadd", asm.F(0), asm.FR(0), asm.FR(1), asm.FR(2)),
		asm.Insn("fcheckerror", asm.F(0)),
		asm.Insn("fadd", asm.F(0), asm.FR(0), asm.FR(1), asm.FR(2)),
		asm.Insn("move", asm.Atom("ok"), asm.X(0)),
		asm.Insn("return"),
	)
	ds := validateOne(fn)
	if got := reasonOf(t, ds); got != ErrBadFloatingPointState {
		t.Fatalf("expected %s, got %s", ErrBadFloatingPointState, got)
	}
}

// Once fadd has left fls "cleared" (an error may be pending), any
// instruction outside the float block is unsafe until fcheckerror
// settles it — not just a second fadd.
func TestPropertyFloatStateBlocksOtherInstructions(t *testing.T) {
	fn := buildFunc("float_blocks_move", 0,
		asm.Insn("fclearerror"),
		asm.Insn("fmove", asm.Flt(1.0), asm.FR(0)),
		asm.Insn("fmove", asm.Flt(2.0), asm.FR(1)),
		asm.Insn("fadd", asm.F(0), asm.FR(0), asm.FR(1), asm.FR(2)),
		asm.Insn("move", asm.Atom("ok"), asm.X(0)),
		asm.Insn("return"),
	)
	ds := validateOne(fn)
	if got := reasonOf(t, ds); got != ErrUnsafeInstruction {
		t.Fatalf("expected %s, got %s", ErrUnsafeInstruction, got)
	}
}

// Back-to-back fclearerror: a pending, unchecked error left by the
// first fclearerror+fadd must be fcheckerror'd before the state can be
// cleared again — a second fclearerror while fls is still "cleared" is
// illegal, not a silent no-op.
func TestPropertyFloatClearErrorRequiresPriorCheck(t *testing.T) {
	fn := buildFunc("float_double_clear", 0,
		asm.Insn("fclearerror"),
		asm.Insn("fmove", asm.Flt(1.0), asm.FR(0)),
		asm.Insn("fmove", asm.Flt(2.0), asm.FR(1)),
		asm.Insn("fadd", asm.F(0), asm.FR(0), asm.FR(1), asm.FR(2)),
		asm.Insn("fclearerror"),
		asm.Insn("move", asm.Atom("ok"), asm.X(0)),
		asm.Insn("return"),
	)
	ds := validateOne(fn)
	if got := reasonOf(t, ds); got != ErrBadFloatingPointState {
		t.Fatalf("expected %s, got %s", ErrBadFloatingPointState, got)
	}
}

// At a return, numy must be "none": a frame that
// was allocated and never deallocated makes the return illegal even
// though every register the return itself touches is well-typed.
func TestPropertyReturnRequiresNoOpenFrame(t *testing.T) {
	fn := buildFunc("return_with_open_frame", 0,
		asm.Insn("allocate", asm.Int(1), asm.Int(0)),
		asm.Insn("move", asm.Atom("ok"), asm.X(0)),
		asm.Insn("return"),
	)
	ds := validateOne(fn)
	if got := reasonOf(t, ds); got != ErrStackFrame {
		t.Fatalf("expected %s, got %s", ErrStackFrame, got)
	}
}

// Tail-call half of the frame rule: Y-registers handed off at a tail
// call must all be initialized-or-better, even when the tail call itself
// deallocates no frame (call_only).
func TestPropertyTailCallRequiresInitializedY(t *testing.T) {
	fn := buildFunc("tailcall_uninitialized_y", 0,
		asm.Insn("allocate", asm.Int(1), asm.Int(0)),
		asm.Insn("call_only", asm.Int(0), asm.F(99)),
	)
	ds := validateOne(fn)
	if got := reasonOf(t, ds); got != ErrUninitializedReg {
		t.Fatalf("expected %s, got %s", ErrUninitializedReg, got)
	}
}

// An F-register index above 63 (beyond a single 64-bit word of the
// bitset) must be tracked correctly: writing fr(100) and then reading it
// back must see it as initialized, not spuriously flagged as unwritten.
func TestPropertyHighFRegisterIndexTracked(t *testing.T) {
	fn := buildFunc("high_fr_index", 0,
		asm.Insn("fclearerror"),
		asm.Insn("fmove", asm.Flt(1.5), asm.FR(100)),
		asm.Insn("fadd", asm.F(0), asm.FR(100), asm.FR(100), asm.FR(101)),
		asm.Insn("fcheckerror", asm.F(0)),
		asm.Insn("move", asm.Atom("ok"), asm.X(0)),
		asm.Insn("return"),
	)
	ds := validateOne(fn)
	if len(ds) != 0 {
		t.Fatalf("expected no diagnostics for a high f-register index, got %v", ds)
	}
}

// Tail-call match-context discipline: a tail call with two
// X-registers simultaneously holding match contexts must be rejected,
// since the runtime cannot correctly resume more than one.
func TestPropertyTailCallRejectsMultipleMatchContexts(t *testing.T) {
	fn := buildFunc("multi_ctx_tailcall", 2,
		asm.Insn("bs_start_match2", asm.F(0), asm.X(0), asm.Int(2), asm.Int(4), asm.X(0)),
		asm.Insn("bs_start_match2", asm.F(0), asm.X(1), asm.Int(2), asm.Int(4), asm.X(1)),
		asm.Insn("call_only", asm.Int(2), asm.F(99)),
	)
	ds := validateOne(fn)
	if got := reasonOf(t, ds); got != ErrMultipleMatchContexts {
		t.Fatalf("expected %s, got %s", ErrMultipleMatchContexts, got)
	}
}

// Independence: the diagnostics for one function do not depend on
// whether an unrelated function is also present in the module.
func TestPropertyIndependence(t *testing.T) {
	bad := buildFunc("bad_dealloc", 0,
		asm.Insn("allocate", asm.Int(2), asm.Int(0)),
		asm.Insn("move", asm.Atom("ok"), asm.X(0)),
		asm.Insn("deallocate", asm.Int(3)),
		asm.Insn("return"),
	)
	fine := buildFunc("fine", 0,
		asm.Insn("move", asm.Atom("ok"), asm.X(0)),
		asm.Insn("return"),
	)

	alone := Validate(&asm.Module{Name: "m", Functions: []*asm.Function{bad}}, Options{})
	together := Validate(&asm.Module{Name: "m", Functions: []*asm.Function{bad, fine}}, Options{})

	key := fnKey(bad.MFAIn(&asm.Module{Name: "m"}))
	a, b := alone.Diagnostics[key], together.Diagnostics[key]
	if len(a) != len(b) {
		t.Fatalf("diagnostic count depends on module composition: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i].Reason != b[i].Reason {
			t.Fatalf("diagnostic reason depends on module composition: %s vs %s", a[i].Reason, b[i].Reason)
		}
	}
	if ds := together.Diagnostics[fnKey(fine.MFAIn(&asm.Module{Name: "m"}))]; len(ds) != 0 {
		t.Fatalf("expected the well-typed function to stay clean, got %v", ds)
	}
}
