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

// Builders consume reserved heap words; building with nothing reserved
// is rejected.
func TestHeapConsumptionWithoutReservation(t *testing.T) {
	fn := buildFunc("no_heap", 0,
		asm.Insn("put_list", asm.Int(1), asm.Nil(), asm.X(0)),
		asm.Insn("return"),
	)
	ds := validateOne(fn)
	if got := reasonOf(t, ds); got != ErrHeapOverflow {
		t.Fatalf("expected %s, got %s", ErrHeapOverflow, got)
	}
}

func TestHeapConsumptionWithinReservation(t *testing.T) {
	fn := buildFunc("with_heap", 0,
		asm.Insn("test_heap", asm.Int(2), asm.Int(0)),
		asm.Insn("put_list", asm.Int(1), asm.Nil(), asm.X(0)),
		asm.Insn("return"),
	)
	if ds := validateOne(fn); len(ds) != 0 {
		t.Fatalf("expected no diagnostics, got %v", ds)
	}
}

// Boxing a float out of an F-register needs a float-heap reservation,
// made with the allocation-list form of test_heap.
func TestFloatHeapConsumption(t *testing.T) {
	box := func(reserve bool) *asm.Function {
		body := []asm.Instruction{
			asm.Insn("fmove", asm.Flt(1.0), asm.FR(0)),
			asm.Insn("fmove", asm.FR(0), asm.X(0)),
			asm.Insn("return"),
		}
		if reserve {
			body = append([]asm.Instruction{
				asm.Insn("test_heap", asm.List(asm.Atom("floats"), asm.Int(1)), asm.Int(0)),
			}, body...)
		}
		return buildFunc("box_float", 0, body...)
	}

	ds := validateOne(box(false))
	if got := reasonOf(t, ds); got != ErrHeapOverflow {
		t.Fatalf("expected %s without a float reservation, got %s", ErrHeapOverflow, got)
	}
	if ds := validateOne(box(true)); len(ds) != 0 {
		t.Fatalf("expected no diagnostics with a float reservation, got %v", ds)
	}
}

// The source of a `put` may not be the tuple currently being filled.
func TestPutOfTupleInProgressRejected(t *testing.T) {
	fn := buildFunc("self_put", 0,
		asm.Insn("test_heap", asm.Int(8), asm.Int(0)),
		asm.Insn("put_tuple", asm.Int(2), asm.X(0)),
		asm.Insn("put", asm.X(0)),
		asm.Insn("return"),
	)
	ds := validateOne(fn)
	if got := reasonOf(t, ds); got != ErrTupleInProgress {
		t.Fatalf("expected %s, got %s", ErrTupleInProgress, got)
	}
}

// A match context is not an ordinary term: it cannot be an element of a
// list cell.
func TestMatchContextAsTermRejected(t *testing.T) {
	fn := buildFunc("ctx_in_list", 1,
		asm.Insn("bs_start_match2", asm.F(0), asm.X(0), asm.Int(1), asm.Int(0), asm.X(0)),
		asm.Insn("test_heap", asm.Int(2), asm.Int(1)),
		asm.Insn("put_list", asm.X(0), asm.Nil(), asm.X(1)),
		asm.Insn("return"),
	)
	ds := validateOne(fn)
	if got := reasonOf(t, ds); got != ErrMatchContext {
		t.Fatalf("expected %s, got %s", ErrMatchContext, got)
	}
}

// set_tuple_element is legal only in the window a setelement call
// opens.
func TestSetTupleElementAfterSetelement(t *testing.T) {
	fn := buildFunc("setel_ok", 3,
		asm.Insn("call_ext", asm.Int(3), asm.Literal(asm.ExtFunc{Module: "erlang", Name: "setelement", Arity: 3})),
		asm.Insn("set_tuple_element", asm.Atom("v"), asm.X(0), asm.Int(1)),
		asm.Insn("return"),
	)
	if ds := validateOne(fn); len(ds) != 0 {
		t.Fatalf("expected no diagnostics, got %v", ds)
	}
}

func TestSetTupleElementOutsideWindowRejected(t *testing.T) {
	fn := buildFunc("setel_bad", 3,
		asm.Insn("call_ext", asm.Int(3), asm.Literal(asm.ExtFunc{Module: "erlang", Name: "setelement", Arity: 3})),
		asm.Insn("move", asm.X(0), asm.X(1)),
		asm.Insn("set_tuple_element", asm.Atom("v"), asm.X(1), asm.Int(1)),
		asm.Insn("return"),
	)
	ds := validateOne(fn)
	if got := reasonOf(t, ds); got != ErrIllegalContextForSetTupleElement {
		t.Fatalf("expected %s, got %s", ErrIllegalContextForSetTupleElement, got)
	}
}

// Disposing an outer tag while an inner one is still open is rejected:
// disposal must be innermost-first.
func TestOutOfOrderTagDisposal(t *testing.T) {
	fn := buildFunc("bad_disposal", 0,
		asm.Insn("allocate", asm.Int(2), asm.Int(0)),
		asm.Insn("catch", asm.Y(0), asm.F(8)),
		asm.Insn("catch", asm.Y(1), asm.F(9)),
		asm.Insn("catch_end", asm.Y(0)),
		asm.Insn("return"),
		asm.Insn("label", asm.Int(8)),
		asm.Insn("return"),
		asm.Insn("label", asm.Int(9)),
		asm.Insn("return"),
	)
	ds := validateOne(fn)
	if got := reasonOf(t, ds); got != ErrUnknownCatchTryState {
		t.Fatalf("expected %s, got %s", ErrUnknownCatchTryState, got)
	}
}

// The normal path and the handler path both reach the disposal label
// with the same tag pushed, so the canonical catch bracket verifies
// cleanly end to end.
func TestCatchBracketRoundTrip(t *testing.T) {
	fn := buildFunc("catch_ok", 1,
		asm.Insn("allocate", asm.Int(1), asm.Int(1)),
		asm.Insn("catch", asm.Y(0), asm.F(8)),
		asm.Insn("call_ext", asm.Int(1), asm.Literal(asm.ExtFunc{Module: "m", Name: "f", Arity: 1})),
		asm.Insn("label", asm.Int(8)),
		asm.Insn("catch_end", asm.Y(0)),
		asm.Insn("deallocate", asm.Int(1)),
		asm.Insn("return"),
	)
	if ds := validateOne(fn); len(ds) != 0 {
		t.Fatalf("expected no diagnostics, got %v", ds)
	}
}

// try_case disposes the tag on the handler path and leaves the caught
// class/reason/stacktrace in x(0..2).
func TestTryCaseRoundTrip(t *testing.T) {
	fn := buildFunc("try_ok", 1,
		asm.Insn("allocate", asm.Int(1), asm.Int(1)),
		asm.Insn("try", asm.Y(0), asm.F(8)),
		asm.Insn("call_ext", asm.Int(1), asm.Literal(asm.ExtFunc{Module: "m", Name: "f", Arity: 1})),
		asm.Insn("try_end", asm.Y(0)),
		asm.Insn("deallocate", asm.Int(1)),
		asm.Insn("return"),
		asm.Insn("label", asm.Int(8)),
		asm.Insn("try_case", asm.Y(0)),
		asm.Insn("move", asm.X(1), asm.X(0)),
		asm.Insn("deallocate", asm.Int(1)),
		asm.Insn("return"),
	)
	if ds := validateOne(fn); len(ds) != 0 {
		t.Fatalf("expected no diagnostics, got %v", ds)
	}
}

// select_val selectors must all share one constant type.
func TestSelectValMixedSelectorsRejected(t *testing.T) {
	fn := buildFunc("mixed_select", 1,
		asm.Insn("select_val", asm.X(0), asm.F(0),
			asm.List(asm.Atom("a"), asm.F(4), asm.Int(1), asm.F(5))),
		asm.Insn("label", asm.Int(4)),
		asm.Insn("return"),
		asm.Insn("label", asm.Int(5)),
		asm.Insn("return"),
	)
	ds := validateOne(fn)
	if got := reasonOf(t, ds); got != ErrBadSelectList {
		t.Fatalf("expected %s, got %s", ErrBadSelectList, got)
	}
}

// A deallocation count that disagrees with the open frame at a tail
// call reports the frame as still allocated.
func TestCallLastFrameMismatch(t *testing.T) {
	fn := buildFunc("bad_call_last", 0,
		asm.Insn("allocate", asm.Int(1), asm.Int(0)),
		asm.Insn("move", asm.Atom("ok"), asm.Y(0)),
		asm.Insn("call_last", asm.Int(0), asm.F(9), asm.Int(2)),
	)
	ds := validateOne(fn)
	if got := reasonOf(t, ds); got != ErrAllocated {
		t.Fatalf("expected %s, got %s", ErrAllocated, got)
	}
}

// Map key lists must be non-empty and duplicate-free.
func TestMapFieldListChecks(t *testing.T) {
	empty := buildFunc("empty_fields", 1,
		asm.Insn("has_map_fields", asm.F(0), asm.X(0), asm.List()),
		asm.Insn("return"),
	)
	ds := validateOne(empty)
	if got := reasonOf(t, ds); got != ErrEmptyFieldList {
		t.Fatalf("expected %s, got %s", ErrEmptyFieldList, got)
	}

	dup := buildFunc("dup_keys", 1,
		asm.Insn("is_map", asm.F(0), asm.X(0)),
		asm.Insn("get_map_elements", asm.F(0), asm.X(0),
			asm.List(asm.Atom("k"), asm.X(1), asm.Atom("k"), asm.X(2))),
		asm.Insn("return"),
	)
	ds = validateOne(dup)
	if got := reasonOf(t, ds); got != ErrKeysNotUnique {
		t.Fatalf("expected %s, got %s", ErrKeysNotUnique, got)
	}
}

// A gc_bif is a collection point: every Y-register must hold at least
// an initialized value when it runs.
func TestGcBifRequiresInitializedY(t *testing.T) {
	fn := buildFunc("gc_uninit_y", 1,
		asm.Insn("allocate", asm.Int(1), asm.Int(1)),
		asm.Insn("gc_bif", asm.F(0), asm.Int(1), asm.Atom("length"), asm.X(0), asm.X(0)),
		asm.Insn("deallocate", asm.Int(1)),
		asm.Insn("return"),
	)
	ds := validateOne(fn)
	if got := reasonOf(t, ds); got != ErrUninitializedReg {
		t.Fatalf("expected %s, got %s", ErrUninitializedReg, got)
	}
}

// map_size succeeding pins its argument down to a map on the
// fall-through path.
func TestGcBifMapSizeRefinesSource(t *testing.T) {
	fn := buildFunc("map_size_refine", 1,
		asm.Insn("gc_bif", asm.F(0), asm.Int(1), asm.Atom("map_size"), asm.X(0), asm.X(1)),
		asm.Insn("get_map_elements", asm.F(0), asm.X(0), asm.List(asm.Atom("k"), asm.X(2))),
		asm.Insn("move", asm.Atom("ok"), asm.X(0)),
		asm.Insn("return"),
	)
	if ds := validateOne(fn); len(ds) != 0 {
		t.Fatalf("expected map_size to refine its source, got %v", ds)
	}
}

// A register-to-register move aliases the two slots: narrowing one side
// afterwards narrows the other.
func TestAliasPropagatesRefinement(t *testing.T) {
	fn := buildFunc("alias_refine", 1,
		asm.Insn("is_tuple", asm.F(0), asm.X(0)),
		asm.Insn("move", asm.X(0), asm.X(1)),
		asm.Insn("test_arity", asm.F(0), asm.X(1), asm.Int(3)),
		asm.Insn("get_tuple_element", asm.X(0), asm.Int(5), asm.X(2)),
		asm.Insn("return"),
	)
	ds := validateOne(fn)
	if got := reasonOf(t, ds); got != ErrBadType {
		t.Fatalf("expected %s via the alias, got %s", ErrBadType, got)
	}
}

// The bif-encoded float arithmetic obeys the same error-state automaton
// as the dedicated opcodes.
func TestFloatBifRequiresClearedState(t *testing.T) {
	fn := buildFunc("bif_fadd", 0,
		asm.Insn("bif", asm.F(0), asm.Atom("fadd"), asm.FR(0), asm.FR(1), asm.FR(2)),
		asm.Insn("return"),
	)
	ds := validateOne(fn)
	if got := reasonOf(t, ds); got != ErrBadFloatingPointState {
		t.Fatalf("expected %s, got %s", ErrBadFloatingPointState, got)
	}
}

// bs_start_match2's source must be inside the declared live set.
func TestBsStartMatchSourceMustBeLive(t *testing.T) {
	fn := buildFunc("dead_src", 2,
		asm.Insn("bs_start_match2", asm.F(0), asm.X(1), asm.Int(1), asm.Int(0), asm.X(1)),
		asm.Insn("return"),
	)
	ds := validateOne(fn)
	if got := reasonOf(t, ds); got != ErrNotLive {
		t.Fatalf("expected %s, got %s", ErrNotLive, got)
	}
}

// Starting a match on a register that already holds a context is only
// legal in place (source and destination the same register).
func TestBsStartMatchOnExistingContext(t *testing.T) {
	moved := buildFunc("ctx_moved", 1,
		asm.Insn("bs_start_match2", asm.F(0), asm.X(0), asm.Int(1), asm.Int(0), asm.X(0)),
		asm.Insn("bs_start_match2", asm.F(0), asm.X(0), asm.Int(1), asm.Int(0), asm.X(1)),
		asm.Insn("return"),
	)
	ds := validateOne(moved)
	if got := reasonOf(t, ds); got != ErrMatchContext {
		t.Fatalf("expected %s, got %s", ErrMatchContext, got)
	}

	inPlace := buildFunc("ctx_in_place", 1,
		asm.Insn("bs_start_match2", asm.F(0), asm.X(0), asm.Int(1), asm.Int(0), asm.X(0)),
		asm.Insn("bs_start_match2", asm.F(0), asm.X(0), asm.Int(1), asm.Int(0), asm.X(0)),
		asm.Insn("move", asm.Atom("ok"), asm.X(0)),
		asm.Insn("return"),
	)
	if ds := validateOne(inPlace); len(ds) != 0 {
		t.Fatalf("expected in-place re-match to be accepted, got %v", ds)
	}
}
