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

// After tuple_size(T) -> A, is_eq_exact(A, N) being true implies
// T : tuple(exact N). Prove it by reaching for an element index that is
// only out of range once T is known exact.
func TestRefineTupleSizeThenIsEqExact(t *testing.T) {
	fn := buildFunc("tuple_size_refine", 1,
		asm.Insn("is_tuple", asm.F(0), asm.X(0)),
		asm.Insn("tuple_size", asm.X(0), asm.X(1)),
		asm.Insn("is_eq_exact", asm.F(0), asm.X(1), asm.Int(3)),
		asm.Insn("get_tuple_element", asm.X(0), asm.Int(5), asm.X(2)),
		asm.Insn("move", asm.Atom("ok"), asm.X(0)),
		asm.Insn("return"),
	)
	ds := validateOne(fn)
	if got := reasonOf(t, ds); got != ErrBadType {
		t.Fatalf("expected %s (index 5 out of range once T is exact(3)), got %s", ErrBadType, got)
	}
}

// is_eq_exact(R, literal(Tuple)) implies R : tuple(exact
// size(Tuple)), exercised the same way — an element index that's only
// out of range once R's arity is pinned down by the literal comparison.
func TestRefineIsEqExactAgainstLiteralTuple(t *testing.T) {
	fn := buildFunc("literal_tuple_refine", 1,
		asm.Insn("is_tuple", asm.F(0), asm.X(0)),
		asm.Insn("is_eq_exact", asm.F(0), asm.X(0), asm.Literal(asm.TupleLit{Arity: 3})),
		asm.Insn("get_tuple_element", asm.X(0), asm.Int(5), asm.X(1)),
		asm.Insn("move", asm.Atom("ok"), asm.X(0)),
		asm.Insn("return"),
	)
	ds := validateOne(fn)
	if got := reasonOf(t, ds); got != ErrBadType {
		t.Fatalf("expected %s (index 5 out of range once R is exact(3)), got %s", ErrBadType, got)
	}
}

// After is_map(M) -> B, select_val branching on B = true implies
// M : map. Proved by reaching for get_map_elements on M in the true
// branch, which requires M : map and would otherwise be rejected since
// x(0) starts life as a bare term.
func TestRefineIsMapThenSelectVal(t *testing.T) {
	fn := buildFunc("is_map_refine", 1,
		asm.Insn("bif", asm.F(0), asm.Atom("is_map"), asm.X(0), asm.X(1)),
		asm.Insn("select_val", asm.X(1), asm.F(0),
			asm.List(asm.Atom("true"), asm.F(5), asm.Atom("false"), asm.F(6))),
		asm.Insn("label", asm.Int(5)),
		asm.Insn("get_map_elements", asm.F(0), asm.X(0), asm.List(asm.Atom("k"), asm.X(2))),
		asm.Insn("move", asm.Atom("ok"), asm.X(0)),
		asm.Insn("return"),
		asm.Insn("label", asm.Int(6)),
		asm.Insn("move", asm.Atom("ok"), asm.X(0)),
		asm.Insn("return"),
	)
	ds := validateOne(fn)
	if len(ds) != 0 {
		t.Fatalf("expected is_map refinement to make get_map_elements legal on the true branch, got %v", ds)
	}
}
