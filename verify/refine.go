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

import "github.com/basalt-labs/bcverify/asm"

// Local type refinement: on the success (fall-through) path of a
// type test or an exact-equality comparison, the register(s) involved
// can be narrowed beyond what their defining instruction alone implies.
// Refinement is branch-local — joinStates intentionally resets defs at
// every label, so it never leaks across a merge point.

// recordDef remembers that dst was just defined by op applied to src,
// consulted later if dst is compared for exact equality (the
// tuple_size+is_eq_exact pairing).
func (c *Ctx) recordDef(dst asm.Operand, op string, src asm.Operand) {
	k, ok := regKeyOf(dst)
	if !ok {
		return
	}
	c.cur.defs.set(k, defInfo{op: op, args: []any{src}})
}

// refineStateKey narrows the register behind an alias-table key to t,
// preserving the slot's fragility. Absent registers are a no-op.
func refineStateKey(s *State, k int64, t Type) {
	isY, idx := regKeyParts(k)
	if isY {
		old, ok := s.y.lookup(idx)
		if !ok || old.Fragile {
			return
		}
		s.y.update(idx, t)
		return
	}
	old, ok := s.x.lookup(idx)
	if !ok {
		return
	}
	t.Fragile = old.Fragile
	s.x.update(idx, t)
}

// refineStateRegister narrows op's type to t in s, and propagates the
// same narrowing to op's alias partner — both slots hold the same term,
// so a fact learned about one is a fact about the other. Non-register
// operands are a no-op: a literal's type can't be narrowed further by
// definition.
func refineStateRegister(s *State, op asm.Operand, t Type) {
	k, ok := regKeyOf(op)
	if !ok {
		return
	}
	refineStateKey(s, k, t)
	if partner, ok := s.aliases.get(k); ok {
		refineStateKey(s, partner, t)
	}
}

// refineRegister is refineStateRegister applied to the current
// fall-through state.
func (c *Ctx) refineRegister(op asm.Operand, t Type) {
	refineStateRegister(c.cur, op, t)
}

// refineTestKind applies the narrowing half of an is_xxx test's
// fall-through branch: Src is now known to have kind k.
func (c *Ctx) refineTestKind(op asm.Operand, k Kind) {
	t, err := c.operandType(op)
	if err != nil {
		return
	}
	t.Kind = k
	c.refineRegister(op, t)
}

// specificity ranks how precise a Type is, used by refineEquality to
// decide which of two operands being compared equal carries the more
// useful information to propagate to the other.
func specificity(t Type) int {
	switch {
	case t.Kind == KTuple && t.TupleExact:
		return 4
	case (t.Kind == KAtom || t.Kind == KInteger || t.Kind == KFloat) && t.HasValue:
		return 4
	case t.Kind == KLiteral:
		return 3
	case t.Kind == KTuple:
		return 2
	case t.Kind != KTerm:
		return 1
	default:
		return 0
	}
}

// refineEquality implements is_eq_exact's fall-through narrowing:
// whichever side is more specific gets propagated onto the
// other, and if the less specific side is itself a register that was
// just defined by tuple_size of some other tuple register, that tuple
// register's arity gets refined to the now-known exact value too (the
// tuple_size+is_eq_exact pairing) — likewise for a register holding a
// literal tuple shape compared directly (the is_eq_exact+literal tuple
// pairing collapses into the same "more specific type wins" rule here).
func (c *Ctx) refineEquality(a, b asm.Operand) {
	ta, err := c.operandType(a)
	if err != nil {
		return
	}
	tb, err := c.operandType(b)
	if err != nil {
		return
	}

	if specificity(tb) > specificity(ta) {
		c.refineRegister(a, tb)
		c.propagateTupleSizeRefinement(a, tb)
	} else if specificity(ta) > specificity(tb) {
		c.refineRegister(b, ta)
		c.propagateTupleSizeRefinement(b, ta)
	}
}

// propagateTupleSizeRefinement looks up whether reg was defined by
// tuple_size(Tuple); if so, and the now-known type for reg is an exact
// integer N, the source tuple register is refined to TupleExact(N).
func (c *Ctx) propagateTupleSizeRefinement(reg asm.Operand, known Type) {
	if known.Kind != KInteger || !known.HasValue {
		return
	}
	k, ok := regKeyOf(reg)
	if !ok {
		return
	}
	info, ok := c.cur.defs.get(k)
	if !ok || info.op != "tuple_size" || len(info.args) != 1 {
		return
	}
	tupleOp, ok := info.args[0].(asm.Operand)
	if !ok {
		return
	}
	c.refineRegister(tupleOp, TupleExact(int(known.IntVal)))
}

// propagateIsMapRefinement implements the other defining-instruction
// pairing:
// after is_map(M) -> B, a select_val branch on B = true implies M : map.
// branch is the clone being built for that one branch, so the
// refinement lands only there and never leaks to sibling branches.
func (c *Ctx) propagateIsMapRefinement(branch *State, src, val asm.Operand) {
	if val.Kind != asm.KindAtom || val.Atom != "true" {
		return
	}
	k, ok := regKeyOf(src)
	if !ok {
		return
	}
	info, ok := c.cur.defs.get(k)
	if !ok || info.op != "is_map" || len(info.args) != 1 {
		return
	}
	mOp, ok := info.args[0].(asm.Operand)
	if !ok {
		return
	}
	refineStateRegister(branch, mOp, MapType())
}
