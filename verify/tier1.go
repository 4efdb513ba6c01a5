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

// dispatchTier1 handles the opcodes that never branch to a catch/try
// handler: they move values around plainly, build terms, manage the
// frame and the catch/try brackets (which read and update ct), or
// terminate the current path outright. dispatchOne still applies the
// floating-point guard to them before they run.
func dispatchTier1(c *Ctx, insn asm.Instruction) error {
	switch insn.Op {
	case "badmatch", "if_end":
		if _, err := c.operandType(insn.Arg(0)); err != nil {
			return err
		}
		c.kill()
		return nil

	case "case_end", "try_case_end":
		if _, err := c.operandType(insn.Arg(0)); err != nil {
			return err
		}
		c.kill()
		return nil

	case "bs_context_to_binary":
		t, err := c.operandType(insn.Arg(0))
		if err != nil {
			return err
		}
		if t.Kind != KMatchContext && t.Kind != KBinary {
			return failf(ErrBadType, "bs_context_to_binary on %s", t)
		}
		c.refineRegister(insn.Arg(0), Binary())
		return nil

	case "move":
		return dispatchMove(c, insn)

	case "fmove":
		return dispatchFmove(c, insn)

	case "test_heap":
		words, floats, ok := allocSpec(insn.Arg(0))
		if !ok {
			return fail(ErrBadSource, "test_heap: malformed allocation size")
		}
		live, ok := asInt(insn.Arg(1))
		if !ok {
			return fail(ErrBadNumberOfLiveRegs, "test_heap: non-literal live count")
		}
		if err := c.pruneLive(int(live)); err != nil {
			return err
		}
		c.reserveHeap(words)
		c.reserveFloatHeap(floats)
		return nil

	case "bs_init_writable":
		if _, err := c.readX(0); err != nil {
			return err
		}
		return c.writeX(0, Binary())

	case "put_list":
		if _, err := c.operandTerm(insn.Arg(0)); err != nil {
			return err
		}
		if _, err := c.operandTerm(insn.Arg(1)); err != nil {
			return err
		}
		if err := c.consumeHeap(2); err != nil {
			return err
		}
		return c.storeTo(insn.Arg(2), Cons())

	case "put_tuple":
		return dispatchPutTuple(c, insn)

	case "put":
		return dispatchPut(c, insn)

	case "put_tuple2":
		list := insn.Arg(1)
		for _, el := range list.List {
			if _, err := c.operandTerm(el); err != nil {
				return err
			}
		}
		if err := c.consumeHeap(len(list.List) + 1); err != nil {
			return err
		}
		return c.storeTo(insn.Arg(0), TupleExact(len(list.List)))

	case "recv_mark", "recv_set":
		return nil

	case "%":
		// Assembler comment pseudo-instruction: carries no state.
		return nil

	case "trim":
		n, ok := asInt(insn.Arg(0))
		if !ok {
			return fail(ErrBadSource, "trim: non-literal size")
		}
		if err := c.requireFrame(); err != nil {
			return err
		}
		if int(n) > int(c.cur.numy) {
			return failf(ErrTrim, "trim %d exceeds frame size %d", n, c.cur.numy)
		}
		c.cur.numy = numY(n)
		c.cur.y.truncate(int(n))
		c.cur.dropRegMeta(true, int(n))
		return nil

	case "allocate", "allocate_zero":
		return dispatchAllocate(c, insn, insn.Op == "allocate_zero")

	case "allocate_heap":
		return dispatchAllocateHeap(c, insn)

	case "deallocate":
		n, ok := asInt(insn.Arg(0))
		if !ok {
			return fail(ErrBadSource, "deallocate: non-literal size")
		}
		if err := c.requireFrame(); err != nil {
			return err
		}
		if int(n) != int(c.cur.numy) {
			return failf(ErrStackFrame, "deallocate %d does not match frame size %d", n, c.cur.numy)
		}
		c.cur.numy = numYNone
		c.cur.y = newRegset()
		c.cur.dropRegMeta(true, 0)
		return nil

	case "catch":
		return dispatchCatch(c, insn)
	case "catch_end":
		return dispatchCatchEnd(c, insn)
	case "try":
		return dispatchTry(c, insn)
	case "try_end":
		return dispatchTryEnd(c, insn)
	case "try_case":
		return dispatchTryCase(c, insn)

	case "get_tuple_element":
		return dispatchGetTupleElement(c, insn)

	case "jump":
		label := insn.Arg(0).Label
		c.branchTo(label, c.cur.clone())
		c.kill()
		return nil

	default:
		return fail(ErrUnknownInstruction, insn.Op)
	}
}

// storeTo writes t to a register destination operand, enforcing the
// same limit/fragility rules writeX/writeY already apply.
func (c *Ctx) storeTo(dst asm.Operand, t Type) error {
	switch dst.Kind {
	case asm.KindX:
		return c.writeX(dst.Reg, t)
	case asm.KindY:
		return c.writeY(dst.Reg, t)
	default:
		return failf(ErrInvalidStore, "cannot store to %s", dst)
	}
}

func asInt(op asm.Operand) (int64, bool) {
	if op.Kind != asm.KindInteger {
		return 0, false
	}
	return op.Int, true
}

// allocSpec reads a heap-need operand: either a plain word count or an
// allocation list of alternating (words|floats, count) pairs.
func allocSpec(op asm.Operand) (words, floats int, ok bool) {
	if op.Kind == asm.KindInteger {
		return int(op.Int), 0, true
	}
	if op.Kind != asm.KindList || len(op.List)%2 != 0 {
		return 0, 0, false
	}
	for i := 0; i+1 < len(op.List); i += 2 {
		tag, n := op.List[i], op.List[i+1]
		if tag.Kind != asm.KindAtom || n.Kind != asm.KindInteger {
			return 0, 0, false
		}
		switch tag.Atom {
		case "words":
			words += int(n.Int)
		case "floats":
			floats += int(n.Int)
		default:
			return 0, 0, false
		}
	}
	return words, floats, true
}

func dispatchMove(c *Ctx, insn asm.Instruction) error {
	src, dst := insn.Arg(0), insn.Arg(1)
	t, err := c.operandType(src)
	if err != nil {
		return err
	}
	if err := c.storeTo(dst, t); err != nil {
		return err
	}
	// A register-to-register move leaves both slots holding the same
	// term, so refinement of one from here on applies to the other.
	if sk, ok := regKeyOf(src); ok {
		if dk, ok := regKeyOf(dst); ok && sk != dk {
			c.cur.addAlias(sk, dk)
		}
	}
	return nil
}

func dispatchFmove(c *Ctx, insn asm.Instruction) error {
	src, dst := insn.Arg(0), insn.Arg(1)
	if dst.Kind == asm.KindFR {
		t, err := c.operandType(src)
		if err != nil {
			return err
		}
		if t.Kind != KFloat && t.Kind != KInteger && t.Kind != KNumber && t.Kind != KTerm {
			return failf(ErrBadType, "fmove from %s into fr(%d)", t, dst.Reg)
		}
		return c.writeFR(dst.Reg)
	}
	if src.Kind == asm.KindFR {
		ok, err := c.readFR(src.Reg)
		if err != nil {
			return err
		}
		if !ok {
			return failf(ErrUninitializedFR, "fr(%d)", src.Reg)
		}
		if err := c.consumeFloatHeap(1); err != nil {
			return err
		}
		return c.storeTo(dst, AnyFloat())
	}
	return failf(ErrBadSource, "fmove requires one fr operand")
}

func dispatchPutTuple(c *Ctx, insn asm.Instruction) error {
	if c.cur.puts.active {
		return fail(ErrTupleInProgress, "put_tuple while a tuple fill is already in progress")
	}
	n, ok := asInt(insn.Arg(0))
	if !ok {
		return fail(ErrBadSource, "put_tuple: non-literal arity")
	}
	if err := c.consumeHeap(1); err != nil {
		return err
	}
	dst := insn.Arg(1)
	if n == 0 {
		return c.storeTo(dst, TupleExact(0))
	}
	if dst.Kind != asm.KindX {
		// put_tuple only ever targets an X-register in practice; guard
		// against a malformed stream claiming otherwise.
		return failf(ErrInvalidStore, "put_tuple destination must be an x register, got %s", dst)
	}
	if err := c.storeTo(dst, TupleInProgress()); err != nil {
		return err
	}
	c.cur.puts = putsLeft{active: true, remaining: int(n), dst: dst.Reg, tupleType: TupleExact(int(n))}
	return nil
}

func dispatchPut(c *Ctx, insn asm.Instruction) error {
	if !c.cur.puts.active {
		return fail(ErrNotBuildingATuple, "put outside of a put_tuple fill")
	}
	if _, err := c.operandTerm(insn.Arg(0)); err != nil {
		return err
	}
	if err := c.consumeHeap(1); err != nil {
		return err
	}
	c.cur.puts.remaining--
	if c.cur.puts.remaining <= 0 {
		tt := c.cur.puts.tupleType
		dst := c.cur.puts.dst
		c.cur.puts = putsLeft{}
		return c.writeX(dst, tt)
	}
	return nil
}

func dispatchAllocate(c *Ctx, insn asm.Instruction, zero bool) error {
	n, ok := asInt(insn.Arg(0))
	if !ok {
		return fail(ErrBadSource, "allocate: non-literal frame size")
	}
	live, ok := asInt(insn.Arg(1))
	if !ok {
		return fail(ErrBadNumberOfLiveRegs, "allocate: non-literal live count")
	}
	if err := c.requireNoFrame(); err != nil {
		return err
	}
	if err := c.pruneLive(int(live)); err != nil {
		return err
	}
	c.cur.numy = numY(n)
	c.cur.y = newRegset()
	init := Uninitialized()
	if zero {
		init = Initialized()
	}
	for i := 0; i < int(n); i++ {
		c.cur.y.update(i, init)
	}
	return nil
}

func dispatchAllocateHeap(c *Ctx, insn asm.Instruction) error {
	n, ok := asInt(insn.Arg(0))
	if !ok {
		return fail(ErrBadSource, "allocate_heap: non-literal frame size")
	}
	words, floats, ok := allocSpec(insn.Arg(1))
	if !ok {
		return fail(ErrBadSource, "allocate_heap: malformed heap need")
	}
	live, ok := asInt(insn.Arg(2))
	if !ok {
		return fail(ErrBadNumberOfLiveRegs, "allocate_heap: non-literal live count")
	}
	if err := c.requireNoFrame(); err != nil {
		return err
	}
	if err := c.pruneLive(int(live)); err != nil {
		return err
	}
	c.cur.numy = numY(n)
	c.cur.y = newRegset()
	for i := 0; i < int(n); i++ {
		c.cur.y.update(i, Uninitialized())
	}
	c.reserveHeap(words)
	c.reserveFloatHeap(floats)
	return nil
}

// dispatchCatch and dispatchTry install a tag and push the enclosing
// handler entry. The handler label is seeded with the post-push state:
// the normal path reaches the same label by falling through the
// protected body, so both arrive with the tag still pushed and the
// disposal opcode at the label pops it exactly once.
func dispatchCatch(c *Ctx, insn asm.Instruction) error {
	return installTag(c, insn, "catch", CatchTag(insn.Arg(1).Label))
}

func dispatchTry(c *Ctx, insn asm.Instruction) error {
	return installTag(c, insn, "try", TryTag(insn.Arg(1).Label))
}

func installTag(c *Ctx, insn asm.Instruction, what string, tag Type) error {
	yreg := insn.Arg(0)
	label := insn.Arg(1).Label
	if yreg.Kind != asm.KindY {
		return failf(ErrInvalidStore, "%s destination %s is not a y register", what, yreg)
	}
	if top, ok := c.cur.topCatchY(); ok && yreg.Reg <= top {
		return failf(ErrBadTryCatchNesting, "%s at y(%d) does not nest above enclosing tag at y(%d)", what, yreg.Reg, top)
	}
	if err := c.writeY(yreg.Reg, tag); err != nil {
		return err
	}
	c.cur.pushCatchAt(newLabelSet(label), yreg.Reg)

	// The runtime guarantees a well-formed frame by the time control
	// reaches the handler, so uninitialised Y-slots are upgraded there
	// rather than rejected.
	handler := c.cur.clone()
	handler.upgradeUninitializedYToTerm()
	c.branchTo(label, handler)
	return nil
}

func dispatchCatchEnd(c *Ctx, insn asm.Instruction) error {
	yreg := insn.Arg(0)
	if yreg.Kind != asm.KindY {
		return failf(ErrBadSource, "catch_end operand %s is not a y register", yreg)
	}
	t, err := c.readYRaw(yreg.Reg)
	if err != nil {
		return err
	}
	if t.Kind != KCatchTag {
		return fail(ErrCatchTag, "catch_end: y register does not hold a catchtag")
	}
	if err := c.popTagAt(yreg.Reg, t); err != nil {
		return err
	}
	c.cur.y.update(yreg.Reg, Initialized())
	return c.writeX(0, Term())
}

func dispatchTryEnd(c *Ctx, insn asm.Instruction) error {
	yreg := insn.Arg(0)
	if yreg.Kind != asm.KindY {
		return failf(ErrBadSource, "try_end operand %s is not a y register", yreg)
	}
	t, err := c.readYRaw(yreg.Reg)
	if err != nil {
		return err
	}
	if t.Kind != KTryTag {
		return fail(ErrTryTag, "try_end: y register does not hold a trytag")
	}
	if err := c.popTagAt(yreg.Reg, t); err != nil {
		return err
	}
	c.cur.y.update(yreg.Reg, Initialized())
	return nil
}

// dispatchTryCase disposes a trytag on the handler path: the caught
// exception's class, reason and stacktrace land in x(0..2) and every
// other X-register dies.
func dispatchTryCase(c *Ctx, insn asm.Instruction) error {
	yreg := insn.Arg(0)
	if yreg.Kind != asm.KindY {
		return failf(ErrBadSource, "try_case operand %s is not a y register", yreg)
	}
	t, err := c.readYRaw(yreg.Reg)
	if err != nil {
		return err
	}
	if t.Kind != KTryTag {
		return fail(ErrTryTag, "try_case: y register does not hold a trytag")
	}
	if err := c.popTagAt(yreg.Reg, t); err != nil {
		return err
	}
	c.cur.y.update(yreg.Reg, Initialized())
	c.cur.pruneXAbove(0)
	for i := 0; i < 3; i++ {
		c.cur.x.update(i, Term())
	}
	return nil
}

func dispatchGetTupleElement(c *Ctx, insn asm.Instruction) error {
	src, nOp, dst := insn.Arg(0), insn.Arg(1), insn.Arg(2)
	t, err := c.operandType(src)
	if err != nil {
		return err
	}
	n, ok := asInt(nOp)
	if !ok {
		return fail(ErrBadSource, "get_tuple_element: non-literal index")
	}
	if t.Kind != KTuple {
		return failf(ErrBadType, "get_tuple_element on %s", t)
	}
	if t.TupleExact && int(n) >= t.TupleN {
		return failf(ErrBadType, "get_tuple_element index %d out of range for tuple(exact %d)", n, t.TupleN)
	}
	result := Term()
	if t.Fragile {
		result = result.AsFragile()
	}
	return c.storeTo(dst, result)
}
