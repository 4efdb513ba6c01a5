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

// dispatchTier2 handles opcodes that may themselves raise an exception:
// before committing the fall-through state, fork a copy into the
// topmost enclosing catch/try failure label (if any). Raising outside
// any handler simply propagates out of the function — nothing local to
// verify there.
func dispatchTier2(c *Ctx, insn asm.Instruction) error {
	if c.cur.ctUndecided {
		return fail(ErrAmbiguousCatchTryState, "ambiguous catch/try nesting")
	}

	switch insn.Op {
	case "bif":
		return dispatchBif(c, insn)
	case "apply", "apply_last":
		return dispatchApply(c, insn)
	case "gc_bif1", "gc_bif2", "gc_bif3":
		return dispatchGcBif(c, insn)
	case "raise":
		if _, err := c.operandType(insn.Arg(0)); err != nil {
			return err
		}
		if _, err := c.operandType(insn.Arg(1)); err != nil {
			return err
		}
		c.forkToHandler()
		c.kill()
		return nil
	default:
		return fail(ErrUnknownInstruction, insn.Op)
	}
}

// forkToHandler clones the current state into the innermost enclosing
// catch/try failure label(s), if any are open. Each label in the top
// entry gets its own independent clone (clone-on-branch).
func (c *Ctx) forkToHandler() {
	top, ok := c.cur.topCatch()
	if !ok {
		return
	}
	for label := range top {
		c.branchTo(label, c.cur.clone())
	}
}

// branchOrHandler forks the pre-update state to an explicit failure
// label when the instruction declares one, and otherwise into the
// innermost enclosing catch/try handler (a raise with no local label).
func (c *Ctx) branchOrHandler(failOp asm.Operand) {
	if failOp.Kind == asm.KindLabel && failOp.Label != 0 {
		c.branchTo(failOp.Label, c.cur.clone())
		return
	}
	c.forkToHandler()
}

func isFloatBifName(name string) bool {
	switch name {
	case "fadd", "fsub", "fmul", "fdiv", "fnegate":
		return true
	}
	return false
}

// bifOperands splits a {bif, Fail, Name, Arg1..ArgN, Dst} instruction
// into its parts.
func bifOperands(insn asm.Instruction) (fail asm.Operand, name string, args []asm.Operand, dst asm.Operand, ok bool) {
	if len(insn.Args) < 3 {
		return asm.Operand{}, "", nil, asm.Operand{}, false
	}
	fail = insn.Arg(0)
	nameOp := insn.Arg(1)
	if nameOp.Kind != asm.KindAtom {
		return asm.Operand{}, "", nil, asm.Operand{}, false
	}
	name = nameOp.Atom
	dst = insn.Args[len(insn.Args)-1]
	args = insn.Args[2 : len(insn.Args)-1]
	return fail, name, args, dst, true
}

func dispatchBif(c *Ctx, insn asm.Instruction) error {
	failOp, name, args, dst, ok := bifOperands(insn)
	if !ok {
		return fail(ErrBadSource, "malformed bif instruction")
	}
	if isFloatBifName(name) {
		return dispatchFloatBif(c, args, dst)
	}
	for _, a := range args {
		if _, err := c.operandTerm(a); err != nil {
			return err
		}
	}
	c.branchOrHandler(failOp)

	rt, raises, _ := bifResult(name, len(args))
	if raises {
		c.kill()
		return nil
	}
	if err := c.storeTo(dst, rt); err != nil {
		return err
	}
	if name == "is_map" && len(args) == 1 {
		c.recordDef(dst, "is_map", args[0])
	}
	return nil
}

// dispatchFloatBif handles the bif-encoded spelling of the float
// arithmetic family, which obeys the same error-state automaton as the
// dedicated opcodes.
func dispatchFloatBif(c *Ctx, args []asm.Operand, dst asm.Operand) error {
	if err := c.fpRequireCleared(); err != nil {
		return err
	}
	for _, a := range args {
		if err := requireFR(c, a); err != nil {
			return err
		}
	}
	return requireFRDst(c, dst)
}

// dispatchGcBif handles the garbage-collecting BIF family: before the
// BIF runs the emulator may collect, so every Y-register must be
// initialised-or-better, X-registers prune to the declared live count,
// and any outstanding heap reservation dies.
func dispatchGcBif(c *Ctx, insn asm.Instruction) error {
	if len(insn.Args) < 4 {
		return fail(ErrBadSource, "malformed gc_bif instruction")
	}
	failOp := insn.Arg(0)
	live, ok := asInt(insn.Arg(1))
	if !ok {
		return fail(ErrBadNumberOfLiveRegs, "gc_bif: non-literal live count")
	}
	nameOp := insn.Arg(2)
	if nameOp.Kind != asm.KindAtom {
		return fail(ErrBadSource, "gc_bif: non-atom name")
	}
	dst := insn.Args[len(insn.Args)-1]
	args := insn.Args[3 : len(insn.Args)-1]

	for _, a := range args {
		if _, err := c.operandTerm(a); err != nil {
			return err
		}
	}
	if idx, ok := c.cur.yAllInitializedOrBetter(); !ok {
		return failf(ErrUninitializedReg, "y(%d) not initialized at a garbage-collection point", idx)
	}
	if err := c.pruneLive(int(live)); err != nil {
		return err
	}
	c.killHeapReservation()
	c.branchOrHandler(failOp)

	rt, raises, _ := bifResult(nameOp.Atom, len(args))
	if raises {
		c.kill()
		return nil
	}
	// On the fall-through path the BIF succeeded, which pins down the
	// argument's type for some BIFs (map_size succeeding means the
	// argument really was a map).
	if len(args) == 1 {
		if st, ok := gcBifSourceType(nameOp.Atom); ok {
			c.refineRegister(args[0], st)
		}
	}
	return c.storeTo(dst, rt)
}

func gcBifSourceType(name string) (Type, bool) {
	switch name {
	case "map_size":
		return MapType(), true
	case "tuple_size":
		return TupleAtLeast(0), true
	case "byte_size", "bit_size":
		return Binary(), true
	}
	return Type{}, false
}

func dispatchApply(c *Ctx, insn asm.Instruction) error {
	arity, ok := asInt(insn.Arg(0))
	if !ok {
		return fail(ErrBadSource, "apply: non-literal arity")
	}
	// x(0..arity-1) are the call arguments, x(arity) the module,
	// x(arity+1) the function name — all must already be defined.
	if err := c.pruneLive(int(arity) + 2); err != nil {
		return err
	}
	c.forkToHandler()
	c.killHeapReservation()

	if insn.Op == "apply_last" {
		n, ok := asInt(insn.Arg(1))
		if !ok {
			return fail(ErrBadSource, "apply_last: non-literal deallocation count")
		}
		if err := c.requireFrame(); err != nil {
			return err
		}
		if int(n) != int(c.cur.numy) {
			return failf(ErrAllocated, "apply_last %d does not match frame size %d", n, c.cur.numy)
		}
		c.kill()
		return nil
	}
	c.cur.pruneXAbove(0)
	return c.writeX(0, Term())
}
