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
	"fmt"

	"github.com/basalt-labs/bcverify/asm"
)

// TransferFunc is the signature every opcode's transfer function
// implements, including host-supplied extensions: inspect and update
// c.cur (the fall-through state, or nil to kill it), optionally branch
// to other labels via c.branchTo, and return a *Diagnostic (as an
// error) to reject the instruction.
type TransferFunc func(c *Ctx, insn asm.Instruction) error

// Ctx is the verifier state threaded through one function's
// verification: the current state (or nil if dead), the branch table,
// the set of referenced vs. defined labels (for the undefined-label
// check), the cross-function match-context index, and the active opcode
// registry/extensions.
type Ctx struct {
	Mod        *asm.Module
	Fn         *asm.Function
	MFA        asm.MFA
	Limits     Limits
	Registry   *asm.Registry
	Extensions map[string]TransferFunc
	Prescan    matchContextPrescan

	bt            *branchTable
	referenced    map[int]bool
	definedLabels map[int]bool

	cur    *State
	offset int
	insn   asm.Instruction
}

// branchTo implements the branch-merge half of every opcode's transfer
// function: label 0 is never a real target — a branch to 0 means
// "fail", and the state is left unchanged. branchTo does not check the
// Y-registers for a branch to 0, and most callers do not either; only
// gc_bif checks them before its failure branch.
func (c *Ctx) branchTo(label int, s *State) {
	if label == 0 {
		return
	}
	c.referenced[label] = true
	c.bt.joinAt(label, s)
}

func (c *Ctx) kill() {
	c.cur = nil
}

func fail(reason Reason, detail string) error {
	return &Diagnostic{Reason: reason, Detail: detail}
}

func failf(reason Reason, format string, args ...any) error {
	return &Diagnostic{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

// readX reads the type at X(n), enforcing the register-index limit; a
// read must not return uninitialized, and X-registers have no explicit
// uninitialized marker, so "absent" is the X-register analogue.
func (c *Ctx) readX(n int) (Type, error) {
	if d := c.Limits.checkX(n); d != nil {
		return Type{}, d
	}
	t, ok := c.cur.x.lookup(n)
	if !ok {
		return Type{}, failf(ErrUninitializedReg, "x(%d)", n)
	}
	return t, nil
}

// readY reads Y(n), enforcing the additional Y-register rule:
// catchtag/trytag may not be read except by a try/catch disposal
// opcode, which must call readYRaw instead.
func (c *Ctx) readY(n int) (Type, error) {
	t, err := c.readYRaw(n)
	if err != nil {
		return t, err
	}
	if t.Kind == KCatchTag {
		return t, fail(ErrCatchTag, fmt.Sprintf("y(%d)", n))
	}
	if t.Kind == KTryTag {
		return t, fail(ErrTryTag, fmt.Sprintf("y(%d)", n))
	}
	return t, nil
}

// readYRaw reads Y(n) without the catchtag/trytag restriction, for the
// disposal opcodes (catch_end, try_end, try_case) that are specifically
// allowed to observe a tag.
func (c *Ctx) readYRaw(n int) (Type, error) {
	if d := c.Limits.checkY(n); d != nil {
		return Type{}, d
	}
	t, ok := c.cur.y.lookup(n)
	if !ok || t.Kind == KUninitialized {
		return Type{}, failf(ErrUninitializedReg, "y(%d)", n)
	}
	return t, nil
}

func (c *Ctx) writeX(n int, t Type) error {
	if d := c.Limits.checkX(n); d != nil {
		return d
	}
	k := regKey(false, n)
	c.cur.removeAlias(k)
	c.cur.defs.delete(k)
	c.cur.x.update(n, t)
	return nil
}

func (c *Ctx) writeY(n int, t Type) error {
	if d := c.Limits.checkY(n); d != nil {
		return d
	}
	if t.Fragile {
		return fail(ErrFragileMessageReference, fmt.Sprintf("y(%d)", n))
	}
	k := regKey(true, n)
	c.cur.removeAlias(k)
	c.cur.defs.delete(k)
	c.cur.y.update(n, t)
	return nil
}

func (c *Ctx) readFR(n int) (bool, error) {
	if d := c.Limits.checkF(n); d != nil {
		return false, d
	}
	return c.cur.fInitialized(n), nil
}

func (c *Ctx) writeFR(n int) error {
	if d := c.Limits.checkF(n); d != nil {
		return d
	}
	c.cur.setFInitialized(n)
	return nil
}

// operandType resolves any operand to its abstract type: a register
// operand reads through the appropriate register file (a Y-register
// holding a catchtag/trytag may not be read here — only the disposal
// opcodes see tags, via readYRaw), and a constant operand synthesises
// the matching concrete type.
func (c *Ctx) operandType(op asm.Operand) (Type, error) {
	switch op.Kind {
	case asm.KindX:
		return c.readX(op.Reg)
	case asm.KindY:
		return c.readY(op.Reg)
	case asm.KindAtom:
		if op.Atom == "true" || op.Atom == "false" {
			return Bool(), nil
		}
		return AtomValue(op.Atom), nil
	case asm.KindInteger:
		return IntValue(op.Int), nil
	case asm.KindFloat:
		return FloatValue(op.Float), nil
	case asm.KindLiteral:
		if tl, ok := op.Lit.(asm.TupleLit); ok {
			return TupleExact(tl.Arity), nil
		}
		return LiteralValue(op.Lit), nil
	case asm.KindNil:
		return NilTerm(), nil
	default:
		return Type{}, failf(ErrBadSource, "operand %s cannot be used as a value source", op)
	}
}

// regKeyOf returns the alias-table key for a register operand, and
// false for anything else (constants are never aliased).
func regKeyOf(op asm.Operand) (int64, bool) {
	switch op.Kind {
	case asm.KindX:
		return regKey(false, op.Reg), true
	case asm.KindY:
		return regKey(true, op.Reg), true
	default:
		return 0, false
	}
}

// requireTerm rejects the pseudo-values that may never flow into an
// ordinary term position: an unfinished tuple build, a binary match
// context, and the exception return marker.
func requireTerm(t Type) error {
	switch t.Kind {
	case KTupleInProgress:
		return fail(ErrTupleInProgress, "unfinished tuple used as a value")
	case KMatchContext:
		return fail(ErrMatchContext, "match context used as an ordinary value")
	case KException:
		return fail(ErrUnsafeInstruction, "exception marker used as a value")
	}
	return nil
}

// operandTerm is operandType plus the term-position restriction.
func (c *Ctx) operandTerm(op asm.Operand) (Type, error) {
	t, err := c.operandType(op)
	if err != nil {
		return t, err
	}
	return t, requireTerm(t)
}

// dispatchOne classifies insn into a tier (checking host extensions
// first, then the active registry) and invokes its transfer function.
// Tuple builds are atomic: once put_tuple opens a fill, only put itself
// may run until the fill completes — any other instruction, including
// falling out of the function via return or a tail call, is rejected
// under the same tag a stray put outside a fill uses, since both
// describe the same broken build/fill pairing.
func dispatchOne(c *Ctx, insn asm.Instruction) error {
	if c.cur.puts.active && insn.Op != "put" {
		return fail(ErrNotBuildingATuple, "instruction "+insn.Op+" interrupts an in-progress put_tuple fill")
	}

	// The setelement window closes as soon as anything other than a
	// set_tuple_element executes.
	if c.cur.setelem && insn.Op != "set_tuple_element" {
		c.cur.setelem = false
	}

	if fn, ok := c.Extensions[insn.Op]; ok {
		return fn(c, insn)
	}

	op, ok := c.Registry.Lookup(insn.Op)
	if !ok {
		return fail(ErrUnknownInstruction, insn.Op)
	}

	if op.Tier != asm.Tier3FloatGuard && !floatBlockSafe(insn) {
		if err := c.requireFlsSettled(); err != nil {
			return err
		}
	}

	switch op.Tier {
	case asm.Tier1AlwaysLegal:
		return dispatchTier1(c, insn)
	case asm.Tier2CatchBranch:
		return dispatchTier2(c, insn)
	case asm.Tier3FloatGuard:
		return dispatchTier3(c, insn)
	case asm.Tier4General:
		return dispatchTier4(c, insn)
	default:
		return fail(ErrUnknownInstruction, insn.Op)
	}
}

// floatBlockSafe reports whether insn may run while a float error is
// pending (fls still "cleared"): moves into an F-register and the
// bif-encoded float arithmetic forms, both of which belong to the float
// block and enforce their own fls preconditions.
func floatBlockSafe(insn asm.Instruction) bool {
	switch insn.Op {
	case "fmove":
		return insn.Arg(1).Kind == asm.KindFR
	case "bif":
		return isFloatBifName(insn.Arg(1).Atom)
	}
	return false
}

// verifyFunctionBody runs the single-pass instruction dispatcher over a
// function's body (everything after its header) starting from
// the seeded initial state, implementing the label-join behaviour and
// dead-code neutrality: when the
// current state is dead at a {label, L}, the outcome is simply whatever
// was previously recorded at L (a join against "no state" degenerates
// to taking the other side).
func verifyFunctionBody(c *Ctx, body []asm.Instruction, bodyOffset int) error {
	for i, insn := range body {
		c.offset = bodyOffset + i
		c.insn = insn

		if insn.IsLine() {
			continue
		}

		if insn.IsLabel() {
			label := insn.LabelValue()
			if c.cur == nil {
				if s, ok := c.bt.get(label); ok {
					c.cur = s.clone()
				}
				continue
			}
			joined, _ := c.bt.joinAt(label, c.cur)
			c.cur = joined.clone()
			continue
		}

		if c.cur == nil {
			// Dead code: a non-label instruction reached with no
			// current state can never execute, so it is skipped.
			continue
		}

		if err := dispatchOne(c, insn); err != nil {
			return decorateOffset(err, c)
		}
	}
	return nil
}

// decorateOffset attaches the current instruction/offset/mfa to a raw
// diagnostic returned by a transfer function, so handlers never have to
// repeat that boilerplate themselves: errors are caught at the
// per-instruction boundary, where they are decorated.
func decorateOffset(err error, c *Ctx) error {
	d, ok := err.(*Diagnostic)
	if !ok {
		return err
	}
	if d.Instruction.Op == "" {
		d.Instruction = c.insn
	}
	d.Offset = c.offset
	d.MFA = c.MFA
	return d
}
