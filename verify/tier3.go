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

// dispatchTier3 enforces the floating-point error-state automaton:
// fclearerror requires "undefined" or "checked" and transitions to
// "cleared"; fadd/fsub/fmul/fdiv/fnegate require "cleared" and stay
// "cleared" (an error may be pending); fcheckerror requires "cleared"
// and transitions to "checked".
func dispatchTier3(c *Ctx, insn asm.Instruction) error {
	switch insn.Op {
	case "fclearerror":
		return c.fpClearError()

	case "fcheckerror":
		return c.fpCheckError()

	case "fadd", "fsub", "fmul", "fdiv":
		if err := c.fpRequireCleared(); err != nil {
			return err
		}
		src1, src2, dst := insn.Arg(1), insn.Arg(2), insn.Arg(3)
		if err := requireFR(c, src1); err != nil {
			return err
		}
		if err := requireFR(c, src2); err != nil {
			return err
		}
		return requireFRDst(c, dst)

	case "fnegate":
		if err := c.fpRequireCleared(); err != nil {
			return err
		}
		src, dst := insn.Arg(1), insn.Arg(2)
		if err := requireFR(c, src); err != nil {
			return err
		}
		return requireFRDst(c, dst)

	default:
		return fail(ErrUnknownInstruction, insn.Op)
	}
}

func requireFR(c *Ctx, op asm.Operand) error {
	if op.Kind != asm.KindFR {
		return failf(ErrBadSource, "expected fr operand, got %s", op)
	}
	ok, err := c.readFR(op.Reg)
	if err != nil {
		return err
	}
	if !ok {
		return failf(ErrUninitializedFR, "fr(%d)", op.Reg)
	}
	return nil
}

func requireFRDst(c *Ctx, op asm.Operand) error {
	if op.Kind != asm.KindFR {
		return failf(ErrInvalidStore, "expected fr destination, got %s", op)
	}
	return c.writeFR(op.Reg)
}
