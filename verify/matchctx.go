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
	"sync/atomic"

	"github.com/basalt-labs/bcverify/asm"
)

// contextCounter mints globally unique match-context ids. A monotonic
// counter suffices: identity must stay stable across
// state cloning and equal only when two contexts are truly the same
// binary-matching cursor.
var contextCounter uint64

func nextContextID() uint64 {
	return atomic.AddUint64(&contextCounter, 1)
}

// newMatchContext allocates a fresh match context with the given number
// of save slots and no slots yet valid.
func newMatchContext(slots int) *MatchContext {
	return &MatchContext{ID: nextContextID(), Slots: slots}
}

// save sets bit `slot` in the context's valid mask, or reports
// ErrIllegalSave if slot is out of range.
func (m *MatchContext) save(slot int) error {
	if slot < 0 || slot >= m.Slots {
		return &Diagnostic{Reason: ErrIllegalSave}
	}
	m.ValidBits |= 1 << uint(slot)
	return nil
}

// restore reports ErrIllegalRestore if the given slot was never saved.
func (m *MatchContext) restore(slot int) error {
	if slot < 0 || slot >= m.Slots || m.ValidBits&(1<<uint(slot)) == 0 {
		return &Diagnostic{Reason: ErrIllegalRestore}
	}
	return nil
}

// matchContextPrescan is the cross-function index the pre-scan builds:
// entry label -> the bs_start_match2 instruction that begins that
// function (found directly or via the tolerated legacy detour),
// consulted during tail-call verification.
type matchContextPrescan map[int]asm.Instruction

// countXRegsHoldingContext counts how many X-registers currently hold a
// match_context type, used by the tail-call discipline check.
func countXRegsHoldingContext(x *regset) (count int, slot int) {
	slot = -1
	for _, e := range x.iterate() {
		if e.Type.Kind == KMatchContext {
			count++
			slot = e.Index
		}
	}
	return count, slot
}

func anyYRegHoldsContext(y *regset) bool {
	for _, e := range y.iterate() {
		if e.Type.Kind == KMatchContext {
			return true
		}
	}
	return false
}

// checkTailCallMatchContext enforces the tail-call context discipline:
// at a tail call, at most one
// X-register may hold a match context, and that context must not also
// be reachable from a Y-register (the runtime cannot correctly consume
// more than one, or a context aliased onto the stack). When exactly one
// qualifies, the callee — known only for local tail calls — must be
// indexed by the pre-scan as beginning with bs_start_match2; external
// callees and computed targets can never be proven, so a context
// crossing one of those is always rejected.
func (c *Ctx) checkTailCallMatchContext(target asm.Operand, external bool) error {
	count, slot := countXRegsHoldingContext(c.cur.x)
	if count == 0 {
		return nil
	}
	if count > 1 {
		return fail(ErrMultipleMatchContexts, "more than one X-register holds a match context at a tail call")
	}
	if anyYRegHoldsContext(c.cur.y) {
		return fail(ErrMultipleMatchContexts, "match context also reachable from a y-register at a tail call")
	}
	if external || target.Kind != asm.KindLabel {
		return fail(ErrNoBSStartMatch2, "tail call target is not provably a local bs_start_match2 entry")
	}
	start, ok := c.Prescan[target.Label]
	if !ok {
		return failf(ErrNoBSStartMatch2, "tail call to f(%d) does not begin with bs_start_match2", target.Label)
	}
	if src := start.Arg(1); src.Kind != asm.KindX || src.Reg != slot {
		return failf(ErrUnsuitableBSStartMatch2, "callee at f(%d) starts matching from %s, but the context is in x(%d)", target.Label, src, slot)
	}
	return nil
}
