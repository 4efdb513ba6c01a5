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

// requireFrame rejects an opcode (trim, deallocate, a call that needs a
// known frame size) unless the current stack-frame size is both
// allocated and unambiguous.
func (c *Ctx) requireFrame() error {
	switch c.cur.numy {
	case numYNone:
		return fail(ErrStackFrame, "no stack frame allocated")
	case numYUndecided:
		return fail(ErrUnknownSizeOfStackframe, "frame size ambiguous after join")
	default:
		return nil
	}
}

// requireNoFrame rejects allocate/allocate_zero/allocate_heap when a
// frame is already live; frames may not stack.
func (c *Ctx) requireNoFrame() error {
	if c.cur.numy != numYNone {
		return fail(ErrExistingStackFrame, "stack frame already allocated")
	}
	return nil
}

// requireNoFrameAtReturn enforces the frame rule at function exit: at a
// `return`, numy must be "none" — any still-allocated frame (the
// function never deallocated it) makes the return illegal.
func (c *Ctx) requireNoFrameAtReturn() error {
	switch c.cur.numy {
	case numYNone:
		return nil
	case numYUndecided:
		return fail(ErrUnknownSizeOfStackframe, "frame size ambiguous after join")
	default:
		return failf(ErrStackFrame, "stack frame of size %d still allocated at return", int(c.cur.numy))
	}
}

// pruneLive verifies the declared live count is plausible and
// X(0..live-1) are all defined (the values a GC-triggering opcode must
// preserve), then drops every X-register at or above live.
func (c *Ctx) pruneLive(live int) error {
	if live < 0 || live > c.Limits.MaxX {
		return failf(ErrBadNumberOfLiveRegs, "live count %d out of range", live)
	}
	if idx, ok := c.cur.xAllDefinedBelow(live); !ok {
		return failf(ErrNotLive, "x(%d) not defined below declared live count %d", idx, live)
	}
	c.cur.pruneXAbove(live)
	return nil
}

// reserveHeap grows the reserved-heap-words counter (test_heap,
// allocate_heap) by words.
func (c *Ctx) reserveHeap(words int) {
	c.cur.h += words
}

// reserveFloatHeap grows the reserved float-heap counter.
func (c *Ctx) reserveFloatHeap(words int) {
	c.cur.hf += words
}

// consumeHeap accounts for an opcode that allocates a known number of
// heap words out of the current reservation (put_list, put_tuple, each
// put of a fill, put_tuple2), failing if the reservation has been
// exhausted — heap_overflow.
func (c *Ctx) consumeHeap(words int) error {
	if words > c.cur.h {
		return failf(ErrHeapOverflow, "need %d heap words, only %d reserved", words, c.cur.h)
	}
	c.cur.h -= words
	return nil
}

// consumeFloatHeap accounts for boxing a float out of an F-register
// onto the heap, against the float reservation made by test_heap /
// allocate_heap with an allocation list.
func (c *Ctx) consumeFloatHeap(words int) error {
	if words > c.cur.hf {
		return failf(ErrHeapOverflow, "need %d float-heap words, only %d reserved", words, c.cur.hf)
	}
	c.cur.hf -= words
	return nil
}

// killHeapReservation drops any outstanding heap reservation; every
// call and garbage-collection point invalidates it, so builders after
// that point need a fresh test_heap.
func (c *Ctx) killHeapReservation() {
	c.cur.h = 0
	c.cur.hf = 0
}

// fpRequireCleared enforces the floating-point error-state automaton's
// precondition for an arithmetic fop or fcheckerror: the state must be
// squarely "cleared" (an ambiguous join collapses to flsUndecided, which
// is just as illegal as being in any other single state).
func (c *Ctx) fpRequireCleared() error {
	if c.cur.flsUndecided {
		return fail(ErrBadFloatingPointState, "ambiguous floating-point error state after join")
	}
	if c.cur.fls != fpCleared {
		return failf(ErrBadFloatingPointState, "expected cleared, got %v", c.cur.fls)
	}
	return nil
}

// requireFlsSettled enforces the float guard's closing rule: every
// opcode outside the float block requires fls to be "undefined" or
// "checked". An instruction running while an error may still be pending
// is unsafe (the emulator would deliver the error at an arbitrary later
// point), and an ambiguous state from a join is just as illegal.
func (c *Ctx) requireFlsSettled() error {
	if c.cur.flsUndecided {
		return fail(ErrBadFloatingPointState, "ambiguous floating-point error state after join")
	}
	if c.cur.fls == fpCleared {
		return fail(ErrUnsafeInstruction, "a pending float error must be checked before this instruction")
	}
	return nil
}

// popTagAt disposes the innermost catch/try entry, verifying the tag
// being disposed really is the innermost one: its Y-slot and failure
// labels must match the top of ct exactly.
func (c *Ctx) popTagAt(yIndex int, tag Type) error {
	if c.cur.ctUndecided {
		return fail(ErrAmbiguousCatchTryState, "ambiguous catch/try nesting")
	}
	top, ok := c.cur.topCatch()
	if !ok {
		return fail(ErrUnknownCatchTryState, "no enclosing catch/try is open")
	}
	if topY, ok := c.cur.topCatchY(); ok && topY >= 0 && topY != yIndex {
		return failf(ErrUnknownCatchTryState, "y(%d) is not the innermost tag (innermost is y(%d))", yIndex, topY)
	}
	if !top.equal(tag.Labels) {
		return fail(ErrUnknownCatchTryState, "tag does not correspond to the innermost handler")
	}
	c.cur.popCatch()
	return nil
}

// fpClearError enforces fclearerror's precondition — fls must be
// "undefined" or "checked" (a pending, unchecked error from a prior
// fclearerror must be fcheckerror'd first) — and transitions to
// "cleared".
func (c *Ctx) fpClearError() error {
	if c.cur.flsUndecided {
		return fail(ErrBadFloatingPointState, "ambiguous floating-point error state after join")
	}
	if c.cur.fls != fpUndefined && c.cur.fls != fpChecked {
		return failf(ErrBadFloatingPointState, "expected undefined or checked, got %v", c.cur.fls)
	}
	c.cur.fls = fpCleared
	c.cur.flsUndecided = false
	return nil
}

// fpCheckError requires "cleared" and transitions to "checked".
func (c *Ctx) fpCheckError() error {
	if err := c.fpRequireCleared(); err != nil {
		return err
	}
	c.cur.fls = fpChecked
	return nil
}

// requireNoOpenCatch rejects falling off the end of a function (via
// return, or a tail call) while a catch/try tag is still pushed —
// unfinished_catch_try (invariant: every catch/try pushed on a path must
// be popped by a matching catch_end/try_end/try_case before that path's
// control leaves the function).
func (c *Ctx) requireNoOpenCatch() error {
	if c.cur.ctUndecided {
		return fail(ErrAmbiguousCatchTryState, "ambiguous catch/try nesting at function exit")
	}
	if len(c.cur.ct) != 0 {
		return fail(ErrUnfinishedCatchTry, "catch/try tag still open at function exit")
	}
	return nil
}
