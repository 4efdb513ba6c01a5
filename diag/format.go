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

// Package diag turns a *verify.Diagnostic into a three-line,
// human-facing explanation, kept separate from
// verify so embedders that only want the typed error value (for their
// own tooling) never pay for the prose path.
package diag

import (
	"fmt"
	"strings"

	"github.com/basalt-labs/bcverify/verify"
)

// prose gives each taxonomy reason a one-sentence, human explanation of
// what went wrong, for the first of the three lines.
var prose = map[verify.Reason]string{
	verify.ErrUninitializedReg:                 "a register was read before it held a value",
	verify.ErrBadSource:                        "an operand could not be read as a value source",
	verify.ErrBadType:                          "a value's type does not support this operation",
	verify.ErrInvalidStore:                     "a value cannot be stored to this destination",
	verify.ErrCatchTag:                         "a catch tag was read as an ordinary value",
	verify.ErrTryTag:                           "a try tag was read as an ordinary value",
	verify.ErrTupleInProgress:                  "an unfinished tuple was used as a value",
	verify.ErrMatchContext:                     "a binary-matching context was used incorrectly",
	verify.ErrNoBSMContext:                     "this operand does not hold a match context",
	verify.ErrIllegalSave:                      "saved an out-of-range match-context slot",
	verify.ErrIllegalRestore:                   "restored a match-context slot that was never saved",
	verify.ErrNoBSStartMatch2:                  "a function entry point expected to begin binary matching, but doesn't",
	verify.ErrUnsuitableBSStartMatch2:          "the match-start instruction at this entry is not in a suitable position",
	verify.ErrMultipleMatchContexts:            "more than one binary-matching context was live at once",
	verify.ErrExistingStackFrame:               "a stack frame was allocated while one was already live",
	verify.ErrAllocated:                        "a tail call's deallocation count does not match the stack frame",
	verify.ErrStackFrame:                       "the stack frame is missing, has the wrong size, or is still allocated at return",
	verify.ErrTrim:                             "a trim asked for more slots than the stack frame has",
	verify.ErrHeapOverflow:                     "more heap was consumed than was reserved",
	verify.ErrBadFloatingPointState:            "a floating-point operation ran in the wrong error-check state",
	verify.ErrUnsafeInstruction:                "this instruction is not safe to execute here",
	verify.ErrIllegalContextForSetTupleElement: "set_tuple_element was used other than directly after a setelement/3 call",
	verify.ErrUnknownCatchTryState:             "the catch/try nesting state is unknown at this point",
	verify.ErrAmbiguousCatchTryState:           "two control-flow paths disagree about the catch/try nesting",
	verify.ErrUnknownSizeOfStackframe:          "two control-flow paths disagree about the stack-frame size",
	verify.ErrUnfinishedCatchTry:               "a catch or try was never closed before the function returned",
	verify.ErrBadTryCatchNesting:               "try/catch tags are not at strictly increasing stack slots",
	verify.ErrBadNumberOfLiveRegs:              "the declared live-register count is not a literal or is out of range",
	verify.ErrNotLive:                          "a register inside the live set was undefined, or one outside it was used",
	verify.ErrNoEntryLabel:                     "the function's entry label was not found in its header",
	verify.ErrIllegalInstruction:               "this instruction is not legal at this point",
	verify.ErrUnknownInstruction:               "this opcode is not recognized",
	verify.ErrNotBuildingATuple:                "a tuple-fill instruction appeared with no tuple build in progress",
	verify.ErrBadSelectList:                    "a selection list is malformed",
	verify.ErrBadTupleArityList:                "a tuple-arity selection list is malformed",
	verify.ErrKeysNotUnique:                    "a key list contains a duplicate",
	verify.ErrEmptyFieldList:                   "a field list must not be empty",
	verify.ErrFragileMessageReference:          "a freshly received value was stored before it was confirmed safe",
	verify.ErrLimit:                            "an implementation limit was exceeded",
}

// Format renders d as a three-line explanation plus the
// offending instruction, with the two named special cases: `limit`
// hints at refactoring, and `undef_labels` reads as a compiler-bug
// report (it indicates the code generator emitted a branch to a label
// that was never defined, not a user-level mistake).
func Format(d *verify.Diagnostic) string {
	if len(d.UndefLabels) > 0 {
		return formatUndefLabels(d)
	}
	if d.LimitInfo != nil {
		return formatLimit(d)
	}
	return formatReason(d)
}

func formatReason(d *verify.Diagnostic) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s failed verification: %s.\n", d.MFA, prose[d.Reason])
	fmt.Fprintf(&b, "Reason: %s", d.Reason)
	if d.Detail != "" {
		fmt.Fprintf(&b, " (%s)", d.Detail)
	}
	b.WriteByte('\n')
	fmt.Fprintf(&b, "At offset %d: %s", d.Offset, d.Instruction)
	return b.String()
}

func formatLimit(d *verify.Diagnostic) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s exceeds an implementation limit: %s %d is not below %d.\n",
		d.MFA, d.LimitInfo.Resource, d.LimitInfo.Value, d.LimitInfo.Bound)
	b.WriteString("This usually means the function is too large or recurses too deeply for this target; consider splitting it.\n")
	fmt.Fprintf(&b, "At offset %d: %s", d.Offset, d.Instruction)
	return b.String()
}

func formatUndefLabels(d *verify.Diagnostic) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s references label(s) %v that are never defined.\n", d.MFA, d.UndefLabels)
	b.WriteString("This is a compiler bug, not a user-level error: the code generator emitted a branch to a\n")
	b.WriteString("label it never produced.")
	return b.String()
}
