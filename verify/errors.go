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

// Reason is the error-kind taxonomy errors are thrown as: every
// value in this list must be producible by some transfer function.
type Reason int32

const (
	ErrUninitializedReg Reason = iota + 1
	ErrBadSource
	ErrBadType
	ErrInvalidStore
	ErrCatchTag
	ErrTryTag
	ErrTupleInProgress
	ErrMatchContext
	ErrNoBSMContext
	ErrIllegalSave
	ErrIllegalRestore
	ErrNoBSStartMatch2
	ErrUnsuitableBSStartMatch2
	ErrMultipleMatchContexts
	ErrExistingStackFrame
	ErrAllocated
	ErrStackFrame
	ErrTrim
	ErrHeapOverflow
	ErrUninitializedFR
	ErrBadFloatingPointState
	ErrUnsafeInstruction
	ErrIllegalContextForSetTupleElement
	ErrUnknownCatchTryState
	ErrAmbiguousCatchTryState
	ErrUnknownSizeOfStackframe
	ErrUnfinishedCatchTry
	ErrBadTryCatchNesting
	ErrBadNumberOfLiveRegs
	ErrNotLive
	ErrNoEntryLabel
	ErrIllegalInstruction
	ErrUnknownInstruction
	ErrNotBuildingATuple
	ErrBadSelectList
	ErrBadTupleArityList
	ErrKeysNotUnique
	ErrEmptyFieldList
	ErrFragileMessageReference
	ErrLimit
)

// taxonomy is the stable machine name for each Reason.
var taxonomy = map[Reason]string{
	ErrUninitializedReg:                 "uninitialized_reg",
	ErrBadSource:                        "bad_source",
	ErrBadType:                          "bad_type",
	ErrInvalidStore:                     "invalid_store",
	ErrCatchTag:                         "catchtag",
	ErrTryTag:                           "trytag",
	ErrTupleInProgress:                  "tuple_in_progress",
	ErrMatchContext:                     "match_context",
	ErrNoBSMContext:                     "no_bsm_context",
	ErrIllegalSave:                      "illegal_save",
	ErrIllegalRestore:                   "illegal_restore",
	ErrNoBSStartMatch2:                  "no_bs_start_match2",
	ErrUnsuitableBSStartMatch2:          "unsuitable_bs_start_match2",
	ErrMultipleMatchContexts:            "multiple_match_contexts",
	ErrExistingStackFrame:               "existing_stack_frame",
	ErrAllocated:                        "allocated",
	ErrStackFrame:                       "stack_frame",
	ErrTrim:                             "trim",
	ErrHeapOverflow:                     "heap_overflow",
	ErrUninitializedFR:                  "uninitialized_reg",
	ErrBadFloatingPointState:            "bad_floating_point_state",
	ErrUnsafeInstruction:                "unsafe_instruction",
	ErrIllegalContextForSetTupleElement: "illegal_context_for_set_tuple_element",
	ErrUnknownCatchTryState:             "unknown_catch_try_state",
	ErrAmbiguousCatchTryState:           "ambiguous_catch_try_state",
	ErrUnknownSizeOfStackframe:          "unknown_size_of_stackframe",
	ErrUnfinishedCatchTry:               "unfinished_catch_try",
	ErrBadTryCatchNesting:               "bad_try_catch_nesting",
	ErrBadNumberOfLiveRegs:              "bad_number_of_live_regs",
	ErrNotLive:                          "not_live",
	ErrNoEntryLabel:                     "no_entry_label",
	ErrIllegalInstruction:               "illegal_instruction",
	ErrUnknownInstruction:               "unknown_instruction",
	ErrNotBuildingATuple:                "not_building_a_tuple",
	ErrBadSelectList:                    "bad_select_list",
	ErrBadTupleArityList:                "bad_tuple_arity_list",
	ErrKeysNotUnique:                    "keys_not_unique",
	ErrEmptyFieldList:                   "empty_field_list",
	ErrFragileMessageReference:          "fragile_message_reference",
	ErrLimit:                            "limit",
}

// String returns the taxonomy name, the stable machine-readable form.
func (r Reason) String() string {
	if s, ok := taxonomy[r]; ok {
		return s
	}
	return "unknown_error"
}

// Limit names the resource an implementation-limit diagnostic overran.
type Limit struct {
	Resource string // "x-register", "y-register", "f-register"
	Value    int
	Bound    int
}

// Diagnostic is the structured error the external interface describes
// : either a (mfa, (instruction, offset, limit)) implementation
// limit, a (mfa, (instruction, offset, reason)) taxonomy error, or a
// (mfa, (undef_labels, [label])) undefined-label report.
type Diagnostic struct {
	MFA         asm.MFA
	Instruction asm.Instruction
	Offset      int
	Reason      Reason
	Detail      string
	LimitInfo   *Limit
	UndefLabels []int
}

func (d *Diagnostic) Error() string {
	if len(d.UndefLabels) > 0 {
		return fmt.Sprintf("%s: undefined labels %v", d.MFA, d.UndefLabels)
	}
	if d.LimitInfo != nil {
		return fmt.Sprintf("%s: offset %d: %s %d exceeds limit %d (%s)",
			d.MFA, d.Offset, d.LimitInfo.Resource, d.LimitInfo.Value, d.LimitInfo.Bound, d.Instruction)
	}
	if d.Detail != "" {
		return fmt.Sprintf("%s: offset %d: %s: %s (%s)", d.MFA, d.Offset, d.Reason, d.Detail, d.Instruction)
	}
	return fmt.Sprintf("%s: offset %d: %s (%s)", d.MFA, d.Offset, d.Reason, d.Instruction)
}

// limitDiagnostic constructs an implementation-limit diagnostic.
func limitDiagnostic(resource string, value, bound int) *Diagnostic {
	return &Diagnostic{Reason: ErrLimit, LimitInfo: &Limit{Resource: resource, Value: value, Bound: bound}}
}

// undefLabelsDiagnostic constructs the undefined-labels diagnostic.
func undefLabelsDiagnostic(labels []int) *Diagnostic {
	return &Diagnostic{UndefLabels: labels}
}
