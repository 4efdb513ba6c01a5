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

// header is the result of splitting a function's raw instruction list
// into its leading label run(s), func_info marker and body.
type header struct {
	ls1  []int // labels before func_info: "fun-info branch" entries
	ls2  []int // labels between func_info and the first real instruction
	body []asm.Instruction
	// bodyOffset is the index into fn.Code where body[0] lives, used so
	// diagnostics report offsets into the original instruction stream.
	bodyOffset int
}

// splitHeader splits off a leading run of labels Ls1,
// expect exactly one func_info Mod Name Arity instruction, split off
// another leading run of labels Ls2, and require the declared entry
// label to appear in Ls2.
func splitHeader(mod *asm.Module, fn *asm.Function) (*header, *Diagnostic) {
	code := fn.Code
	i := 0

	var ls1 []int
	for i < len(code) && code[i].IsLabel() {
		ls1 = append(ls1, code[i].LabelValue())
		i++
	}

	if i >= len(code) || code[i].Op != "func_info" {
		return nil, &Diagnostic{Reason: ErrNoEntryLabel, Detail: "missing func_info header"}
	}
	finfo := code[i]
	if len(finfo.Args) != 3 {
		return nil, &Diagnostic{Reason: ErrIllegalInstruction, Detail: "malformed func_info", Instruction: finfo, Offset: i}
	}
	i++

	var ls2 []int
	for i < len(code) && code[i].IsLabel() {
		ls2 = append(ls2, code[i].LabelValue())
		i++
	}

	found := false
	for _, l := range ls2 {
		if l == fn.Entry {
			found = true
			break
		}
	}
	if !found {
		return nil, &Diagnostic{Reason: ErrNoEntryLabel, Detail: fmt.Sprintf("entry label %d not in header label run", fn.Entry)}
	}

	return &header{ls1: ls1, ls2: ls2, body: code[i:], bodyOffset: i}, nil
}

// allLabels returns every label introduced anywhere in fn's code
// (including the header runs), used to populate the "defined labels"
// set the undefined-label check consults.
func allLabels(fn *asm.Function) map[int]bool {
	defined := map[int]bool{}
	for _, insn := range fn.Code {
		if insn.IsLabel() {
			defined[insn.LabelValue()] = true
		}
	}
	return defined
}

// checkFunInfoBranches closes out header validation: every label in Ls1
// is a valid entry for a "fun-info branch". After the function body is
// fully verified, each such label's merged state (if any branch ever
// targeted it — most never do) must still have numy = none and
// X(0..Arity-1) readable, guarding against a corrupted frame reaching
// the generic entry stub.
func checkFunInfoBranches(bt *branchTable, ls1 []int, arity int) *Diagnostic {
	for _, label := range ls1 {
		s, ok := bt.get(label)
		if !ok {
			continue
		}
		if s.numy != numYNone {
			return &Diagnostic{Reason: ErrStackFrame, Detail: fmt.Sprintf("fun-info branch %d has a live stack frame", label)}
		}
		if idx, ok := s.xAllDefinedBelow(arity); !ok {
			return &Diagnostic{Reason: ErrUninitializedReg, Detail: fmt.Sprintf("fun-info branch %d: x(%d) not readable", label, idx)}
		}
	}
	return nil
}
