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

// buildMatchContextIndex runs the pre-scan once across the whole
// module before any per-function verification begins (it is finalised
// first and thereafter immutable), producing a read-only
// table of entry labels that are proven to start with a bs_start_match2
// (directly, or via the tolerated legacy detour — see
// tolerateLegacyContextPattern below).
func buildMatchContextIndex(mod *asm.Module) matchContextPrescan {
	idx := matchContextPrescan{}
	for _, fn := range mod.Functions {
		if insn, ok := scanEntryForMatchStart(fn); ok {
			idx[fn.Entry] = insn
		}
	}
	return idx
}

func labelIndex(code []asm.Instruction, label int) (int, bool) {
	for i, insn := range code {
		if insn.IsLabel() && insn.LabelValue() == label {
			return i, true
		}
	}
	return 0, false
}

// scanEntryForMatchStart walks forward from fn's entry label, ignoring
// {label, entry} and line noise.
func scanEntryForMatchStart(fn *asm.Function) (asm.Instruction, bool) {
	start, ok := labelIndex(fn.Code, fn.Entry)
	if !ok {
		return asm.Instruction{}, false
	}
	i := start + 1

	// Bound retries to the function's length: the tolerated pattern can
	// only legitimately redirect forward a finite number of times.
	for attempt := 0; attempt <= len(fn.Code); attempt++ {
		i = skipNoise(fn.Code, i)
		if i >= len(fn.Code) {
			return asm.Instruction{}, false
		}

		insn := fn.Code[i]
		if insn.Op == "bs_start_match2" {
			return insn, true
		}

		next, ok := tolerateLegacyContextPattern(fn.Code, i)
		if !ok {
			return asm.Instruction{}, false
		}
		i = next
	}
	return asm.Instruction{}, false
}

func skipNoise(code []asm.Instruction, i int) int {
	for i < len(code) && (code[i].IsLabel() || code[i].IsLine()) {
		i++
	}
	return i
}

// tolerateLegacyContextPattern recognises the one historical code
// generator artefact the source accepts: `{test _, fail, …}` followed
// immediately by `{bs_context_to_binary, _}`, after which scanning
// continues at the `fail` label. This is a narrow, specific tolerance —
// this function recognises exactly this shape and nothing looser.
// TODO: drop this once no supported code generator emits the pattern.
func tolerateLegacyContextPattern(code []asm.Instruction, i int) (next int, ok bool) {
	if i >= len(code) || code[i].Op != "test" {
		return 0, false
	}
	testInsn := code[i]
	failArg := testInsn.Arg(1)
	if failArg.Kind != asm.KindLabel {
		return 0, false
	}

	j := skipNoise(code, i+1)
	if j >= len(code) || code[j].Op != "bs_context_to_binary" {
		return 0, false
	}

	target, ok := labelIndex(code, failArg.Label)
	if !ok {
		return 0, false
	}
	return target + 1, true
}
