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

// joinStates computes the join of two per-branch states. numy, the X/Y
// maps, the ct stack, heap words, aliases and register types follow the
// lattice rules; the remaining fields (F-register bitset, the
// float-error automaton, setelem, and an in-progress put_tuple fill)
// follow the same become-stricter-on-disagreement pattern numy and ct
// already use:
//
//   - f: bitwise AND — a register counts as initialised post-join only
//     if it was initialised on both incoming paths (conservative, same
//     shape as the heap-words "min" rule).
//   - fls: kept if both sides agree; otherwise the state becomes
//     "undecided", which (like ctUndecided) makes every fls-sensitive
//     opcode illegal on that path, fclearerror included.
//   - setelem: AND — true only if true on both sides, so a disagreement
//     conservatively forbids set_tuple_element rather than risk
//     allowing it when only one predecessor actually ran a setelement
//     call.
//   - puts_left: kept if both sides are identical (both "none", or both
//     mid-fill at the same destination with the same remaining count
//     and tuple type); otherwise reset to "none", so a subsequent `put`
//     is rejected as not building a tuple rather than silently
//     continuing an inconsistent fill.
func joinStates(a, b *State) *State {
	out := &State{
		x: joinRegsets(a.x, b.x),
		y: joinRegsets(a.y, b.y),
	}

	if a.numy == b.numy {
		out.numy = a.numy
	} else {
		out.numy = numYUndecided
	}

	out.f = a.f.and(b.f)

	if a.h < b.h {
		out.h = a.h
	} else {
		out.h = b.h
	}
	if a.hf < b.hf {
		out.hf = a.hf
	} else {
		out.hf = b.hf
	}

	if !a.ctUndecided && !b.ctUndecided && len(a.ct) == len(b.ct) {
		out.ct = make([]labelSet, len(a.ct))
		out.ctY = make([]int, len(a.ct))
		for i := range a.ct {
			out.ct[i] = a.ct[i].union(b.ct[i])
			if a.ctY[i] == b.ctY[i] {
				out.ctY[i] = a.ctY[i]
			} else {
				out.ctY[i] = -1
			}
		}
	} else {
		out.ctUndecided = true
	}

	if a.fls == b.fls {
		out.fls = a.fls
	} else {
		out.flsUndecided = true
	}

	out.setelem = a.setelem && b.setelem

	if a.puts.active == b.puts.active &&
		(!a.puts.active || (a.puts.dst == b.puts.dst && a.puts.remaining == b.puts.remaining &&
			typesEqual(a.puts.tupleType, b.puts.tupleType))) {
		out.puts = a.puts
	} else {
		out.puts = putsLeft{}
	}

	out.aliases = joinAliasTables(a.aliases, b.aliases)
	// Defining-instruction refinement is explicitly local to a branch
	//; it does not survive a join.
	out.defs = newDefTable()

	return out
}

// stateEqual reports whether two states are indistinguishable: joinAt
// uses it to keep a label's recorded state, and report it unchanged,
// when a join adds nothing new.
func stateEqual(a, b *State) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.numy != b.numy || a.f != b.f || a.h != b.h || a.hf != b.hf ||
		a.fls != b.fls || a.flsUndecided != b.flsUndecided ||
		a.ctUndecided != b.ctUndecided || a.setelem != b.setelem {
		return false
	}
	if len(a.ct) != len(b.ct) {
		return false
	}
	for i := range a.ct {
		if !a.ct[i].equal(b.ct[i]) || a.ctY[i] != b.ctY[i] {
			return false
		}
	}
	if a.puts.active != b.puts.active {
		return false
	}
	if a.puts.active && (a.puts.dst != b.puts.dst || a.puts.remaining != b.puts.remaining) {
		return false
	}
	return equalRegsets(a.x, b.x) && equalRegsets(a.y, b.y)
}

// branchTable is the verifier's branched-state table: a
// map from label to the state observed at its first predecessor,
// updated by subsequent joins. A plain Go map suffices: every read is
// by explicit key, so iteration order never matters.
type branchTable struct {
	states map[int]*State
}

func newBranchTable() *branchTable {
	return &branchTable{states: map[int]*State{}}
}

// joinAt merges incoming into whatever is recorded for label (or simply
// records it, if this is the label's first predecessor) and reports
// whether the recorded state actually changed. The dispatcher makes a
// single forward pass and does not use the changed result.
func (bt *branchTable) joinAt(label int, incoming *State) (joined *State, changed bool) {
	prev, ok := bt.states[label]
	if !ok {
		cp := incoming.clone()
		bt.states[label] = cp
		return cp, true
	}
	next := joinStates(prev, incoming)
	if stateEqual(prev, next) {
		return prev, false
	}
	bt.states[label] = next
	return next, true
}

func (bt *branchTable) get(label int) (*State, bool) {
	s, ok := bt.states[label]
	return s, ok
}
