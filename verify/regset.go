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

import "golang.org/x/exp/slices"

// regEntry pairs a register index with its type, returned by iterate()
// in ascending index order.
type regEntry struct {
	Index int
	Type  Type
}

// regset is the dense register-map abstraction the design notes call
// for: X- and Y-registers are small dense non-negative integers,
// so a slice indexed by register number with an explicit "absent"
// sentinel (tracked via a parallel presence bitmap, since Type's zero
// value is a legitimate "uninitialized" type and cannot double as
// "absent") outperforms a generic map and keeps clone-on-branch cheap.
type regset struct {
	present []bool
	types   []Type
}

func newRegset() *regset {
	return &regset{}
}

func (r *regset) ensure(n int) {
	if n <= len(r.present) {
		return
	}
	r.present = append(r.present, make([]bool, n-len(r.present))...)
	r.types = append(r.types, make([]Type, n-len(r.types))...)
}

// lookup returns the type at index and whether it is present at all
// (an absent entry means "never defined on this path", distinct from
// KUninitialized which is an explicit Y-register state).
func (r *regset) lookup(index int) (Type, bool) {
	if index < 0 || index >= len(r.present) || !r.present[index] {
		return Type{}, false
	}
	return r.types[index], true
}

// update sets the type at index, growing the backing storage as
// needed.
func (r *regset) update(index int, t Type) {
	r.ensure(index + 1)
	r.present[index] = true
	r.types[index] = t
}

// delete removes the entry at index, if any.
func (r *regset) delete(index int) {
	if index < 0 || index >= len(r.present) {
		return
	}
	r.present[index] = false
	r.types[index] = Type{}
}

// size returns one past the highest index this regset has ever grown
// to accommodate (not the number of present entries).
func (r *regset) size() int {
	return len(r.present)
}

// truncate drops every entry with index >= n, used by Live-register
// pruning at GC points and calls.
func (r *regset) truncate(n int) {
	if n >= len(r.present) {
		return
	}
	r.present = r.present[:n]
	r.types = r.types[:n]
}

// iterate returns every present entry in ascending index order.
func (r *regset) iterate() []regEntry {
	out := make([]regEntry, 0, len(r.present))
	for i, ok := range r.present {
		if ok {
			out = append(out, regEntry{Index: i, Type: r.types[i]})
		}
	}
	return out
}

// clone returns an independent deep copy suitable for the
// clone_on_branch discipline the design notes call for: forking a
// state onto a failure label must not let later mutation of the
// fall-through state retroactively change the branch.
func (r *regset) clone() *regset {
	return &regset{
		present: slices.Clone(r.present),
		types:   slices.Clone(r.types),
	}
}

// joinRegsets implements the X/Y-map join rule: indices present
// on only one side are dropped from the result (X-map intersects on
// keys; Y-map "the larger map shrinks to the smaller"); indices present
// on both sides have their types joined.
func joinRegsets(a, b *regset) *regset {
	out := newRegset()
	n := a.size()
	if b.size() < n {
		n = b.size()
	}
	out.ensure(n)
	for i := 0; i < n; i++ {
		ta, oka := a.lookup(i)
		tb, okb := b.lookup(i)
		if oka && okb {
			out.update(i, JoinTypes(ta, tb))
		}
	}
	return out
}

func equalRegsets(a, b *regset) bool {
	if a.size() != b.size() {
		return false
	}
	for i := 0; i < a.size(); i++ {
		ta, oka := a.lookup(i)
		tb, okb := b.lookup(i)
		if oka != okb {
			return false
		}
		if oka && !typesEqual(ta, tb) {
			return false
		}
	}
	return true
}
