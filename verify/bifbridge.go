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

import "github.com/basalt-labs/bcverify/verify/bif"

// bifResult translates a bif.ReturnKind into this package's Type
// lattice. known is false for any BIF not in the static table (unknown
// NIFs included), in which case callers fall back to Term().
func bifResult(name string, arity int) (t Type, raises bool, known bool) {
	k, ok := bif.Lookup(name, arity)
	if !ok {
		return Term(), false, false
	}
	if k.Raises() {
		return Type{}, true, true
	}
	switch k {
	case bif.KindBool:
		return Bool(), false, true
	case bif.KindInteger:
		return AnyInteger(), false, true
	case bif.KindFloat:
		return AnyFloat(), false, true
	case bif.KindNumber:
		return Number(), false, true
	case bif.KindAtom:
		return AnyAtom(), false, true
	case bif.KindTuple:
		return TupleAtLeast(0), false, true
	case bif.KindList:
		return Term(), false, true
	case bif.KindBinary:
		return Binary(), false, true
	case bif.KindMap:
		return MapType(), false, true
	default:
		return Term(), false, true
	}
}
