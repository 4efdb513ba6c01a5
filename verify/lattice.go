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

// JoinTypes computes the least-upper-bound of two abstract types per the
// state-join rules: fragility is sticky, concrete value
// specialisations collapse to their head on disagreement, integer/float
// widen to number, tuples widen to the narrower at_least bound (the
// open-question "merge_types for tuples" behaviour is intentionally
// preserved verbatim — see DESIGN.md), match contexts merge their valid
// masks and mint a fresh id when the two sides disagree, and anything
// else mismatched falls back to term.
func JoinTypes(a, b Type) Type {
	fragile := a.Fragile || b.Fragile
	out := joinTypesCore(a, b)
	out.Fragile = fragile
	return out
}

func joinTypesCore(a, b Type) Type {
	if a.Kind != b.Kind {
		return joinMismatchedKinds(a, b)
	}

	switch a.Kind {
	case KAtom:
		if a.HasValue && b.HasValue && a.AtomVal == b.AtomVal {
			return a
		}
		return Type{Kind: KAtom}
	case KInteger:
		if a.HasValue && b.HasValue && a.IntVal == b.IntVal {
			return a
		}
		return Type{Kind: KInteger}
	case KFloat:
		if a.HasValue && b.HasValue && a.FloatVal == b.FloatVal {
			return a
		}
		return Type{Kind: KFloat}
	case KLiteral:
		if a.LitVal == b.LitVal {
			return a
		}
		return Type{Kind: KTerm}
	case KTuple:
		n := a.TupleN
		if b.TupleN < n {
			n = b.TupleN
		}
		// Preserved verbatim per the open question: even two equal
		// exact tuples widen to at_least here.
		if a.TupleExact && b.TupleExact && a.TupleN == b.TupleN {
			return TupleAtLeast(n)
		}
		return TupleAtLeast(n)
	case KCatchTag:
		return Type{Kind: KCatchTag, Labels: a.Labels.union(b.Labels)}
	case KTryTag:
		return Type{Kind: KTryTag, Labels: a.Labels.union(b.Labels)}
	case KMatchContext:
		return Type{Kind: KMatchContext, Ctx: joinMatchContexts(a.Ctx, b.Ctx)}
	default:
		// Equal kind, no further parameters to reconcile (term, bool,
		// cons, nil, map, binary, initialized, uninitialized,
		// exception, tuple_in_progress).
		return a
	}
}

// joinMismatchedKinds handles the two named cross-kind rules (integer
// joined with float produces number) and falls back to term otherwise.
func joinMismatchedKinds(a, b Type) Type {
	if isNumericKind(a.Kind) && isNumericKind(b.Kind) {
		return Type{Kind: KNumber}
	}
	return Type{Kind: KTerm}
}

func isNumericKind(k Kind) bool {
	return k == KInteger || k == KFloat || k == KNumber
}

func joinMatchContexts(a, b *MatchContext) *MatchContext {
	if a == nil || b == nil {
		return nil
	}
	if a.equalID(b) {
		slots := a.Slots
		if b.Slots < slots {
			slots = b.Slots
		}
		return &MatchContext{ID: a.ID, Slots: slots, ValidBits: a.ValidBits & b.ValidBits}
	}
	slots := a.Slots
	if b.Slots < slots {
		slots = b.Slots
	}
	return &MatchContext{ID: nextContextID(), Slots: slots, ValidBits: a.ValidBits & b.ValidBits}
}
