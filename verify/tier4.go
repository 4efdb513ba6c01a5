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
	"strings"

	"github.com/basalt-labs/bcverify/asm"
)

// dispatchTier4 is everything else: calls, BIFs that may prune live
// registers, return, message-queue primitives, binary matching and
// construction, type tests, and map operations.
func dispatchTier4(c *Ctx, insn asm.Instruction) error {
	switch insn.Op {
	case "call":
		return dispatchCall(c, insn, false)
	case "call_ext":
		return dispatchCall(c, insn, true)
	case "call_only", "call_ext_only":
		return dispatchCallTail(c, insn, false)
	case "call_last", "call_ext_last":
		return dispatchCallTail(c, insn, true)
	case "call_fun":
		return dispatchCallFun(c, insn)

	case "tuple_size":
		return dispatchTupleSize(c, insn)
	case "element":
		return dispatchElement(c, insn)
	case "hd":
		return dispatchHdTl(c, insn, Term())
	case "tl":
		return dispatchHdTl(c, insn, Term())
	case "map_get":
		return dispatchMapGet(c, insn)
	case "is_map_key":
		if _, err := c.operandTerm(insn.Arg(1)); err != nil {
			return err
		}
		return dispatchReadThenBranch(c, insn.Arg(0).Label, insn.Arg(2))
	case "gc_bif":
		return dispatchGcBif(c, insn)

	case "return":
		return dispatchReturn(c)

	case "loop_rec":
		return dispatchLoopRec(c, insn)
	case "loop_rec_end":
		c.branchTo(insn.Arg(0).Label, c.cur.clone())
		c.kill()
		return nil
	case "wait":
		c.branchTo(insn.Arg(0).Label, c.cur.clone())
		c.kill()
		return nil
	case "wait_timeout":
		c.branchTo(insn.Arg(0).Label, c.cur.clone())
		return nil
	case "timeout":
		return nil
	case "send":
		if _, err := c.operandTerm(asm.X(0)); err != nil {
			return err
		}
		if _, err := c.operandTerm(asm.X(1)); err != nil {
			return err
		}
		return c.writeX(0, Term())
	case "remove_message":
		c.cur.unfragileAll()
		return nil

	case "set_tuple_element":
		return dispatchSetTupleElement(c, insn)

	case "select_val":
		return dispatchSelectVal(c, insn)
	case "select_tuple_arity":
		return dispatchSelectTupleArity(c, insn)

	case "bs_start_match2":
		return dispatchBsStartMatch2(c, insn)
	case "bs_save2":
		return dispatchBsSave2(c, insn)
	case "bs_restore2":
		return dispatchBsRestore2(c, insn)
	case "bs_match_string", "bs_skip_bits2", "bs_skip_utf8", "bs_skip_utf16", "bs_skip_utf32",
		"bs_test_tail2", "bs_test_unit":
		return dispatchBsSkipTest(c, insn)
	case "bs_get_integer2":
		return dispatchBsGet(c, insn, AnyInteger())
	case "bs_get_binary2":
		return dispatchBsGet(c, insn, Binary())
	case "bs_get_float2":
		return dispatchBsGet(c, insn, AnyFloat())
	case "bs_get_utf8", "bs_get_utf16", "bs_get_utf32":
		return dispatchBsGet(c, insn, AnyInteger())

	case "is_float":
		return dispatchTypeTest(c, insn, KFloat)
	case "is_tuple":
		return dispatchTypeTest(c, insn, KTuple)
	case "is_nonempty_list":
		return dispatchTypeTest(c, insn, KCons)
	case "test_arity":
		return dispatchTestArity(c, insn)
	case "is_tagged_tuple":
		return dispatchIsTaggedTuple(c, insn)
	case "has_map_fields":
		return dispatchHasMapFields(c, insn)
	case "is_map":
		return dispatchTypeTest(c, insn, KMap)
	case "is_eq_exact":
		return dispatchIsEqExact(c, insn)
	case "test":
		return dispatchGenericTest(c, insn)
	case "is_integer":
		return dispatchTypeTest(c, insn, KInteger)
	case "is_atom":
		return dispatchTypeTest(c, insn, KAtom)
	case "is_list":
		return dispatchReadThenBranch(c, insn.Arg(0).Label, insn.Arg(1))
	case "is_number":
		return dispatchTypeTest(c, insn, KNumber)
	case "is_binary":
		return dispatchTypeTest(c, insn, KBinary)

	case "bs_init2", "bs_init_bits":
		return dispatchBsInit(c, insn)
	case "bs_append", "bs_private_append":
		return dispatchBsAppend(c, insn)
	case "bs_put_integer", "bs_put_binary", "bs_put_float",
		"bs_put_utf8", "bs_put_utf16", "bs_put_utf32":
		return dispatchBsPut(c, insn)
	case "bs_add":
		return dispatchBsAdd(c, insn)
	case "bs_utf8_size", "bs_utf16_size":
		src, dst := insn.Arg(0), insn.Arg(1)
		if _, err := c.operandType(src); err != nil {
			return err
		}
		return c.storeTo(dst, AnyInteger())

	case "put_map_assoc":
		return dispatchPutMap(c, insn, false)
	case "put_map_exact":
		return dispatchPutMap(c, insn, true)
	case "get_map_elements":
		return dispatchGetMapElements(c, insn)

	default:
		return fail(ErrUnknownInstruction, insn.Op)
	}
}

// unfragileAll clears the Fragile wrapper from every register — the one
// explicit removal event (remove_message) that commits to keeping the
// value the process just received, making it safe to store anywhere.
func (s *State) unfragileAll() {
	for _, e := range s.x.iterate() {
		s.x.update(e.Index, e.Type.Unfragile())
	}
	for _, e := range s.y.iterate() {
		s.y.update(e.Index, e.Type.Unfragile())
	}
}

// dispatchReadThenBranch validates a source operand is readable and
// then branches to failLabel with an unrefined clone — used by the
// family of tests this package doesn't (yet) sharpen the success type
// for, since the lattice has no dedicated "proper list" kind distinct
// from cons/nil.
func dispatchReadThenBranch(c *Ctx, failLabel int, src asm.Operand) error {
	if _, err := c.operandType(src); err != nil {
		return err
	}
	c.branchTo(failLabel, c.cur.clone())
	return nil
}

func dispatchTypeTest(c *Ctx, insn asm.Instruction, k Kind) error {
	failLabel := insn.Arg(0).Label
	src := insn.Arg(1)
	if _, err := c.operandType(src); err != nil {
		return err
	}
	c.branchTo(failLabel, c.cur.clone())
	c.refineTestKind(src, k)
	return nil
}

func dispatchTestArity(c *Ctx, insn asm.Instruction) error {
	failLabel := insn.Arg(0).Label
	src := insn.Arg(1)
	n, ok := asInt(insn.Arg(2))
	if !ok {
		return fail(ErrBadSource, "test_arity: non-literal arity")
	}
	if _, err := c.operandType(src); err != nil {
		return err
	}
	c.branchTo(failLabel, c.cur.clone())
	c.refineRegister(src, TupleExact(int(n)))
	return nil
}

func dispatchIsTaggedTuple(c *Ctx, insn asm.Instruction) error {
	failLabel := insn.Arg(0).Label
	src := insn.Arg(1)
	n, ok := asInt(insn.Arg(2))
	if !ok {
		return fail(ErrBadSource, "is_tagged_tuple: non-literal arity")
	}
	if _, err := c.operandType(src); err != nil {
		return err
	}
	c.branchTo(failLabel, c.cur.clone())
	c.refineRegister(src, TupleExact(int(n)))
	return nil
}

func dispatchIsEqExact(c *Ctx, insn asm.Instruction) error {
	failLabel := insn.Arg(0).Label
	a, b := insn.Arg(1), insn.Arg(2)
	if _, err := c.operandType(a); err != nil {
		return err
	}
	if _, err := c.operandType(b); err != nil {
		return err
	}
	c.branchTo(failLabel, c.cur.clone())
	c.refineEquality(a, b)
	return nil
}

// dispatchGenericTest recognises the {test, Name, Fail, Args...} wrapper
// form: a sub-test by atom name, dispatched to the matching typed test
// when recognised and otherwise treated as an opaque, unrefining branch
// (still sound, just not sharpened).
func dispatchGenericTest(c *Ctx, insn asm.Instruction) error {
	name := insn.Arg(0)
	failOp := insn.Arg(1)
	if name.Kind != asm.KindAtom || failOp.Kind != asm.KindLabel {
		return fail(ErrBadSource, "malformed test instruction")
	}
	if len(insn.Args) > 2 {
		if _, err := c.operandType(insn.Arg(2)); err != nil {
			return err
		}
	}
	c.branchTo(failOp.Label, c.cur.clone())
	if len(insn.Args) > 2 {
		if k, ok := testKindByName[name.Atom]; ok {
			c.refineTestKind(insn.Arg(2), k)
		}
	}
	return nil
}

var testKindByName = map[string]Kind{
	"is_integer": KInteger, "is_atom": KAtom, "is_float": KFloat,
	"is_number": KNumber, "is_binary": KBinary, "is_tuple": KTuple,
	"is_map": KMap,
}

func dispatchTupleSize(c *Ctx, insn asm.Instruction) error {
	src, dst := insn.Arg(0), insn.Arg(1)
	t, err := c.operandType(src)
	if err != nil {
		return err
	}
	if t.Kind != KTuple {
		return failf(ErrBadType, "tuple_size on %s", t)
	}
	if err := c.storeTo(dst, AnyInteger()); err != nil {
		return err
	}
	c.recordDef(dst, "tuple_size", src)
	return nil
}

func dispatchElement(c *Ctx, insn asm.Instruction) error {
	idx, src, dst := insn.Arg(0), insn.Arg(1), insn.Arg(2)
	if _, err := c.operandType(idx); err != nil {
		return err
	}
	t, err := c.operandType(src)
	if err != nil {
		return err
	}
	if t.Kind != KTuple {
		return failf(ErrBadType, "element on %s", t)
	}
	result := Term()
	if t.Fragile {
		result = result.AsFragile()
	}
	return c.storeTo(dst, result)
}

func dispatchHdTl(c *Ctx, insn asm.Instruction, result Type) error {
	src, dst := insn.Arg(0), insn.Arg(1)
	t, err := c.operandType(src)
	if err != nil {
		return err
	}
	if t.Kind != KCons {
		return failf(ErrBadType, "%s on %s", insn.Op, t)
	}
	if t.Fragile {
		result = result.AsFragile()
	}
	return c.storeTo(dst, result)
}

func dispatchMapGet(c *Ctx, insn asm.Instruction) error {
	key, src, dst := insn.Arg(0), insn.Arg(1), insn.Arg(2)
	if _, err := c.operandType(key); err != nil {
		return err
	}
	t, err := c.operandType(src)
	if err != nil {
		return err
	}
	if t.Kind != KMap {
		return failf(ErrBadType, "map_get on %s", t)
	}
	return c.storeTo(dst, Term())
}

func dispatchReturn(c *Ctx) error {
	if _, err := c.readX(0); err != nil {
		return err
	}
	if err := c.requireNoOpenCatch(); err != nil {
		return err
	}
	if err := c.requireNoFrameAtReturn(); err != nil {
		return err
	}
	c.kill()
	return nil
}

func dispatchLoopRec(c *Ctx, insn asm.Instruction) error {
	failLabel := insn.Arg(0).Label
	dst := insn.Arg(1)
	c.branchTo(failLabel, c.cur.clone())
	return c.storeTo(dst, Term().AsFragile())
}

// dispatchSetTupleElement allows the destructive element store only in
// the window a preceding setelement call opens: the tuple is known to
// be freshly built there, so mutating it in place cannot be observed.
func dispatchSetTupleElement(c *Ctx, insn asm.Instruction) error {
	if !c.cur.setelem {
		return fail(ErrIllegalContextForSetTupleElement, "set_tuple_element without a preceding setelement call")
	}
	val, tuple := insn.Arg(0), insn.Arg(1)
	if _, err := c.operandTerm(val); err != nil {
		return err
	}
	t, err := c.operandType(tuple)
	if err != nil {
		return err
	}
	if t.Kind != KTuple {
		return failf(ErrBadType, "set_tuple_element on %s", t)
	}
	return nil
}

// selectPairs splits a select_val/select_tuple_arity pairs list operand
// (alternating value, label) into (value, label) tuples.
func selectPairs(list asm.Operand) [][2]asm.Operand {
	var out [][2]asm.Operand
	for i := 0; i+1 < len(list.List); i += 2 {
		out = append(out, [2]asm.Operand{list.List[i], list.List[i+1]})
	}
	return out
}

func dispatchSelectVal(c *Ctx, insn asm.Instruction) error {
	src, failLabel, list := insn.Arg(0), insn.Arg(1).Label, insn.Arg(2)
	if _, err := c.operandTerm(src); err != nil {
		return err
	}
	if list.Kind != asm.KindList || len(list.List) == 0 || len(list.List)%2 != 0 {
		return fail(ErrBadSelectList, "select_val: malformed selector list")
	}
	selKind := list.List[0].Kind
	switch selKind {
	case asm.KindAtom, asm.KindInteger, asm.KindFloat:
	default:
		return failf(ErrBadSelectList, "select_val: selector %s is not an atom, integer or float", list.List[0])
	}
	for _, pair := range selectPairs(list) {
		if pair[0].Kind != selKind {
			return fail(ErrBadSelectList, "select_val: selectors mix types")
		}
		if pair[1].Kind != asm.KindLabel {
			return failf(ErrBadSelectList, "select_val: target %s is not a label", pair[1])
		}
	}
	for _, pair := range selectPairs(list) {
		val, label := pair[0], pair[1]
		valType, err := c.operandType(val)
		if err != nil {
			return err
		}
		branch := c.cur.clone()
		refineStateRegister(branch, src, valType)
		c.propagateIsMapRefinement(branch, src, val)
		c.branchTo(label.Label, branch)
	}
	c.branchTo(failLabel, c.cur.clone())
	c.kill()
	return nil
}

func dispatchSelectTupleArity(c *Ctx, insn asm.Instruction) error {
	src, failLabel, list := insn.Arg(0), insn.Arg(1).Label, insn.Arg(2)
	t, err := c.operandType(src)
	if err != nil {
		return err
	}
	if t.Kind != KTuple {
		return failf(ErrBadType, "select_tuple_arity on %s", t)
	}
	if list.Kind != asm.KindList || len(list.List) == 0 || len(list.List)%2 != 0 {
		return fail(ErrBadTupleArityList, "select_tuple_arity: malformed arity list")
	}
	for _, pair := range selectPairs(list) {
		arityOp, label := pair[0], pair[1]
		n, ok := asInt(arityOp)
		if !ok {
			return fail(ErrBadTupleArityList, "select_tuple_arity: non-literal arity entry")
		}
		branch := c.cur.clone()
		refineStateRegister(branch, src, TupleExact(int(n)))
		c.branchTo(label.Label, branch)
	}
	c.branchTo(failLabel, c.cur.clone())
	c.kill()
	return nil
}

func dispatchBsStartMatch2(c *Ctx, insn asm.Instruction) error {
	failLabel := insn.Arg(0).Label
	src := insn.Arg(1)
	live, ok := asInt(insn.Arg(2))
	if !ok {
		return fail(ErrBadNumberOfLiveRegs, "bs_start_match2: non-literal live count")
	}
	slots, _ := asInt(insn.Arg(3))
	dst := insn.Arg(4)

	t, err := c.operandType(src)
	if err != nil {
		return err
	}
	if src.Kind == asm.KindX && src.Reg >= int(live) {
		return failf(ErrNotLive, "x(%d) is not among the %d live registers", src.Reg, live)
	}
	if t.Kind == KMatchContext {
		if src.Kind != dst.Kind || src.Reg != dst.Reg {
			return fail(ErrMatchContext, "bs_start_match2 source already holds a match context")
		}
		// Re-matching an existing context in place: the failure branch
		// must not be able to observe the context type.
		branch := c.cur.clone()
		refineStateRegister(branch, src, Term())
		c.branchTo(failLabel, branch)
		return nil
	}
	if err := c.pruneLive(int(live)); err != nil {
		return err
	}
	c.branchTo(failLabel, c.cur.clone())
	ctx := newMatchContext(int(slots))
	return c.storeTo(dst, MatchContextType(ctx))
}

func requireMatchContext(c *Ctx, op asm.Operand) (*MatchContext, error) {
	t, err := c.operandType(op)
	if err != nil {
		return nil, err
	}
	if t.Kind != KMatchContext || t.Ctx == nil {
		return nil, fail(ErrNoBSMContext, "operand does not hold a match context")
	}
	return t.Ctx, nil
}

func dispatchBsSave2(c *Ctx, insn asm.Instruction) error {
	ctx, err := requireMatchContext(c, insn.Arg(0))
	if err != nil {
		return err
	}
	slot, ok := asInt(insn.Arg(1))
	if !ok {
		return fail(ErrBadSource, "bs_save2: non-literal slot")
	}
	// Save into a copy: states cloned onto earlier branches share the
	// same *MatchContext and must not see this slot become valid.
	saved := *ctx
	if err := saved.save(int(slot)); err != nil {
		return err
	}
	c.refineRegister(insn.Arg(0), MatchContextType(&saved))
	return nil
}

func dispatchBsRestore2(c *Ctx, insn asm.Instruction) error {
	ctx, err := requireMatchContext(c, insn.Arg(0))
	if err != nil {
		return err
	}
	slot, ok := asInt(insn.Arg(1))
	if !ok {
		return fail(ErrBadSource, "bs_restore2: non-literal slot")
	}
	return ctx.restore(int(slot))
}

func dispatchBsSkipTest(c *Ctx, insn asm.Instruction) error {
	failLabel := insn.Arg(0).Label
	if _, err := requireMatchContext(c, insn.Arg(1)); err != nil {
		return err
	}
	c.branchTo(failLabel, c.cur.clone())
	return nil
}

func dispatchBsGet(c *Ctx, insn asm.Instruction, result Type) error {
	failLabel := insn.Arg(0).Label
	if _, err := requireMatchContext(c, insn.Arg(1)); err != nil {
		return err
	}
	live, liveOK := asInt(insn.Arg(2))
	if liveOK {
		if err := c.pruneLive(int(live)); err != nil {
			return err
		}
	}
	dst := insn.Args[len(insn.Args)-1]
	c.branchTo(failLabel, c.cur.clone())
	return c.storeTo(dst, result)
}

func dispatchBsInit(c *Ctx, insn asm.Instruction) error {
	failLabel := insn.Arg(0).Label
	live, liveOK := asInt(insn.Arg(2))
	if liveOK {
		if err := c.pruneLive(int(live)); err != nil {
			return err
		}
	}
	dst := insn.Args[len(insn.Args)-1]
	if failLabel != 0 {
		c.branchTo(failLabel, c.cur.clone())
	}
	return c.storeTo(dst, Binary())
}

func dispatchBsAppend(c *Ctx, insn asm.Instruction) error {
	failLabel := insn.Arg(0).Label
	dst := insn.Args[len(insn.Args)-1]
	if failLabel != 0 {
		c.branchTo(failLabel, c.cur.clone())
	}
	return c.storeTo(dst, Binary())
}

func dispatchBsPut(c *Ctx, insn asm.Instruction) error {
	failLabel := insn.Arg(0).Label
	src := insn.Args[len(insn.Args)-1]
	if _, err := c.operandType(src); err != nil {
		return err
	}
	if failLabel != 0 {
		c.branchTo(failLabel, c.cur.clone())
	}
	return nil
}

func dispatchBsAdd(c *Ctx, insn asm.Instruction) error {
	failLabel := insn.Arg(0).Label
	dst := insn.Args[len(insn.Args)-1]
	if failLabel != 0 {
		c.branchTo(failLabel, c.cur.clone())
	}
	return c.storeTo(dst, AnyInteger())
}

// pairKeys extracts the key operands (even positions) of an
// alternating key/value or key/destination list.
func pairKeys(list asm.Operand) []asm.Operand {
	var keys []asm.Operand
	for i := 0; i+1 < len(list.List); i += 2 {
		keys = append(keys, list.List[i])
	}
	return keys
}

// uniqueKeys rejects a key list with duplicates; the emulator's map
// instructions require each key to appear at most once.
func uniqueKeys(keys []asm.Operand) error {
	seen := make(map[string]bool, len(keys))
	for _, k := range keys {
		s := k.String()
		if seen[s] {
			return failf(ErrKeysNotUnique, "duplicate key %s", s)
		}
		seen[s] = true
	}
	return nil
}

func dispatchHasMapFields(c *Ctx, insn asm.Instruction) error {
	failLabel := insn.Arg(0).Label
	src := insn.Arg(1)
	list := insn.Arg(2)
	if _, err := c.operandTerm(src); err != nil {
		return err
	}
	if list.Kind != asm.KindList || len(list.List) == 0 {
		return fail(ErrEmptyFieldList, "has_map_fields: no keys")
	}
	if err := uniqueKeys(list.List); err != nil {
		return err
	}
	c.branchTo(failLabel, c.cur.clone())
	c.refineRegister(src, MapType())
	return nil
}

func dispatchPutMap(c *Ctx, insn asm.Instruction, exact bool) error {
	failLabel := insn.Arg(0).Label
	src := insn.Arg(1)
	live, ok := asInt(insn.Arg(2))
	if !ok {
		return fail(ErrBadNumberOfLiveRegs, "put_map: non-literal live count")
	}
	dst := insn.Arg(3)
	list := insn.Arg(4)

	t, err := c.operandType(src)
	if err != nil {
		return err
	}
	if exact && t.Kind != KMap {
		return failf(ErrBadType, "put_map_exact on %s", t)
	}
	if err := uniqueKeys(pairKeys(list)); err != nil {
		return err
	}
	for _, op := range list.List {
		if _, err := c.operandTerm(op); err != nil {
			return err
		}
	}
	if err := c.pruneLive(int(live)); err != nil {
		return err
	}
	if failLabel != 0 {
		c.branchTo(failLabel, c.cur.clone())
	}
	return c.storeTo(dst, MapType())
}

func dispatchGetMapElements(c *Ctx, insn asm.Instruction) error {
	failLabel := insn.Arg(0).Label
	src := insn.Arg(1)
	list := insn.Arg(2)

	t, err := c.operandType(src)
	if err != nil {
		return err
	}
	if t.Kind != KMap {
		return failf(ErrBadType, "get_map_elements on %s", t)
	}
	if list.Kind != asm.KindList || len(list.List) == 0 {
		return fail(ErrEmptyFieldList, "get_map_elements: no keys")
	}
	if err := uniqueKeys(pairKeys(list)); err != nil {
		return err
	}
	c.branchTo(failLabel, c.cur.clone())
	for _, pair := range selectPairs(list) {
		_, dst := pair[0], pair[1]
		if err := c.storeTo(dst, Term()); err != nil {
			return err
		}
	}
	return nil
}

func dispatchCall(c *Ctx, insn asm.Instruction, external bool) error {
	arity, ok := asInt(insn.Arg(0))
	if !ok {
		return fail(ErrBadSource, "call: non-literal arity")
	}
	if err := c.pruneLive(int(arity)); err != nil {
		return err
	}
	c.forkToHandler()
	c.killHeapReservation()
	c.cur.pruneXAbove(0)
	if external && isSetelementTarget(insn.Arg(1)) {
		// setelement/3 returns a freshly built tuple, and the window it
		// opens is the only place set_tuple_element is legal.
		c.cur.setelem = true
		return c.writeX(0, TupleAtLeast(0))
	}
	return c.writeX(0, Term())
}

func isSetelementTarget(op asm.Operand) bool {
	if op.Kind != asm.KindLiteral {
		return false
	}
	ef, ok := op.Lit.(asm.ExtFunc)
	return ok && ef.Module == "erlang" && ef.Name == "setelement" && ef.Arity == 3
}

func dispatchCallTail(c *Ctx, insn asm.Instruction, withDealloc bool) error {
	arity, ok := asInt(insn.Arg(0))
	if !ok {
		return fail(ErrBadSource, "call: non-literal arity")
	}
	target := insn.Arg(1)
	if err := c.pruneLive(int(arity)); err != nil {
		return err
	}
	if err := c.checkTailCallMatchContext(target, strings.Contains(insn.Op, "ext")); err != nil {
		return err
	}
	if withDealloc {
		n, ok := asInt(insn.Arg(2))
		if !ok {
			return fail(ErrBadSource, "call_last: non-literal deallocation count")
		}
		if err := c.requireFrame(); err != nil {
			return err
		}
		if int(n) != int(c.cur.numy) {
			return failf(ErrAllocated, "call_last %d does not match frame size %d", n, c.cur.numy)
		}
	}
	if err := c.requireNoOpenCatch(); err != nil {
		return err
	}
	if idx, ok := c.cur.yAllInitializedOrBetter(); !ok {
		return failf(ErrUninitializedReg, "y(%d) not initialized at tail call", idx)
	}
	c.kill()
	return nil
}

func dispatchCallFun(c *Ctx, insn asm.Instruction) error {
	arity, ok := asInt(insn.Arg(0))
	if !ok {
		return fail(ErrBadSource, "call_fun: non-literal arity")
	}
	if err := c.pruneLive(int(arity) + 1); err != nil {
		return err
	}
	c.forkToHandler()
	c.killHeapReservation()
	c.cur.pruneXAbove(0)
	return c.writeX(0, Term())
}
