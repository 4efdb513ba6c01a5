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

package asm

// tier1Opcodes are always legal and state-undecided safe: control
// pseudo-ops, terminal/abnormal-exit opcodes, plain moves, tuple and
// list construction, frame (de)allocation, and catch/try bracketing.
var tier1Opcodes = []string{
	"label", "line", "%",
	"badmatch", "case_end", "try_case_end", "if_end",
	"bs_context_to_binary",
	"move", "fmove",
	"test_heap", "bs_init_writable",
	"put_list", "put_tuple", "put", "put_tuple2",
	"recv_mark", "recv_set",
	"trim", "allocate", "allocate_zero", "allocate_heap", "deallocate",
	"catch", "catch_end", "try", "try_end", "try_case",
	"get_tuple_element",
	"jump",
}

// tier2Opcodes may themselves raise, so their transfer function forks a
// branch-state into the topmost enclosing catch/try failure label
// before committing the fall-through state.
var tier2Opcodes = []string{
	"bif", "apply", "apply_last",
	"gc_bif1", "gc_bif2", "gc_bif3",
	"raise",
}

// tier3Opcodes are subject to the floating-point error-state automaton.
var tier3Opcodes = []string{
	"fadd", "fsub", "fmul", "fdiv", "fnegate",
	"fclearerror", "fcheckerror",
}

// tier4Opcodes are everything else: calls, BIFs that can prune live
// registers, return, message-queue opcodes, binary matching and
// construction, type tests, and map operations.
var tier4Opcodes = []string{
	"call", "call_only", "call_last", "call_ext", "call_ext_only",
	"call_ext_last", "call_fun",
	"tuple_size", "element", "hd", "tl", "map_get", "is_map_key",
	"gc_bif",
	"return",
	"loop_rec", "loop_rec_end", "wait", "wait_timeout", "timeout",
	"send", "remove_message",
	"set_tuple_element",
	"select_val", "select_tuple_arity",
	"bs_start_match2", "bs_match_string",
	"bs_skip_bits2", "bs_skip_utf8", "bs_skip_utf16", "bs_skip_utf32",
	"bs_test_tail2", "bs_test_unit",
	"bs_get_integer2", "bs_get_binary2", "bs_get_float2", "bs_get_utf8",
	"bs_get_utf16", "bs_get_utf32",
	"bs_save2", "bs_restore2",
	"is_float", "is_tuple", "is_nonempty_list", "test_arity",
	"is_tagged_tuple", "has_map_fields", "is_map", "is_eq_exact", "test",
	"is_integer", "is_atom", "is_list", "is_number", "is_binary",
	"bs_init2", "bs_init_bits", "bs_append", "bs_private_append",
	"bs_put_integer", "bs_put_binary", "bs_put_float",
	"bs_put_utf8", "bs_put_utf16", "bs_put_utf32", "bs_add",
	"bs_utf8_size", "bs_utf16_size",
	"put_map_assoc", "put_map_exact", "get_map_elements",
}

// Catalogue returns a fresh Registry seeded with every opcode named in
// the component design. Hosts extend it (see Manifest) rather
// than mutate this shared seed — Catalogue always allocates a new
// Registry.
func Catalogue() *Registry {
	r := NewRegistry()
	for _, name := range tier1Opcodes {
		r.Register(Opcode{Name: name, Tier: Tier1AlwaysLegal})
	}
	for _, name := range tier2Opcodes {
		r.Register(Opcode{Name: name, Tier: Tier2CatchBranch})
	}
	for _, name := range tier3Opcodes {
		r.Register(Opcode{Name: name, Tier: Tier3FloatGuard})
	}
	for _, name := range tier4Opcodes {
		r.Register(Opcode{Name: name, Tier: Tier4General})
	}
	return r
}
