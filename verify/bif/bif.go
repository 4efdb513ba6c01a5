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

// Package bif is the static table of built-in function return types the
// glossary describes: a map from (name, arity) to the coarse abstract
// type a call to that BIF produces, consulted by the bif/gc_bif transfer
// functions so a verified call site can refine its destination register
// beyond a bare term. It deliberately returns a package-local ReturnKind
// rather than a verify.Type to avoid a import cycle between this
// package and verify; the verify package owns the translation.
package bif

type sig struct {
	name  string
	arity int
}

// ReturnKind is a coarse abstract return-type tag.
type ReturnKind string

const (
	KindTerm    ReturnKind = "term"
	KindBool    ReturnKind = "bool"
	KindInteger ReturnKind = "integer"
	KindFloat   ReturnKind = "float"
	KindNumber  ReturnKind = "number"
	KindAtom    ReturnKind = "atom"
	KindTuple   ReturnKind = "tuple"
	KindList    ReturnKind = "list"
	KindBinary  ReturnKind = "binary"
	KindMap     ReturnKind = "map"
	// KindNone marks a BIF that never returns normally (error/throw/exit).
	KindNone ReturnKind = ""
)

var table = map[sig]ReturnKind{
	{"+", 2}: KindNumber, {"-", 2}: KindNumber, {"*", 2}: KindNumber, {"/", 2}: KindFloat,
	{"-", 1}: KindNumber, {"+", 1}: KindNumber,
	{"div", 2}: KindInteger, {"rem", 2}: KindInteger,
	{"band", 2}: KindInteger, {"bor", 2}: KindInteger, {"bxor", 2}: KindInteger,
	{"bnot", 1}: KindInteger, {"bsl", 2}: KindInteger, {"bsr", 2}: KindInteger,
	{"==", 2}: KindBool, {"/=", 2}: KindBool, {"=<", 2}: KindBool, {"<", 2}: KindBool,
	{">=", 2}: KindBool, {">", 2}: KindBool, {"=:=", 2}: KindBool, {"=/=", 2}: KindBool,
	{"and", 2}: KindBool, {"or", 2}: KindBool, {"not", 1}: KindBool, {"xor", 2}: KindBool,
	{"abs", 1}:     KindNumber,
	{"element", 2}: KindTerm,
	{"hd", 1}:      KindTerm, {"tl", 1}: KindTerm,
	{"length", 1}: KindInteger,
	{"size", 1}:   KindInteger, {"byte_size", 1}: KindInteger, {"bit_size", 1}: KindInteger, {"tuple_size", 1}: KindInteger,
	{"is_atom", 1}: KindBool, {"is_list", 1}: KindBool, {"is_tuple", 1}: KindBool, {"is_integer", 1}: KindBool,
	{"is_float", 1}: KindBool, {"is_number", 1}: KindBool, {"is_binary", 1}: KindBool, {"is_map", 1}: KindBool,
	{"is_function", 1}: KindBool, {"is_function", 2}: KindBool, {"is_pid", 1}: KindBool, {"is_reference", 1}: KindBool,
	{"is_boolean", 1}: KindBool, {"is_record", 2}: KindBool, {"is_record", 3}: KindBool,
	{"node", 0}: KindAtom, {"node", 1}: KindAtom,
	{"self", 0}:  KindTerm,
	{"error", 1}: KindNone, {"error", 2}: KindNone,
	{"throw", 1}: KindNone, {"exit", 1}: KindNone, {"exit", 2}: KindNone,
	{"map_size", 1}: KindInteger, {"map_get", 2}: KindTerm,
	{"binary_to_list", 1}: KindList, {"list_to_binary", 1}: KindBinary,
	{"integer_to_list", 1}: KindList, {"list_to_integer", 1}: KindInteger,
	{"atom_to_list", 1}: KindList, {"list_to_atom", 1}: KindAtom,
	{"round", 1}: KindInteger, {"trunc", 1}: KindInteger, {"float", 1}: KindFloat,
	{"make_fun", 3}:      KindTerm,
	{"tuple_to_list", 1}: KindList, {"list_to_tuple", 1}: KindTuple,
}

// Lookup returns the abstract return kind for a BIF call of the given
// name and arity, and whether the BIF is known. Unknown BIFs (including
// every opcode-extension-defined NIF) are left to the caller to treat
// conservatively as term.
func Lookup(name string, arity int) (ReturnKind, bool) {
	k, ok := table[sig{name, arity}]
	return k, ok
}

// Raises reports whether a BIF return kind marks an always-raising call
// (error/throw/exit), meaning the fall-through path after the call is
// unreachable.
func (k ReturnKind) Raises() bool {
	return k == KindNone
}
