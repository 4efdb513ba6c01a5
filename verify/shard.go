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

	"github.com/dchest/siphash"

	"github.com/basalt-labs/bcverify/asm"
)

// shardSipKey is a fixed, arbitrary 128-bit key: ShardKey only needs to
// be a stable, well-distributed hash across a single process's worker
// pool, not a keyed MAC, so there is no secret to manage.
var shardSipKey0, shardSipKey1 uint64 = 0x6273636865636b31, 0x7665726966696564

// ShardKey hashes (module name, function name, arity) with siphash so a
// host distributing per-function verification across N workers can do so
// deterministically without a central coordinator: worker
// i handles functions where ShardKey(...) % N == i.
func ShardKey(mod *asm.Module, fn *asm.Function) uint64 {
	data := []byte(fmt.Sprintf("%s/%s/%d", mod.Name, fn.Name, fn.Arity))
	return siphash.Hash(shardSipKey0, shardSipKey1, data)
}
