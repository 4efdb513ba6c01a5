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

// Package cache is the on-disk incremental verification cache: a
// content-addressed, fingerprint-keyed store of prior verification
// outcomes, so re-verifying an unchanged function costs a lookup instead
// of a re-run. Grounded on ion/blockfmt's content-addressed block cache
// and fsenv.go's fingerprinting helper.
package cache

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/klauspost/compress/zstd"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/sys/unix"

	"github.com/basalt-labs/bcverify/asm"
)

// Fingerprint is a stable content hash of a function's opcode stream.
// Two functions with byte-identical bodies fingerprint identically
// regardless of which module they live in.
type Fingerprint [32]byte

func (f Fingerprint) String() string {
	return hex.EncodeToString(f[:])
}

// Key hashes fn's name, arity, entry label and serialized instruction
// list with BLAKE2b-256.
func Key(fn *asm.Function) Fingerprint {
	h, err := blake2b.New256(nil)
	if err != nil {
		// blake2b.New256 only fails for an invalid MAC key, which nil
		// never triggers.
		panic(err)
	}
	fmt.Fprintf(h, "%s/%d@%d\n", fn.Name, fn.Arity, fn.Entry)
	for _, insn := range fn.Code {
		fmt.Fprintf(h, "%s", insn.Op)
		for _, a := range insn.Args {
			fmt.Fprintf(h, "\x1f%s", a.String())
		}
		h.Write([]byte{'\n'})
	}
	var out Fingerprint
	copy(out[:], h.Sum(nil))
	return out
}

// Entry is a cached verification outcome: empty Diagnostics means the
// function verified cleanly.
type Entry struct {
	Diagnostics []json.RawMessage `json:"diagnostics"`
}

// Store is an on-disk directory of fingerprint -> Entry, zstd-compressed
// and flock-guarded against concurrent writers from sibling verifier
// processes (independent functions may be checked in parallel,
// including across processes sharing a cache directory).
type Store struct {
	dir string

	mu      sync.Mutex
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// Open returns a Store backed by dir, creating it if necessary.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, err
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	return &Store{dir: dir, encoder: enc, decoder: dec}, nil
}

func (s *Store) path(fp Fingerprint) string {
	return filepath.Join(s.dir, fp.String()+".zst")
}

func (s *Store) lockPath() string {
	return filepath.Join(s.dir, ".lock")
}

// withLock guards fn with an exclusive flock on the store's lock file so
// two verifier processes sharing dir don't interleave a read with a
// concurrent write.
func (s *Store) withLock(fn func() error) error {
	lf, err := os.OpenFile(s.lockPath(), os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return err
	}
	defer lf.Close()
	if err := unix.Flock(int(lf.Fd()), unix.LOCK_EX); err != nil {
		return err
	}
	defer unix.Flock(int(lf.Fd()), unix.LOCK_UN)
	return fn()
}

// Lookup returns the cached entry for fp, if any.
func (s *Store) Lookup(fp Fingerprint) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var entry Entry
	found := false
	_ = s.withLock(func() error {
		raw, err := os.ReadFile(s.path(fp))
		if err != nil {
			return nil
		}
		plain, err := s.decoder.DecodeAll(raw, nil)
		if err != nil {
			return nil
		}
		if err := json.Unmarshal(plain, &entry); err != nil {
			return nil
		}
		found = true
		return nil
	})
	return entry, found
}

// Store persists entry under fp, compressed with zstd.
func (s *Store) Store(fp Fingerprint, entry Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	plain, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	compressed := s.encoder.EncodeAll(plain, nil)
	buf.Write(compressed)

	return s.withLock(func() error {
		tmp := s.path(fp) + ".tmp"
		if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
			return err
		}
		return os.Rename(tmp, s.path(fp))
	})
}
