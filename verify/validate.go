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
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"

	"golang.org/x/exp/slices"

	"github.com/basalt-labs/bcverify/asm"
	"github.com/basalt-labs/bcverify/verify/cache"
)

// Options bundles everything a host can customize about one Validate
// call: an optional incremental cache, a log destination, an opcode
// registry (the built-in catalogue plus any host extensions already
// merged in — see asm.Manifest.Register), any opcode names the host
// wants handled by its own TransferFunc instead of a built-in tier, and
// the numeric limits (only ever tightened, never loosened, relative to
// DefaultLimits).
type Options struct {
	Cache      *cache.Store
	Log        io.Writer
	Registry   *asm.Registry
	Extensions map[string]TransferFunc
	Limits     Limits
}

func (o Options) resolved() Options {
	if o.Registry == nil {
		o.Registry = asm.Catalogue()
	}
	d := DefaultLimits()
	if o.Limits == (Limits{}) {
		o.Limits = d
	}
	if o.Limits.MaxX > d.MaxX {
		o.Limits.MaxX = d.MaxX
	}
	if o.Limits.MaxY > d.MaxY {
		o.Limits.MaxY = d.MaxY
	}
	if o.Limits.MaxF > d.MaxF {
		o.Limits.MaxF = d.MaxF
	}
	return o
}

func (o Options) logWriter() io.Writer {
	if o.Log != nil {
		return o.Log
	}
	return os.Stderr
}

// Result is Validate's output: the input module, returned unchanged,
// and a map from "Name/Arity" to the diagnostics that function produced
// (absent entirely for functions that verified cleanly). RunID is the
// correlation id stamped on this call.
type Result struct {
	Module      *asm.Module
	Diagnostics map[string][]Diagnostic
	RunID       string
}

func fnKey(mfa asm.MFA) string {
	return fmt.Sprintf("%s/%d", mfa.Name, mfa.Arity)
}

// Validate runs the abstract interpreter over every function in mod,
// never aborting the whole module on one function's failure: each
// function gets its own diagnostic list, and verification of the rest
// proceeds regardless.
func Validate(mod *asm.Module, opts Options) Result {
	opts = opts.resolved()
	runID := newRunID()
	logger := log.New(opts.logWriter(), "", log.LstdFlags)
	logger.Printf("run=%s verifying %s (%d functions)", runID, mod.Name, len(mod.Functions))

	prescan := buildMatchContextIndex(mod)
	result := Result{Module: mod, Diagnostics: map[string][]Diagnostic{}, RunID: runID}

	for _, fn := range mod.Functions {
		mfa := fn.MFAIn(mod)
		key := cache.Key(fn)

		if opts.Cache != nil {
			if entry, ok := opts.Cache.Lookup(key); ok {
				ds := decodeCachedDiagnostics(entry)
				logCacheHit(logger, runID, mfa, ds)
				if len(ds) > 0 {
					result.Diagnostics[fnKey(mfa)] = ds
				}
				continue
			}
		}

		ds := verifyOneFunctionSafely(mod, fn, mfa, prescan, opts)
		if len(ds) > 0 {
			result.Diagnostics[fnKey(mfa)] = ds
			logger.Printf("run=%s %s: %d diagnostic(s)", runID, mfa, len(ds))
		} else {
			logger.Printf("run=%s %s: ok", runID, mfa)
		}

		if opts.Cache != nil {
			if err := opts.Cache.Store(key, encodeDiagnostics(ds)); err != nil {
				logger.Printf("run=%s %s: cache store failed: %v", runID, mfa, err)
			}
		}
	}

	return result
}

func logCacheHit(logger *log.Logger, runID string, mfa asm.MFA, ds []Diagnostic) {
	if len(ds) == 0 {
		logger.Printf("run=%s %s: ok (cached)", runID, mfa)
	} else {
		logger.Printf("run=%s %s: %d diagnostic(s) (cached)", runID, mfa, len(ds))
	}
}

// verifyOneFunctionSafely recovers an unexpected implementation panic
// inside a transfer function at the per-function boundary,
// converting it to an illegal_instruction diagnostic so one bad function
// can never abort the rest of the module.
func verifyOneFunctionSafely(mod *asm.Module, fn *asm.Function, mfa asm.MFA, prescan matchContextPrescan, opts Options) (ds []Diagnostic) {
	defer func() {
		if r := recover(); r != nil {
			ds = []Diagnostic{{
				MFA:    mfa,
				Reason: ErrIllegalInstruction,
				Detail: fmt.Sprintf("internal verifier panic: %v", r),
			}}
		}
	}()
	return verifyOneFunction(mod, fn, mfa, prescan, opts)
}

func verifyOneFunction(mod *asm.Module, fn *asm.Function, mfa asm.MFA, prescan matchContextPrescan, opts Options) []Diagnostic {
	hdr, herr := splitHeader(mod, fn)
	if herr != nil {
		herr.MFA = mfa
		return []Diagnostic{*herr}
	}

	c := &Ctx{
		Mod:           mod,
		Fn:            fn,
		MFA:           mfa,
		Limits:        opts.Limits,
		Registry:      opts.Registry,
		Extensions:    opts.Extensions,
		Prescan:       prescan,
		bt:            newBranchTable(),
		referenced:    map[int]bool{},
		definedLabels: allLabels(fn),
		cur:           newInitialState(fn.Arity),
	}

	if err := verifyFunctionBody(c, hdr.body, hdr.bodyOffset); err != nil {
		d, ok := err.(*Diagnostic)
		if !ok {
			return []Diagnostic{{MFA: mfa, Reason: ErrIllegalInstruction, Detail: err.Error()}}
		}
		return []Diagnostic{*d}
	}

	var undefined []int
	for label := range c.referenced {
		if !c.definedLabels[label] {
			undefined = append(undefined, label)
		}
	}
	if len(undefined) > 0 {
		// Stable order: the diagnostic must not depend on map iteration.
		slices.Sort(undefined)
		return []Diagnostic{*undefLabelsDiagnostic(undefined)}
	}

	if d := checkFunInfoBranches(c.bt, hdr.ls1, fn.Arity); d != nil {
		d.MFA = mfa
		return []Diagnostic{*d}
	}

	return nil
}

func encodeDiagnostics(ds []Diagnostic) cache.Entry {
	out := make([]json.RawMessage, 0, len(ds))
	for _, d := range ds {
		raw, err := json.Marshal(d)
		if err != nil {
			continue
		}
		out = append(out, raw)
	}
	return cache.Entry{Diagnostics: out}
}

func decodeCachedDiagnostics(entry cache.Entry) []Diagnostic {
	out := make([]Diagnostic, 0, len(entry.Diagnostics))
	for _, raw := range entry.Diagnostics {
		var d Diagnostic
		if err := json.Unmarshal(raw, &d); err != nil {
			continue
		}
		out = append(out, d)
	}
	return out
}
