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

// Command bcverify runs the static bytecode verifier over a module
// described as JSON (the asm package's own types, not a bytecode disk
// format) and reports diagnostics as plain text or JSON.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/basalt-labs/bcverify/asm"
	"github.com/basalt-labs/bcverify/diag"
	"github.com/basalt-labs/bcverify/verify"
	"github.com/basalt-labs/bcverify/verify/cache"
)

func main() {
	var (
		inputPath    = flag.String("module", "", "path to a JSON-encoded asm.Module (required)")
		manifestPath = flag.String("extensions", "", "path to an opcode extension manifest (YAML)")
		cacheDir     = flag.String("cache", "", "directory for the incremental verification cache")
		outputFormat = flag.String("format", "text", "diagnostic output format: text or json")
		maxY         = flag.Int("max-y", 0, "override the y-register limit (0 keeps the default)")
	)
	flag.Parse()

	if *inputPath == "" {
		fmt.Fprintln(os.Stderr, "bcverify: -module is required")
		flag.Usage()
		os.Exit(2)
	}

	mod, err := loadModule(*inputPath)
	if err != nil {
		log.Fatalf("bcverify: %v", err)
	}

	registry := asm.Catalogue()
	if *manifestPath != "" {
		m, err := loadManifest(*manifestPath)
		if err != nil {
			log.Fatalf("bcverify: %v", err)
		}
		if err := m.Register(registry); err != nil {
			log.Fatalf("bcverify: %v", err)
		}
	}

	limits := verify.DefaultLimits()
	if *maxY > 0 {
		limits.MaxY = *maxY
	}

	opts := verify.Options{
		Log:      os.Stderr,
		Registry: registry,
		Limits:   limits,
	}
	if *cacheDir != "" {
		store, err := cache.Open(*cacheDir)
		if err != nil {
			log.Fatalf("bcverify: opening cache: %v", err)
		}
		opts.Cache = store
	}

	result := verify.Validate(mod, opts)
	report(result, *outputFormat)

	if len(result.Diagnostics) > 0 {
		os.Exit(1)
	}
}

func loadModule(path string) (*asm.Module, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var mod asm.Module
	if err := json.NewDecoder(f).Decode(&mod); err != nil {
		return nil, fmt.Errorf("decoding module: %w", err)
	}
	return &mod, nil
}

func loadManifest(path string) (*asm.Manifest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	m, err := asm.ParseManifest(raw)
	if err != nil {
		return nil, fmt.Errorf("parsing extension manifest: %w", err)
	}
	return m, nil
}

func report(result verify.Result, format string) {
	switch format {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(result.Diagnostics)
	default:
		if len(result.Diagnostics) == 0 {
			fmt.Printf("%s: ok (run %s)\n", result.Module.Name, result.RunID)
			return
		}
		for _, ds := range result.Diagnostics {
			for i := range ds {
				fmt.Println(diag.Format(&ds[i]))
				fmt.Println()
			}
		}
	}
}
