// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command mctsr searches for better answers to a problem by repeatedly
// critiquing, refining and scoring candidate answers with a language model.
//
// Usage:
//
//	mctsr solve "What is the sum of the first 100 primes?"
//	mctsr serve --config mctsr.yaml
//	mctsr runs list
//	mctsr runs show <run-id> --tree
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
