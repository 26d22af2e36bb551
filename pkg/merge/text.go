// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package merge reconciles partial agent output.
//
// Remote agents stream text as overlapping windows and structured data as a
// series of fragments. Text folds those windows into one growing string;
// Data folds fragments into one mapping.
package merge

import "strings"

// Text folds an incoming streamed fragment into the text accumulated so far.
//
// Fragments must be applied in arrival order. A fragment that extends the
// accumulator replaces it, a stale fragment is ignored, and an overlapping
// fragment contributes only its non-overlapping suffix.
func Text(existing, incoming string) string {
	if existing == "" {
		return incoming
	}
	if strings.HasPrefix(incoming, existing) {
		return incoming
	}
	if strings.HasPrefix(existing, incoming) {
		return existing
	}

	for k := min(len(existing), len(incoming)); k > 0; k-- {
		if existing[len(existing)-k:] == incoming[:k] {
			return existing + incoming[k:]
		}
	}
	return existing + incoming
}

// Delta returns the suffix that merged added on top of existing.
// merged must be the result of Text(existing, ...).
func Delta(existing, merged string) string {
	if !strings.HasPrefix(merged, existing) {
		return merged
	}
	return merged[len(existing):]
}
