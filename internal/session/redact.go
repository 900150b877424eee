// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package session

import (
	"regexp"
	"strings"
)

// piiPatterns masks the PII shapes most likely to surface in a spoken
// call-center transcript before a snapshot reaches the Chat Completion
// Client (spec.md §4.4, "fillers and PII masks are applied here so the
// downstream prompt is deterministic"), grounded on the teacher pack's own
// compiled-regexp redaction pass over logged strings.
var piiPatterns = []*regexp.Regexp{
	regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`),        // email
	regexp.MustCompile(`\b\d{3}[-.\s]\d{2}[-.\s]\d{4}\b`),                        // SSN-shaped
	regexp.MustCompile(`\b(?:\d[ -]?){13,19}\b`),                                 // card-number-shaped digit runs
	regexp.MustCompile(`\b(?:\+?1[-.\s]?)?\(?\d{3}\)?[-.\s]?\d{3}[-.\s]?\d{4}\b`), // phone numbers
}

// maskPII replaces every PII-shaped substring with a fixed redaction marker.
func maskPII(text string) string {
	for _, p := range piiPatterns {
		text = p.ReplaceAllString(text, "[REDACTED]")
	}
	return text
}

// fillerWords carry no content and only add noise to the insight prompt;
// they are dropped outright rather than masked.
var fillerWords = map[string]bool{
	"um": true, "umm": true, "uh": true, "uhh": true, "erm": true, "hmm": true,
	"like": true, "y'know": true,
}

// stripFillers drops standalone filler tokens, case-insensitively, leaving
// the remaining word order untouched. It's a word-level heuristic, not a
// parser — "like" as a verb is indistinguishable from "like" as a filler
// here, matching the same crude-but-deterministic tradeoff Transcript
// already makes for its whitespace-token counting.
func stripFillers(words []string) []string {
	out := make([]string, 0, len(words))
	for _, w := range words {
		if fillerWords[strings.Trim(strings.ToLower(w), ".,!?")] {
			continue
		}
		out = append(out, w)
	}
	return out
}
