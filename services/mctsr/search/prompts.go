// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package search

import (
	"strings"
)

// Default system prompts.
const (
	DefaultCritiquePrompt = "Provide a reflective or critical comment to improve the answer."

	DefaultRefinePrompt = "# Instruction\n" +
		"Refine the answer based on the critique. Your refined answer should be a *direct* and *concise* solution to the problem.\n" +
		"\n" +
		"## Additional guidelines\n" +
		"- Your response should not refer to or discuss the criticisms.\n" +
		"- Do not repeat the problem statement.\n"

	DefaultEvaluatePrompt = "Provide a reward score between -100 and 100 for the answer quality, " +
		"using the strictest standards. Do not give a full score above 95. " +
		"Make sure the reward score is an integer. Return *ONLY* the score."

	DefaultParseCorrection = "Failed to parse reward as an integer."
)

// Prompts holds the instruction texts sent to the Responder.
type Prompts struct {
	Critique        string `json:"critique" yaml:"critique"`
	Refine          string `json:"refine" yaml:"refine"`
	Evaluate        string `json:"evaluate" yaml:"evaluate"`
	ParseCorrection string `json:"parse_correction" yaml:"parse_correction"`
}

// DefaultPrompts returns the built-in prompts.
func DefaultPrompts() Prompts {
	return Prompts{
		Critique:        DefaultCritiquePrompt,
		Refine:          DefaultRefinePrompt,
		Evaluate:        DefaultEvaluatePrompt,
		ParseCorrection: DefaultParseCorrection,
	}
}

// withDefaults fills empty fields from DefaultPrompts.
func (p Prompts) withDefaults() Prompts {
	d := DefaultPrompts()
	if p.Critique == "" {
		p.Critique = d.Critique
	}
	if p.Refine == "" {
		p.Refine = d.Refine
	}
	if p.Evaluate == "" {
		p.Evaluate = d.Evaluate
	}
	if p.ParseCorrection == "" {
		p.ParseCorrection = d.ParseCorrection
	}
	return p
}

// tagged wraps content in an XML-like section.
func tagged(tag, content string) string {
	return "<" + tag + ">\n" + content + "\n</" + tag + ">"
}

func joinSections(sections ...string) string {
	return strings.Join(sections, "\n\n")
}
