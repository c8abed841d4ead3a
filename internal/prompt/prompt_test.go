// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package prompt

import (
	"strings"
	"testing"
)

func TestIsSummaryCommand(t *testing.T) {
	tests := []struct {
		name    string
		message string
		want    bool
	}{
		{"summarize verb", "please summarize this conversation", true},
		{"summary noun", "give me a summary", true},
		{"patient memory phrase", "update the patient memory", true},
		{"mixed case", "SUMMARIZE the visit", true},
		{"substring inside clinical text", "the discharge summary of symptoms was normal", true},
		{"embedded in larger word", "summarized notes", true},
		{"plain question", "what causes chest pain?", false},
		{"memory alone", "my memory is failing", false},
		{"patient alone", "the patient has a fever", false},
		{"empty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsSummaryCommand(tt.message); got != tt.want {
				t.Errorf("IsSummaryCommand(%q) = %v, want %v", tt.message, got, tt.want)
			}
		})
	}
}

func TestChat_WithoutMemory(t *testing.T) {
	contents := Chat("what causes migraines?", "")

	if len(contents) != 2 {
		t.Fatalf("len(contents) = %d, want 2", len(contents))
	}
	if contents[0].Parts[0].Text != SystemPrompt {
		t.Error("first part is not the system prompt")
	}
	if contents[1].Parts[0].Text != "what causes migraines?" {
		t.Errorf("second part = %q, want the raw message", contents[1].Parts[0].Text)
	}
	for i, c := range contents {
		if c.Role != "user" {
			t.Errorf("contents[%d].Role = %q, want user", i, c.Role)
		}
	}
}

func TestChat_WithMemory(t *testing.T) {
	contents := Chat("any change in risk?", "Pt with chronic HTN, on lisinopril.")

	if len(contents) != 2 {
		t.Fatalf("len(contents) = %d, want 2", len(contents))
	}

	got := contents[1].Parts[0].Text
	want := "Clinical Memory:\nPt with chronic HTN, on lisinopril.\n\nQuery:\nany change in risk?"
	if got != want {
		t.Errorf("contextual message = %q, want %q", got, want)
	}
}

func TestChat_Deterministic(t *testing.T) {
	a := Chat("msg", "mem")
	b := Chat("msg", "mem")

	if a[1].Parts[0].Text != b[1].Parts[0].Text {
		t.Error("Chat is not deterministic for identical inputs")
	}
}

func TestSummary(t *testing.T) {
	transcript := []Message{
		{Role: "user", Text: "I have had a headache for 3 days"},
		{Role: "assistant", Text: "Any visual changes?"},
		{Role: "user", Text: "No"},
	}

	contents := Summary(transcript)
	if len(contents) != 2 {
		t.Fatalf("len(contents) = %d, want 2", len(contents))
	}
	if contents[0].Parts[0].Text != SummaryPrompt {
		t.Error("first part is not the summary prompt")
	}

	want := "USER: I have had a headache for 3 days\n" +
		"ASSISTANT: Any visual changes?\n" +
		"USER: No"
	if got := contents[1].Parts[0].Text; got != want {
		t.Errorf("rendered transcript = %q, want %q", got, want)
	}
}

func TestSummary_EmptyTranscript(t *testing.T) {
	contents := Summary(nil)

	if len(contents) != 2 {
		t.Fatalf("len(contents) = %d, want 2", len(contents))
	}
	if contents[1].Parts[0].Text != "" {
		t.Errorf("transcript part = %q, want empty", contents[1].Parts[0].Text)
	}
}

func TestSummary_RoleCasing(t *testing.T) {
	contents := Summary([]Message{{Role: "Assistant", Text: "hi"}})

	if got := contents[1].Parts[0].Text; !strings.HasPrefix(got, "ASSISTANT: ") {
		t.Errorf("rendered line = %q, want upper-cased role prefix", got)
	}
}
