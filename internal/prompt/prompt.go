// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package prompt composes generation requests for the clinical assistant.
//
// All functions are pure: identical inputs produce identical prompt parts.
// The fixed system and summary prompts are versioned configuration, sent as
// their own leading part and never concatenated into user-controlled text
// beyond the labeled Clinical Memory / Query sections.
package prompt

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/jeranaias/doctor-assist/internal/gemini"
)

// SystemPrompt is the fixed response-style prompt for ordinary chat replies.
const SystemPrompt = `
You are Doctor Assist — a professional clinical AI.

MANDATORY RESPONSE STYLE (NO EXCEPTIONS):
- Clean, ChatGPT/Gemini-style structure
- Short paragraphs
- Clear section headings with emojis
- Bullet points where helpful
- Bold key medical terms
- No wall of text
- Simple, readable medical English

RESPONSE STRUCTURE:
### 🧠 Definition
### 🔍 Common Causes / Types
### ⚠️ Key Symptoms
### 🩺 When to Seek Medical Care
### 💊 Basic Management
### 📌 Summary (2–3 lines only)

RULES:
- Do NOT write textbook dumps
- Be concise and clinically accurate
- No disclaimers
- No unnecessary complexity
`

// SummaryPrompt is the fixed prompt for internal clinical summaries used as
// long-term conversation memory.
const SummaryPrompt = `
You are a senior attending physician generating an INTERNAL clinical summary
for continuity of care and medical decision-making.
This summary is NOT patient-facing.

OBJECTIVE:
Create a precise, structured medical summary that allows another clinician
to instantly understand the case without reading the full conversation.

CONTENT TO INCLUDE (MANDATORY):

1. **Chief Complaint**
   - Primary symptom(s)
   - Duration and progression (acute, subacute, chronic)
   - Triggering or relieving factors if mentioned

2. **History of Present Illness (HPI)**
   - Symptom chronology
   - Severity and pattern
   - Associated symptoms
   - Relevant negatives (important symptoms explicitly denied)

3. **Relevant Medical Context**
   - Past medical history if mentioned
   - Risk factors (e.g., age-related, vascular, infectious, metabolic)
   - Medication or treatment already taken (if any)

4. **Key Clinical Findings**
   - Red flags or alarming features
   - Localization clues
   - Pattern recognition suggesting specific diagnoses

5. **Differential Diagnosis (Prioritized)**
   - Most likely diagnosis first
   - 2–4 alternatives if relevant
   - Brief reasoning for each (one line max)

6. **Investigations / Workup**
   - Tests already done (if mentioned)
   - Tests that would be clinically indicated
   - Imaging/labs when relevant

7. **Assessment**
   - Clinical impression
   - Level of certainty (e.g., likely, possible, unclear)

8. **Current Plan / Next Steps**
   - Immediate management
   - Monitoring or follow-up
   - Escalation criteria

RULES (STRICT):
- Use professional medical terminology only
- No explanations for patients
- No emojis
- No conversational language
- No disclaimers
- No speculation beyond provided data
- Be concise but complete
- Write in bullet points or short paragraphs
- This summary will be stored as long-term clinical memory
`

// summaryCommandRE matches messages asking for a conversation summary.
// Substring match, not whole-word: "the summary of symptoms was normal"
// classifies as a summary command too. Documented behavior, kept as-is.
var summaryCommandRE = regexp.MustCompile(`(?i)summarize|summary|patient memory`)

// Message is one entry of a conversation transcript as supplied by the client.
type Message struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// IsSummaryCommand reports whether the message asks for a summary.
func IsSummaryCommand(message string) bool {
	return summaryCommandRE.MatchString(message)
}

// Chat composes the parts for an ordinary chat turn: the fixed system prompt
// followed by the user message. When memory is non-empty the message is
// prefixed with a labeled Clinical Memory block; otherwise it passes through
// unchanged.
func Chat(message, memory string) []gemini.Content {
	contextual := message
	if memory != "" {
		contextual = fmt.Sprintf("Clinical Memory:\n%s\n\nQuery:\n%s", memory, message)
	}
	return []gemini.Content{
		gemini.UserContent(SystemPrompt),
		gemini.UserContent(contextual),
	}
}

// Summary composes the parts for a summarize turn: the fixed summary prompt
// followed by the rendered transcript. An empty transcript renders to an
// empty body, which is valid — the model simply has nothing to condense.
func Summary(transcript []Message) []gemini.Content {
	return []gemini.Content{
		gemini.UserContent(SummaryPrompt),
		gemini.UserContent(renderTranscript(transcript)),
	}
}

// renderTranscript renders a transcript as newline-joined "ROLE: text" lines.
func renderTranscript(transcript []Message) string {
	lines := make([]string, 0, len(transcript))
	for _, m := range transcript {
		lines = append(lines, fmt.Sprintf("%s: %s", strings.ToUpper(m.Role), m.Text))
	}
	return strings.Join(lines, "\n")
}
