package domain

import "strings"

// Speaker roles recognised in transcripts.
const (
	SpeakerAgent   = "agent"
	SpeakerContact = "contact"
)

// TranscriptLine is one speaker turn after consecutive-speaker merging.
type TranscriptLine struct {
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
}

var speakerAliases = map[string]string{
	"ai":        SpeakerAgent,
	"agent":     SpeakerAgent,
	"assistant": SpeakerAgent,
	"bot":       SpeakerAgent,
	"user":      SpeakerContact,
	"customer":  SpeakerContact,
	"human":     SpeakerContact,
	"contact":   SpeakerContact,
	"lead":      SpeakerContact,
}

// ParseTranscript splits a raw "Speaker: text" transcript into
// speaker-tagged lines. Lines without a recognised speaker prefix continue
// the previous turn, and consecutive turns by the same speaker are merged.
func ParseTranscript(raw string) []TranscriptLine {
	var turns []TranscriptLine
	for _, line := range strings.Split(strings.ReplaceAll(raw, "\r\n", "\n"), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		speaker, text, ok := splitSpeaker(line)
		if !ok {
			if len(turns) == 0 {
				turns = append(turns, TranscriptLine{Speaker: SpeakerAgent, Text: line})
				continue
			}
			turns[len(turns)-1].Text = joinText(turns[len(turns)-1].Text, line)
			continue
		}
		turns = append(turns, TranscriptLine{Speaker: speaker, Text: text})
	}
	return MergeTurns(turns)
}

// MergeTurns joins consecutive turns spoken by the same speaker.
func MergeTurns(turns []TranscriptLine) []TranscriptLine {
	merged := make([]TranscriptLine, 0, len(turns))
	for _, t := range turns {
		if t.Text == "" {
			continue
		}
		if n := len(merged); n > 0 && merged[n-1].Speaker == t.Speaker {
			merged[n-1].Text = joinText(merged[n-1].Text, t.Text)
			continue
		}
		merged = append(merged, t)
	}
	return merged
}

func splitSpeaker(line string) (string, string, bool) {
	idx := strings.Index(line, ":")
	if idx <= 0 || idx > 20 {
		return "", "", false
	}
	label := strings.ToLower(strings.TrimSpace(line[:idx]))
	role, ok := speakerAliases[label]
	if !ok {
		return "", "", false
	}
	return role, strings.TrimSpace(line[idx+1:]), true
}

func joinText(a, b string) string {
	if a == "" {
		return b
	}
	if b == "" {
		return a
	}
	return a + " " + b
}
