package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDedupKeyNormalizesPhoneAndName(t *testing.T) {
	a := Contact{Phone: "+91 12345-67890", Name: "  Asha   Rao "}
	b := Contact{Phone: "+911234567890", Name: "asha rao"}
	assert.Equal(t, a.DedupKey(), b.DedupKey())

	c := Contact{Phone: "+911234567890", Name: "Someone Else"}
	assert.NotEqual(t, a.DedupKey(), c.DedupKey())
}

func TestUniqueContactsKeepsFirstOccurrence(t *testing.T) {
	contacts := []Contact{
		{ID: "1", Phone: "+911234567890", Name: "A"},
		{ID: "2", Phone: "+15550000001", Name: "B"},
		{ID: "3", Phone: "+911234567890", Name: "A"},
	}

	out := UniqueContacts(contacts)
	require.Len(t, out, 2)
	assert.Equal(t, "1", out[0].ID)
	assert.Equal(t, "2", out[1].ID)
}

func TestProgressNeverExceedsOne(t *testing.T) {
	cases := []struct {
		total, made int
		want        float64
	}{
		{total: 0, made: 5, want: 0},
		{total: 4, made: 0, want: 0},
		{total: 4, made: 2, want: 0.5},
		{total: 4, made: 4, want: 1},
		{total: 4, made: 9, want: 1},
		{total: 4, made: -1, want: 0},
	}
	for _, tc := range cases {
		assert.InDelta(t, tc.want, Progress(tc.total, tc.made), 1e-9, "total=%d made=%d", tc.total, tc.made)
	}
}

func TestIdentityKeyFallbacks(t *testing.T) {
	started := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	withDoc := MergedCallLogEntry{DocumentID: "d1", ContactID: "c1", Phone: "+1"}
	assert.Equal(t, "doc:d1", withDoc.IdentityKey())

	withContact := MergedCallLogEntry{ContactID: "c1", Phone: "+1"}
	assert.Equal(t, "contact:c1", withContact.IdentityKey())

	phoneOnly := MergedCallLogEntry{Phone: "+1 555 0100", StartedAt: started}
	again := MergedCallLogEntry{Phone: "+15550100", StartedAt: started}
	assert.Equal(t, phoneOnly.IdentityKey(), again.IdentityKey())
}

func TestMissedConflatesFailureStatuses(t *testing.T) {
	for _, s := range []CallLogStatus{CallLogMissed, CallLogNotConnected, CallLogFailed} {
		assert.True(t, s.IsMissed(), string(s))
		assert.False(t, s.IsConnected(), string(s))
	}
	for _, s := range []CallLogStatus{CallLogConnected, CallLogCompleted} {
		assert.True(t, s.IsConnected(), string(s))
	}
	assert.True(t, CallLogRinging.InProgress())
}

func TestParseDisposition(t *testing.T) {
	assert.Equal(t, DispositionNotInterested, ParseDisposition("NOT_INTERESTED"))
	assert.Equal(t, DispositionInterested, ParseDisposition(" Interested "))
	assert.Equal(t, DispositionMaybe, ParseDisposition("maybe"))
	assert.Equal(t, DispositionDefault, ParseDisposition("callback later"))
}

func TestParseTranscriptMergesConsecutiveSpeakers(t *testing.T) {
	raw := "AI: Hello, this is Riya.\nUser: Hi\nUser: who is this?\ncontinuing the thought\nAssistant: Calling about your order.\n\n"

	lines := ParseTranscript(raw)
	require.Len(t, lines, 3)
	assert.Equal(t, TranscriptLine{Speaker: SpeakerAgent, Text: "Hello, this is Riya."}, lines[0])
	assert.Equal(t, TranscriptLine{Speaker: SpeakerContact, Text: "Hi who is this? continuing the thought"}, lines[1])
	assert.Equal(t, SpeakerAgent, lines[2].Speaker)
}

func TestParseTranscriptEmpty(t *testing.T) {
	assert.Empty(t, ParseTranscript(""))
	assert.Empty(t, ParseTranscript("\n  \n"))
}
