package model

import (
	"encoding/binary"
	"math"
	"testing"
)

// tone generates 16-bit PCM of a sine wave, used to simulate distinct voices.
func tone(freq float64, amplitude float64, samples int, rate float64) []byte {
	out := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		v := int16(amplitude * 32767 * math.Sin(2*math.Pi*freq*float64(i)/rate))
		binary.LittleEndian.PutUint16(out[i*2:], uint16(v))
	}
	return out
}

func TestWavFromPCMHeader(t *testing.T) {
	pcm := tone(440, 0.5, 16000, 16000)
	wav := wavFromPCM(pcm, 16000, 1)

	if got := string(wav[0:4]); got != "RIFF" {
		t.Fatalf("magic = %q, want RIFF", got)
	}
	if got := string(wav[8:12]); got != "WAVE" {
		t.Fatalf("format = %q, want WAVE", got)
	}
	if got := binary.LittleEndian.Uint32(wav[24:28]); got != 16000 {
		t.Fatalf("sample rate = %d, want 16000", got)
	}
	if got := binary.LittleEndian.Uint16(wav[22:24]); got != 1 {
		t.Fatalf("channels = %d, want 1", got)
	}
	if got := binary.LittleEndian.Uint32(wav[40:44]); got != uint32(len(pcm)) {
		t.Fatalf("data size = %d, want %d", got, len(pcm))
	}
	if len(wav) != 44+len(pcm) {
		t.Fatalf("total size = %d, want %d", len(wav), 44+len(pcm))
	}
}

func TestSpeakerTrackerStableIdentity(t *testing.T) {
	tr := newSpeakerTracker(0)

	voice := tone(200, 0.6, 32000, 16000)
	first := tr.identify(voice)
	second := tr.identify(voice)

	if first.SpeakerID != second.SpeakerID {
		t.Fatalf("same audio produced different speakers: %s vs %s", first.SpeakerID, second.SpeakerID)
	}
	if first.Role != "host" {
		t.Fatalf("first speaker role = %s, want host", first.Role)
	}
}

func TestSpeakerTrackerDistinguishesVoices(t *testing.T) {
	tr := newSpeakerTracker(0)

	a := tr.identify(tone(150, 0.7, 32000, 16000))
	b := tr.identify(tone(2000, 0.2, 32000, 16000))

	if a.SpeakerID == b.SpeakerID {
		t.Fatal("distinct audio mapped to the same speaker")
	}
	if b.Role != "participant" {
		t.Fatalf("second speaker role = %s, want participant", b.Role)
	}
	if got := len(tr.speakers()); got != 2 {
		t.Fatalf("tracked speakers = %d, want 2", got)
	}
}

func TestParseSummary(t *testing.T) {
	raw := "```json\n" + `{
		"summary": "Discussed the renewal terms.",
		"key_points": ["pricing", "timeline"],
		"decisions": ["renew for 12 months"],
		"confidence": 0.82
	}` + "\n```"

	sum, err := parseSummary(raw)
	if err != nil {
		t.Fatalf("parseSummary: %v", err)
	}
	if sum.SummaryText != "Discussed the renewal terms." {
		t.Errorf("summary = %q", sum.SummaryText)
	}
	if len(sum.KeyPoints) != 2 || len(sum.Decisions) != 1 {
		t.Errorf("key points/decisions = %d/%d, want 2/1", len(sum.KeyPoints), len(sum.Decisions))
	}
	if sum.Confidence != 0.82 {
		t.Errorf("confidence = %v, want 0.82", sum.Confidence)
	}
}

func TestParseSummaryRejectsEmpty(t *testing.T) {
	if _, err := parseSummary(`{"summary": "", "confidence": 0.9}`); err == nil {
		t.Fatal("expected error for empty summary text")
	}
	if _, err := parseSummary("not json at all"); err == nil {
		t.Fatal("expected error for malformed JSON")
	}
}

func TestParseActionItems(t *testing.T) {
	raw := `[
		{"description": "Send the proposal", "assignee": "Dana", "due_date": "Friday", "priority": "high", "confidence": 0.9, "source_text": "I'll send the proposal by Friday."},
		{"description": "", "priority": "low"},
		{"description": "Book follow-up", "priority": "someday", "confidence": 2.0}
	]`

	items, err := parseActionItems(raw)
	if err != nil {
		t.Fatalf("parseActionItems: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("items = %d, want 2 (empty description dropped)", len(items))
	}
	if items[0].Assignee != "Dana" || items[0].Priority != "high" {
		t.Errorf("first item = %+v", items[0])
	}
	// Unknown priority and out-of-range confidence fall back to defaults.
	if items[1].Priority != "medium" {
		t.Errorf("priority = %s, want medium fallback", items[1].Priority)
	}
	if items[1].Confidence != 0.5 {
		t.Errorf("confidence = %v, want 0.5 fallback", items[1].Confidence)
	}
}

func TestParseNextSteps(t *testing.T) {
	steps, err := parseNextSteps(`["Send recap email", "  ", "Schedule demo"]`)
	if err != nil {
		t.Fatalf("parseNextSteps: %v", err)
	}
	if len(steps) != 2 {
		t.Fatalf("steps = %d, want 2 (blank dropped)", len(steps))
	}
}
