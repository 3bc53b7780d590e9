package transcription

import (
	"strings"
	"time"

	"github.com/meetwren/wren/internal/domain"
)

// DefaultMergeGap is the largest silence between two chunks of the same
// speaker that still merges them into one utterance.
const DefaultMergeGap = 3 * time.Second

// MergeChunks collapses consecutive chunks by the same speaker into single
// utterances. Chunks merge when the next chunk starts within maxGap of the
// previous chunk's end; a speaker change or a longer pause starts a new
// utterance. The merged chunk keeps the first chunk's id and start time,
// the last chunk's end time and finality, and the mean confidence of its
// parts.
//
// The input is not modified. A maxGap of zero merges only back-to-back
// chunks; a negative maxGap uses [DefaultMergeGap].
func MergeChunks(chunks []domain.TranscriptChunk, maxGap time.Duration) []domain.TranscriptChunk {
	if maxGap < 0 {
		maxGap = DefaultMergeGap
	}
	if len(chunks) == 0 {
		return nil
	}

	out := make([]domain.TranscriptChunk, 0, len(chunks))
	cur := chunks[0]
	texts := []string{cur.Text}
	confSum := cur.Confidence
	confN := 1

	flush := func() {
		cur.Text = strings.Join(texts, " ")
		cur.Confidence = confSum / float64(confN)
		out = append(out, cur)
	}

	for _, next := range chunks[1:] {
		sameSpeaker := next.SpeakerID == cur.SpeakerID
		gap := next.StartTime.Sub(cur.EndTime)

		if sameSpeaker && gap <= maxGap {
			texts = append(texts, next.Text)
			cur.EndTime = next.EndTime
			cur.IsFinal = next.IsFinal
			confSum += next.Confidence
			confN++
			continue
		}

		flush()
		cur = next
		texts = []string{next.Text}
		confSum = next.Confidence
		confN = 1
	}

	flush()
	return out
}

// TranscriptText renders chunks as speaker-labelled lines, the form the
// summary stage feeds to the language model. Speakers missing from the map
// are labelled by their raw id.
func TranscriptText(chunks []domain.TranscriptChunk, speakers []domain.Speaker) string {
	names := make(map[string]string, len(speakers))
	for _, sp := range speakers {
		if sp.Name != "" {
			names[sp.SpeakerID] = sp.Name
		}
	}

	var sb strings.Builder
	for _, c := range chunks {
		name, ok := names[c.SpeakerID]
		if !ok {
			name = c.SpeakerID
		}
		sb.WriteString(name)
		sb.WriteString(": ")
		sb.WriteString(c.Text)
		sb.WriteString("\n")
	}
	return sb.String()
}
