package redact

import "strings"

// StreamFilter screens output that is emitted token-by-token. Individual
// chunks are checked with the cheap prefix heuristic so obvious credentials
// never hit the wire, while every chunk is also accumulated so the full rule
// set can run over the assembled text at completion. A secret split across
// chunk boundaries may evade the per-chunk check; Leaked detects that after
// the fact so the emission can be reported.
type StreamFilter struct {
	buf     strings.Builder
	emitted strings.Builder
	flagged bool
}

// NewStreamFilter creates an empty stream filter.
func NewStreamFilter() *StreamFilter {
	return &StreamFilter{}
}

// Scan records a streamed chunk and returns what should be emitted in its
// place: the chunk itself, or the redaction marker when the per-chunk
// heuristic trips.
func (f *StreamFilter) Scan(chunk string) string {
	f.buf.WriteString(chunk)
	out := chunk
	if LooksSensitive(chunk) {
		f.flagged = true
		out = Marker
	}
	f.emitted.WriteString(out)
	return out
}

// Flagged reports whether any chunk tripped the per-chunk heuristic.
func (f *StreamFilter) Flagged() bool {
	return f.flagged
}

// Leaked reports whether the text actually emitted still matches the full
// rule set, i.e. a secret straddled chunk boundaries and went out despite
// the per-chunk check. The bytes are already on the wire by then; callers
// use this to raise the alarm, not to unsend.
func (f *StreamFilter) Leaked() bool {
	return ContainsSensitive(f.emitted.String())
}

// Final returns the accumulated text with the full rule set applied. This
// is the authoritative result; callers persisting or post-processing the
// streamed output must use it, not the emitted chunks.
func (f *StreamFilter) Final() string {
	return Filter(f.buf.String())
}
