package types

// SourceKind records how a transcript was obtained.
type SourceKind string

const (
	SourceCaptions      SourceKind = "captions"
	SourceTranscription SourceKind = "transcription"
)

// Backend identifies which inference service produced an analysis.
type Backend string

const (
	BackendLocal  Backend = "local"
	BackendRemote Backend = "remote"
)

// CaptionTrack is one entry of a video's caption catalogue.
type CaptionTrack struct {
	LanguageCode string `json:"language_code"`
	Language     string `json:"language,omitempty"`
	IsGenerated  bool   `json:"is_generated"`
}

// Transcript is the text of a video, from captions or speech-to-text.
// Empty Text means failure regardless of how it was produced.
type Transcript struct {
	Text     string     `json:"text"`
	Source   SourceKind `json:"source,omitempty"`
	Language string     `json:"language,omitempty"`
}

// IsEmpty reports whether the transcript is unusable.
func (t Transcript) IsEmpty() bool { return t.Text == "" }

// Analysis is the LLM's answer to the instruction over a transcript.
type Analysis struct {
	Text    string  `json:"text"`
	Backend Backend `json:"backend,omitempty"`
}

// AcquireResult bundles the transcript with the caption catalogue seen
// during acquisition. FailureReason is set only when both the captions
// path and the media fallback failed terminally.
type AcquireResult struct {
	VideoID       string         `json:"video_id"`
	Transcript    Transcript     `json:"transcript"`
	Tracks        []CaptionTrack `json:"available_languages"`
	FailureReason string         `json:"failure_reason,omitempty"`
}

// ProcessResult is the composite value returned for one pipeline run.
type ProcessResult struct {
	VideoID            string         `json:"video_id"`
	AvailableLanguages []CaptionTrack `json:"available_languages"`
	Transcript         string         `json:"transcript"`
	TranscriptSource   SourceKind     `json:"transcript_source,omitempty"`
	Analysis           Analysis       `json:"analysis"`
	DurationMs         int64          `json:"duration_ms"`
	Error              string         `json:"error,omitempty"`
}
