package transcript

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"
	"video-insights-go/internal/config"
	"video-insights-go/internal/logger"
	"video-insights-go/internal/types"
	"video-insights-go/internal/videoid"
)

// CaptionSource lists and fetches platform-hosted caption tracks.
// Implementations degrade to empty results instead of returning errors.
type CaptionSource interface {
	ListTracks(ctx context.Context, id string) []types.CaptionTrack
	Fetch(ctx context.Context, id, lang string) types.Transcript
}

// MediaTranscriber produces a transcript from downloaded audio.
type MediaTranscriber interface {
	AcquireAndTranscribe(ctx context.Context, id, videoURL, workDir string) (types.Transcript, error)
}

// Acquirer implements the captions-first, transcription-fallback chain.
type Acquirer struct {
	captions   CaptionSource
	media      MediaTranscriber
	langPrefix string
	log        *logrus.Entry
}

func NewAcquirer(cfg config.Config, captions CaptionSource, media MediaTranscriber) *Acquirer {
	prefix := cfg.PreferredLangPrefix
	if prefix == "" {
		prefix = "zh"
	}
	return &Acquirer{
		captions:   captions,
		media:      media,
		langPrefix: prefix,
		log:        logger.Module("transcript"),
	}
}

// Acquire resolves the reference and returns the first usable transcript:
// a caption track when one exists and fetches non-empty, otherwise a
// speech-to-text transcription of the downloaded audio. langPrefix empty
// uses the configured preference. The only error returned is an invalid
// reference; a double terminal failure yields an empty transcript with
// FailureReason set so the caller decides whether that is fatal.
func (a *Acquirer) Acquire(ctx context.Context, reference, langPrefix string) (types.AcquireResult, error) {
	id, err := videoid.Extract(reference)
	if err != nil {
		return types.AcquireResult{}, err
	}
	if langPrefix == "" {
		langPrefix = a.langPrefix
	}
	log := a.log.WithField("video_id", id)

	tracks := a.captions.ListTracks(ctx, id)
	result := types.AcquireResult{VideoID: id, Tracks: tracks}

	if len(tracks) > 0 {
		lang := selectTrack(tracks, langPrefix)
		log.WithField("lang", lang).Info("fetching caption track")
		result.Transcript = a.captions.Fetch(ctx, id, lang)
	}

	if !result.Transcript.IsEmpty() {
		return result, nil
	}

	// Captions unavailable or empty: fall back to download + speech-to-text.
	// No other locale is retried first.
	log.Info("no usable captions, falling back to transcription")
	transcribed, mediaErr := a.media.AcquireAndTranscribe(ctx, id, reference, "")
	if mediaErr != nil || transcribed.IsEmpty() {
		log.WithError(mediaErr).Error("transcription fallback failed")
		reason := "transcription produced no text"
		if mediaErr != nil {
			reason = mediaErr.Error()
		}
		result.Transcript = types.Transcript{}
		result.FailureReason = reason
		return result, nil
	}

	result.Transcript = transcribed
	return result, nil
}

// selectTrack returns the first track whose language code carries the
// preferred prefix, else the first track in catalogue order.
func selectTrack(tracks []types.CaptionTrack, prefix string) string {
	for _, t := range tracks {
		if strings.HasPrefix(t.LanguageCode, prefix) {
			return t.LanguageCode
		}
	}
	return tracks[0].LanguageCode
}
