package processor

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"video-insights-go/internal/logger"
	"video-insights-go/internal/types"
)

// NotPerformed is the analysis sentinel used when no analysis ran, either
// because the transcript was empty or the local backend failed.
const NotPerformed = "analysis not performed"

// DefaultInstruction is used when the caller supplies no prompt.
const DefaultInstruction = "Summarize the main content of this video."

// TranscriptAcquirer is the captions-first acquisition chain.
type TranscriptAcquirer interface {
	Acquire(ctx context.Context, reference, langPrefix string) (types.AcquireResult, error)
}

// LocalBackend is the default analysis backend of the façade.
type LocalBackend interface {
	AnalyzeLocal(ctx context.Context, transcript types.Transcript, instruction string) (types.Analysis, error)
}

// Processor composes acquisition and analysis into one best-effort run.
type Processor struct {
	acquirer TranscriptAcquirer
	analyzer LocalBackend
	log      *logrus.Entry
}

func New(acquirer TranscriptAcquirer, analyzer LocalBackend) *Processor {
	return &Processor{
		acquirer: acquirer,
		analyzer: analyzer,
		log:      logger.Module("processor"),
	}
}

// Process acquires a transcript for the reference and analyzes it with the
// local backend. It always returns a composite result; analysis failures
// collapse to the NotPerformed sentinel, and only an invalid reference is
// returned as an error.
func (p *Processor) Process(ctx context.Context, reference, instruction string) (types.ProcessResult, error) {
	start := time.Now()
	if instruction == "" {
		instruction = DefaultInstruction
	}

	acq, err := p.acquirer.Acquire(ctx, reference, "")
	if err != nil {
		return types.ProcessResult{}, err
	}

	res := types.ProcessResult{
		VideoID:            acq.VideoID,
		AvailableLanguages: acq.Tracks,
		Transcript:         acq.Transcript.Text,
		TranscriptSource:   acq.Transcript.Source,
		Analysis:           types.Analysis{Text: NotPerformed},
		Error:              acq.FailureReason,
	}
	log := p.log.WithField("video_id", acq.VideoID)

	if !acq.Transcript.IsEmpty() {
		analysis, err := p.analyzer.AnalyzeLocal(ctx, acq.Transcript, instruction)
		if err != nil {
			log.WithError(err).Warn("local analysis failed, returning transcript without analysis")
		} else {
			res.Analysis = analysis
		}
	}

	res.DurationMs = time.Since(start).Milliseconds()
	log.WithField("duration_ms", res.DurationMs).
		WithField("source", res.TranscriptSource).
		Info("pipeline run finished")
	return res, nil
}
