package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"
	"video-insights-go/internal/analysis"
	"video-insights-go/internal/captions"
	"video-insights-go/internal/config"
	"video-insights-go/internal/logger"
	"video-insights-go/internal/media"
	"video-insights-go/internal/processor"
	"video-insights-go/internal/report"
	"video-insights-go/internal/transcript"
	"video-insights-go/internal/types"
)

// pipelineRunner is what the process handler needs from the façade.
type pipelineRunner interface {
	Process(ctx context.Context, reference, instruction string) (types.ProcessResult, error)
}

// artifactSaver persists a run's transcript and analysis artifacts.
type artifactSaver interface {
	Save(res types.ProcessResult) (string, string, error)
}

func main() {
	_ = godotenv.Load() // loads .env

	log := logger.New()
	log.WithField("service", "video-insights-go").Info("starting service")

	cfg := config.FromEnv()
	acquirer := transcript.NewAcquirer(cfg, captions.NewClient(cfg), media.NewDownloader(cfg))
	proc := processor.New(acquirer, analysis.NewAnalyzer(cfg))

	var reporter artifactSaver
	if cfg.OutputDir != "" {
		reporter = report.NewWriter(cfg.OutputDir)
		log.WithField("output_dir", cfg.OutputDir).Info("persisting run artifacts")
	}

	addr := fmt.Sprintf(":%s", envOr("PORT", "8080"))
	srv := &http.Server{
		Addr:         addr,
		Handler:      newMux(proc, reporter),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 10 * time.Minute, // a whisper run can block the whole pipeline
		IdleTimeout:  120 * time.Second,
	}
	log.WithField("addr", addr).Info("listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.WithError(err).Fatal("server terminated")
	}
}

// newMux wires the HTTP surface. reporter may be nil to disable artifact
// persistence.
func newMux(proc pipelineRunner, reporter artifactSaver) http.Handler {
	mux := http.NewServeMux()

	// health
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		logger.New().WithRequest(r).Info("health check")
		fmt.Fprint(w, "ok")
	})

	// process endpoint
	mux.HandleFunc("/process", func(w http.ResponseWriter, r *http.Request) {
		reqLog := logger.New().WithRequest(r).WithField("handler", "process")
		reqLog.Info("process request received")

		videoURL := r.URL.Query().Get("video_url")
		if videoURL == "" {
			reqLog.Warn("missing video_url")
			http.Error(w, "missing video_url", http.StatusBadRequest)
			return
		}
		prompt := r.URL.Query().Get("prompt")
		reqLog = reqLog.WithField("video_url", videoURL)

		start := time.Now()
		res, err := proc.Process(r.Context(), videoURL, prompt)
		reqLog.WithField("duration_ms", time.Since(start).Milliseconds()).Info("processor finished")
		if err != nil {
			reqLog.WithError(err).Warn("invalid video reference")
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		if reporter != nil {
			transcriptPath, analysisPath, err := reporter.Save(res)
			if err != nil {
				reqLog.WithError(err).Warn("could not persist run artifacts")
			} else {
				reqLog.WithField("transcript_path", transcriptPath).
					WithField("analysis_path", analysisPath).
					Info("run artifacts saved")
			}
		}

		w.Header().Set("Content-Type", "application/json")
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(res); err != nil {
			reqLog.WithError(err).Error("failed to write response")
		}
	})

	return mux
}

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
