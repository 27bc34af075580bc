package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"video-insights-go/internal/config"
	"video-insights-go/internal/logger"
	"video-insights-go/internal/types"
)

// ErrNoTranscript is returned before any network call when the transcript
// precondition fails.
var ErrNoTranscript = errors.New("no transcript to analyze")

// BackendError is a non-200 or transport failure from an inference
// endpoint. Body carries the response body verbatim.
type BackendError struct {
	Backend    types.Backend
	StatusCode int
	Body       string
	Err        error
}

func (e *BackendError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s backend: %v", e.Backend, e.Err)
	}
	return fmt.Sprintf("%s backend: status %d: %s", e.Backend, e.StatusCode, e.Body)
}

func (e *BackendError) Unwrap() error { return e.Err }

// Analyzer turns transcript + instruction into analysis text. The local
// backend is always the first choice; the remote paid backend is a
// distinct entry point the caller invokes explicitly with an API key.
type Analyzer struct {
	cfg  config.Config
	http *http.Client
	log  *logrus.Entry
}

func NewAnalyzer(cfg config.Config) *Analyzer {
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Analyzer{
		cfg:  cfg,
		http: &http.Client{Timeout: timeout},
		log:  logger.Module("analysis"),
	}
}

// AnalyzeLocal sends a single non-streaming generate request to the local
// inference service. There is no automatic retry against the remote
// backend: a local failure is surfaced so the caller can decide to supply
// an API key and call AnalyzeRemote.
func (a *Analyzer) AnalyzeLocal(ctx context.Context, transcript types.Transcript, instruction string) (types.Analysis, error) {
	if transcript.IsEmpty() {
		return types.Analysis{}, ErrNoTranscript
	}

	payload := map[string]any{
		"model":  a.cfg.LocalLLMModel,
		"prompt": buildPrompt(transcript, instruction),
		"stream": false,
	}
	body, status, err := a.post(ctx, strings.TrimRight(a.cfg.LocalLLMURL, "/")+"/api/generate", nil, payload)
	if err != nil {
		a.log.WithError(err).Warn("local backend unreachable; a remote API key may be supplied instead")
		return types.Analysis{}, &BackendError{Backend: types.BackendLocal, Err: err}
	}
	if status != http.StatusOK {
		a.log.WithField("status", status).Warn("local backend failed; a remote API key may be supplied instead")
		return types.Analysis{}, &BackendError{Backend: types.BackendLocal, StatusCode: status, Body: string(body)}
	}

	var out struct {
		Response string `json:"response"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return types.Analysis{}, &BackendError{Backend: types.BackendLocal, Err: fmt.Errorf("decode response: %w", err)}
	}
	return types.Analysis{Text: out.Response, Backend: types.BackendLocal}, nil
}

// AnalyzeRemote calls the paid messages API with the low-cost model tier,
// a 500-token cap and low temperature for deterministic answers.
func (a *Analyzer) AnalyzeRemote(ctx context.Context, transcript types.Transcript, instruction, apiKey string) (types.Analysis, error) {
	if transcript.IsEmpty() {
		return types.Analysis{}, ErrNoTranscript
	}
	if apiKey == "" {
		return types.Analysis{}, fmt.Errorf("remote backend requires an API key")
	}

	headers := map[string]string{
		"x-api-key":         apiKey,
		"anthropic-version": a.cfg.RemoteAPIVersion,
	}
	payload := map[string]any{
		"model": a.cfg.RemoteLLMModel,
		"messages": []map[string]string{
			{"role": "user", "content": buildPrompt(transcript, instruction)},
		},
		"max_tokens":  500,
		"temperature": 0.3,
	}
	body, status, err := a.post(ctx, a.cfg.RemoteLLMURL, headers, payload)
	if err != nil {
		return types.Analysis{}, &BackendError{Backend: types.BackendRemote, Err: err}
	}
	if status != http.StatusOK {
		return types.Analysis{}, &BackendError{Backend: types.BackendRemote, StatusCode: status, Body: string(body)}
	}

	var out struct {
		Content []struct {
			Text string `json:"text"`
		} `json:"content"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return types.Analysis{}, &BackendError{Backend: types.BackendRemote, Err: fmt.Errorf("decode response: %w", err)}
	}
	if len(out.Content) == 0 {
		return types.Analysis{}, &BackendError{Backend: types.BackendRemote, Err: fmt.Errorf("empty content in response")}
	}
	return types.Analysis{Text: out.Content[0].Text, Backend: types.BackendRemote}, nil
}

func (a *Analyzer) post(ctx context.Context, url string, headers map[string]string, payload any) ([]byte, int, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := a.http.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return body, resp.StatusCode, nil
}

func buildPrompt(transcript types.Transcript, instruction string) string {
	return fmt.Sprintf("The following is the transcript of a video:\n\n%s\n\n%s", transcript.Text, instruction)
}
