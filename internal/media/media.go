package media

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"video-insights-go/internal/config"
	"video-insights-go/internal/logger"
	"video-insights-go/internal/types"
)

// Pipeline stages for error reporting.
const (
	StageDependencies = "dependencies"
	StageDownload     = "download"
	StageMedia        = "media"
	StageTranscribe   = "transcribe"
)

// StageError is a stage-aware failure of the media pipeline.
type StageError struct {
	Stage   string
	Message string
	Hint    string
	Err     error
}

func (e *StageError) Error() string {
	if e.Hint != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Stage, e.Message, e.Hint)
	}
	return fmt.Sprintf("%s: %s", e.Stage, e.Message)
}

func (e *StageError) Unwrap() error { return e.Err }

// IsMissingDependency reports whether err is a missing external tool.
func IsMissingDependency(err error) bool {
	var se *StageError
	return errors.As(err, &se) && se.Stage == StageDependencies
}

// IsMediaNotFound reports whether err means the audio artifact never
// appeared on disk.
func IsMediaNotFound(err error) bool {
	var se *StageError
	return errors.As(err, &se) && se.Stage == StageMedia
}

// commandResult captures one external command invocation.
type commandResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// commandRunner abstracts process execution for testability.
type commandRunner interface {
	Run(ctx context.Context, name string, args ...string) (commandResult, error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) (commandResult, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := commandResult{Stdout: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		result.ExitCode = -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		}
		return result, err
	}
	return result, nil
}

// Downloader obtains a local audio asset for a video and converts it to
// text. All OS touchpoints are injectable so tests can stub processes.
type Downloader struct {
	cfg    config.Config
	runner commandRunner
	http   *http.Client
	log    *logrus.Entry

	lookPath  func(string) (string, error)
	stat      func(string) (os.FileInfo, error)
	mkdirTemp func(dir, pattern string) (string, error)
	mkdirAll  func(string, os.FileMode) error
	readDir   func(string) ([]os.DirEntry, error)
	readFile  func(string) ([]byte, error)
	writeFile func(string, []byte, os.FileMode) error
	remove    func(string) error
	removeAll func(string) error
}

func NewDownloader(cfg config.Config) *Downloader {
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Downloader{
		cfg:       cfg,
		runner:    execRunner{},
		http:      &http.Client{Timeout: timeout},
		log:       logger.Module("media"),
		lookPath:  exec.LookPath,
		stat:      os.Stat,
		mkdirTemp: os.MkdirTemp,
		mkdirAll:  os.MkdirAll,
		readDir:   os.ReadDir,
		readFile:  os.ReadFile,
		writeFile: os.WriteFile,
		remove:    os.Remove,
		removeAll: os.RemoveAll,
	}
}

// AcquireAndTranscribe downloads the best-audio stream for a video,
// normalizes it to mp3, and transcribes it. workDir empty means a temp
// directory keyed by the video id; a caller-provided workDir keeps the
// artifacts afterwards.
func (d *Downloader) AcquireAndTranscribe(ctx context.Context, id, videoURL, workDir string) (types.Transcript, error) {
	log := d.log.WithField("video_id", id)

	// Fail fast before touching the network when the transcoder is absent.
	if _, err := d.lookPath(d.cfg.FFmpegPath); err != nil {
		return types.Transcript{}, &StageError{
			Stage:   StageDependencies,
			Message: fmt.Sprintf("%s not found in PATH", d.cfg.FFmpegPath),
			Hint:    "install ffmpeg and retry; on macOS: brew install ffmpeg",
			Err:     err,
		}
	}

	if workDir == "" {
		dir, err := d.mkdirTemp("", "video-insights-"+id+"-*")
		if err != nil {
			return types.Transcript{}, &StageError{Stage: StageDownload, Message: "cannot create scratch directory", Err: err}
		}
		workDir = dir
		// Artifacts survive only in a caller-provided work directory.
		defer func() {
			if err := d.removeAll(dir); err != nil {
				log.WithError(err).Debug("could not remove scratch directory")
			}
		}()
	} else if err := d.mkdirAll(workDir, 0o755); err != nil {
		return types.Transcript{}, &StageError{Stage: StageDownload, Message: fmt.Sprintf("cannot create work directory %s", workDir), Err: err}
	}

	audioPath := filepath.Join(workDir, id+".mp3")

	if err := d.downloadAudio(ctx, id, videoURL, workDir, audioPath, log); err != nil {
		return types.Transcript{}, err
	}

	if _, err := d.stat(audioPath); err != nil {
		return types.Transcript{}, &StageError{
			Stage:   StageMedia,
			Message: fmt.Sprintf("audio artifact missing after download: %s", audioPath),
			Err:     err,
		}
	}

	textPath := filepath.Join(workDir, id+".txt")
	text, err := d.transcribe(ctx, audioPath, textPath, workDir, log)
	if err != nil {
		return types.Transcript{}, err
	}

	return types.Transcript{Text: text, Source: types.SourceTranscription}, nil
}

// downloadAudio tries the two-step download-then-convert path, then a
// combined extract-audio command as second attempt.
func (d *Downloader) downloadAudio(ctx context.Context, id, videoURL, workDir, audioPath string, log *logrus.Entry) error {
	primaryErr := d.downloadAndConvert(ctx, id, videoURL, workDir, audioPath)
	if primaryErr == nil {
		return nil
	}
	log.WithError(primaryErr).Warn("download-then-convert failed, trying combined extraction")

	_, err := d.run(ctx, d.cfg.YTDLPPath,
		"--extract-audio",
		"--audio-format", "mp3",
		"--audio-quality", "0",
		"-o", audioPath,
		videoURL,
	)
	if err != nil {
		return &StageError{
			Stage:   StageDownload,
			Message: "both download strategies failed",
			Err:     errors.Join(primaryErr, err),
		}
	}
	return nil
}

func (d *Downloader) downloadAndConvert(ctx context.Context, id, videoURL, workDir, audioPath string) error {
	_, err := d.run(ctx, d.cfg.YTDLPPath,
		"-f", "bestaudio",
		"-o", filepath.Join(workDir, id+".%(ext)s"),
		videoURL,
	)
	if err != nil {
		return fmt.Errorf("best-audio download: %w", err)
	}

	raw, err := d.findDownloaded(workDir, id, audioPath)
	if err != nil {
		return err
	}

	if _, err := d.run(ctx, d.cfg.FFmpegPath, "-i", raw, "-q:a", "0", "-map", "a", audioPath, "-y"); err != nil {
		return fmt.Errorf("mp3 conversion: %w", err)
	}
	if err := d.remove(raw); err != nil {
		d.log.WithError(err).Debug("could not remove raw download")
	}
	return nil
}

// findDownloaded locates the raw best-audio file yt-dlp wrote for id.
// Transcript artifacts from an earlier run in the same work directory are
// not download candidates.
func (d *Downloader) findDownloaded(workDir, id, audioPath string) (string, error) {
	entries, err := d.readDir(workDir)
	if err != nil {
		return "", fmt.Errorf("scan work directory: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasPrefix(name, id) || filepath.Ext(name) == ".txt" {
			continue
		}
		if filepath.Join(workDir, name) != audioPath {
			return filepath.Join(workDir, name), nil
		}
	}
	return "", fmt.Errorf("downloaded audio not found in %s", workDir)
}

// transcribe walks the ordered strategy list until one yields non-empty
// text at textPath.
func (d *Downloader) transcribe(ctx context.Context, audioPath, textPath, workDir string, log *logrus.Entry) (string, error) {
	type attempt struct {
		name string
		err  error
	}
	strategies := []struct {
		name string
		run  func() error
	}{
		{"whisper-cli", func() error { return d.transcribeCLI(ctx, audioPath, workDir) }},
		{"whisper-server", func() error { return d.transcribeServer(ctx, audioPath, textPath) }},
	}

	var attempts []attempt
	for _, s := range strategies {
		if err := s.run(); err != nil {
			log.WithField("strategy", s.name).WithError(err).Warn("transcription strategy failed")
			attempts = append(attempts, attempt{s.name, err})
			continue
		}
		content, err := d.readFile(textPath)
		if err != nil || len(strings.TrimSpace(string(content))) == 0 {
			attempts = append(attempts, attempt{s.name, fmt.Errorf("no transcript text at %s", textPath)})
			continue
		}
		return strings.TrimSpace(string(content)), nil
	}

	msgs := make([]string, 0, len(attempts))
	for _, a := range attempts {
		msgs = append(msgs, fmt.Sprintf("%s: %v", a.name, a.err))
	}
	return "", &StageError{
		Stage:   StageTranscribe,
		Message: "all transcription strategies failed: " + strings.Join(msgs, "; "),
	}
}

// transcribeCLI shells out to the whisper CLI, which writes <id>.txt into
// the output directory itself.
func (d *Downloader) transcribeCLI(ctx context.Context, audioPath, workDir string) error {
	_, err := d.run(ctx, d.cfg.WhisperPath,
		audioPath,
		"--model", d.cfg.WhisperModel,
		"--language", "auto",
		"--output_dir", workDir,
		"--output_format", "txt",
	)
	return err
}

// transcribeServer uploads the audio to a local transcription server and
// persists the returned text to the path the CLI would have written.
func (d *Downloader) transcribeServer(ctx context.Context, audioPath, textPath string) error {
	audio, err := d.readFile(audioPath)
	if err != nil {
		return fmt.Errorf("read audio: %w", err)
	}

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("audio_file", filepath.Base(audioPath))
	if err != nil {
		return err
	}
	if _, err := part.Write(audio); err != nil {
		return err
	}
	_ = w.WriteField("model", d.cfg.WhisperModel)
	_ = w.Close()

	url := strings.TrimRight(d.cfg.TranscribeURL, "/") + "/asr"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := d.http.Do(req)
	if err != nil {
		return fmt.Errorf("transcription server: %w", err)
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("transcription server: status %d: %s", resp.StatusCode, respBody)
	}

	var out struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(respBody, &out); err != nil {
		return fmt.Errorf("transcription server: %w", err)
	}
	if strings.TrimSpace(out.Text) == "" {
		return fmt.Errorf("transcription server returned empty text")
	}
	return d.writeFile(textPath, []byte(out.Text), 0o644)
}

// run executes one command, honoring the configured subprocess timeout.
func (d *Downloader) run(ctx context.Context, name string, args ...string) (commandResult, error) {
	if d.cfg.SubprocessTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.SubprocessTimeout)
		defer cancel()
	}
	res, err := d.runner.Run(ctx, name, args...)
	if err != nil {
		return res, fmt.Errorf("%s: exit=%d: %w: %s", name, res.ExitCode, err, strings.TrimSpace(res.Stderr))
	}
	return res, nil
}
