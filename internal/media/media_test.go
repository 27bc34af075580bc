package media

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"video-insights-go/internal/config"
	"video-insights-go/internal/logger"
	"video-insights-go/internal/types"
)

const testID = "3MjS9w60MMw"

// fakeRunner scripts command outcomes per invocation.
type fakeRunner struct {
	t     *testing.T
	calls []string
	run   func(call int, name string, args []string) (commandResult, error)
}

func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) (commandResult, error) {
	f.calls = append(f.calls, name+" "+strings.Join(args, " "))
	if f.run == nil {
		return commandResult{}, nil
	}
	return f.run(len(f.calls), name, args)
}

func testDownloader(cfg config.Config, runner commandRunner) *Downloader {
	d := NewDownloader(cfg)
	d.runner = runner
	d.log = logger.Module("media-test")
	return d
}

func defaultConfig() config.Config {
	return config.Config{
		YTDLPPath:    "yt-dlp",
		FFmpegPath:   "ffmpeg",
		WhisperPath:  "whisper",
		WhisperModel: "medium",
	}
}

func mustWrite(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestMissingFFmpegFailsBeforeDownload(t *testing.T) {
	runner := &fakeRunner{t: t}
	d := testDownloader(defaultConfig(), runner)
	d.lookPath = func(string) (string, error) { return "", errors.New("not found") }

	_, err := d.AcquireAndTranscribe(context.Background(), testID, "https://youtu.be/"+testID, t.TempDir())
	require.Error(t, err)
	require.True(t, IsMissingDependency(err))
	require.Contains(t, err.Error(), "ffmpeg")
	require.Empty(t, runner.calls, "no command may run before the dependency check")
}

func TestPrimaryDownloadAndCLITranscription(t *testing.T) {
	dir := t.TempDir()
	runner := &fakeRunner{t: t}
	runner.run = func(call int, name string, args []string) (commandResult, error) {
		switch call {
		case 1: // yt-dlp best-audio download
			require.Equal(t, "yt-dlp", name)
			require.Contains(t, args, "bestaudio")
			mustWrite(t, filepath.Join(dir, testID+".webm"), "raw audio")
			return commandResult{}, nil
		case 2: // ffmpeg conversion
			require.Equal(t, "ffmpeg", name)
			mustWrite(t, filepath.Join(dir, testID+".mp3"), "mp3 audio")
			return commandResult{}, nil
		case 3: // whisper CLI
			require.Equal(t, "whisper", name)
			require.Contains(t, args, "--model")
			require.Contains(t, args, "medium")
			require.Contains(t, args, "auto")
			mustWrite(t, filepath.Join(dir, testID+".txt"), "hello from whisper\n")
			return commandResult{}, nil
		default:
			t.Fatalf("unexpected command call %d: %s %v", call, name, args)
			return commandResult{}, nil
		}
	}

	d := testDownloader(defaultConfig(), runner)
	d.lookPath = func(string) (string, error) { return "/usr/bin/ffmpeg", nil }

	tr, err := d.AcquireAndTranscribe(context.Background(), testID, "https://youtu.be/"+testID, dir)
	require.NoError(t, err)
	require.Equal(t, "hello from whisper", tr.Text)
	require.Equal(t, types.SourceTranscription, tr.Source)
	require.Len(t, runner.calls, 3)

	_, statErr := os.Stat(filepath.Join(dir, testID+".webm"))
	require.True(t, errors.Is(statErr, os.ErrNotExist), "raw download should be removed")
}

func TestDownloadFallsBackToCombinedExtraction(t *testing.T) {
	dir := t.TempDir()
	runner := &fakeRunner{t: t}
	runner.run = func(call int, name string, args []string) (commandResult, error) {
		switch call {
		case 1: // primary download fails
			return commandResult{ExitCode: 1, Stderr: "network error"}, errors.New("exit status 1")
		case 2: // combined extract-audio fallback
			require.Equal(t, "yt-dlp", name)
			require.Contains(t, args, "--extract-audio")
			mustWrite(t, filepath.Join(dir, testID+".mp3"), "mp3 audio")
			return commandResult{}, nil
		case 3: // whisper CLI
			mustWrite(t, filepath.Join(dir, testID+".txt"), "transcribed text")
			return commandResult{}, nil
		default:
			t.Fatalf("unexpected command call %d", call)
			return commandResult{}, nil
		}
	}

	d := testDownloader(defaultConfig(), runner)
	d.lookPath = func(string) (string, error) { return "/usr/bin/ffmpeg", nil }

	tr, err := d.AcquireAndTranscribe(context.Background(), testID, "https://youtu.be/"+testID, dir)
	require.NoError(t, err)
	require.Equal(t, "transcribed text", tr.Text)
}

func TestBothDownloadStrategiesFail(t *testing.T) {
	runner := &fakeRunner{t: t}
	runner.run = func(call int, name string, args []string) (commandResult, error) {
		return commandResult{ExitCode: 1}, errors.New("exit status 1")
	}

	d := testDownloader(defaultConfig(), runner)
	d.lookPath = func(string) (string, error) { return "/usr/bin/ffmpeg", nil }

	_, err := d.AcquireAndTranscribe(context.Background(), testID, "https://youtu.be/"+testID, t.TempDir())
	require.Error(t, err)
	var se *StageError
	require.True(t, errors.As(err, &se))
	require.Equal(t, StageDownload, se.Stage)
}

func TestMissingArtifactAfterDownload(t *testing.T) {
	// Both yt-dlp commands "succeed" without producing the mp3; the primary
	// path fails at the scan step and the fallback leaves no file either.
	runner := &fakeRunner{t: t}
	d := testDownloader(defaultConfig(), runner)
	d.lookPath = func(string) (string, error) { return "/usr/bin/ffmpeg", nil }

	_, err := d.AcquireAndTranscribe(context.Background(), testID, "https://youtu.be/"+testID, t.TempDir())
	require.Error(t, err)
	require.True(t, IsMediaNotFound(err))
}

func TestTranscriptionFallsBackToServer(t *testing.T) {
	dir := t.TempDir()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/asr", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		_, _, err := r.FormFile("audio_file")
		require.NoError(t, err)
		fmt.Fprint(w, `{"text":"server transcription"}`)
	}))
	defer srv.Close()

	runner := &fakeRunner{t: t}
	runner.run = func(call int, name string, args []string) (commandResult, error) {
		switch call {
		case 1:
			mustWrite(t, filepath.Join(dir, testID+".webm"), "raw audio")
			return commandResult{}, nil
		case 2:
			mustWrite(t, filepath.Join(dir, testID+".mp3"), "mp3 audio")
			return commandResult{}, nil
		case 3: // whisper CLI missing
			return commandResult{ExitCode: -1}, errors.New("executable file not found")
		default:
			t.Fatalf("unexpected command call %d", call)
			return commandResult{}, nil
		}
	}

	cfg := defaultConfig()
	cfg.TranscribeURL = srv.URL
	d := testDownloader(cfg, runner)
	d.lookPath = func(string) (string, error) { return "/usr/bin/ffmpeg", nil }

	tr, err := d.AcquireAndTranscribe(context.Background(), testID, "https://youtu.be/"+testID, dir)
	require.NoError(t, err)
	require.Equal(t, "server transcription", tr.Text)
	require.Equal(t, types.SourceTranscription, tr.Source)

	// The fallback persists its output to the same path the CLI would use.
	persisted, readErr := os.ReadFile(filepath.Join(dir, testID+".txt"))
	require.NoError(t, readErr)
	require.Equal(t, "server transcription", string(persisted))
}

func TestAutoCreatedScratchDirIsRemoved(t *testing.T) {
	scratch := filepath.Join(t.TempDir(), "scratch")
	require.NoError(t, os.MkdirAll(scratch, 0o755))

	runner := &fakeRunner{t: t}
	runner.run = func(call int, name string, args []string) (commandResult, error) {
		switch call {
		case 1:
			mustWrite(t, filepath.Join(scratch, testID+".webm"), "raw audio")
		case 2:
			mustWrite(t, filepath.Join(scratch, testID+".mp3"), "mp3 audio")
		case 3:
			mustWrite(t, filepath.Join(scratch, testID+".txt"), "text")
		}
		return commandResult{}, nil
	}

	d := testDownloader(defaultConfig(), runner)
	d.lookPath = func(string) (string, error) { return "/usr/bin/ffmpeg", nil }
	d.mkdirTemp = func(dir, pattern string) (string, error) { return scratch, nil }

	tr, err := d.AcquireAndTranscribe(context.Background(), testID, "https://youtu.be/"+testID, "")
	require.NoError(t, err)
	require.Equal(t, "text", tr.Text)

	_, statErr := os.Stat(scratch)
	require.True(t, errors.Is(statErr, os.ErrNotExist), "scratch dir should be removed")
}

func TestCallerWorkDirKeepsArtifacts(t *testing.T) {
	dir := t.TempDir()
	runner := &fakeRunner{t: t}
	runner.run = func(call int, name string, args []string) (commandResult, error) {
		switch call {
		case 1:
			mustWrite(t, filepath.Join(dir, testID+".webm"), "raw audio")
		case 2:
			mustWrite(t, filepath.Join(dir, testID+".mp3"), "mp3 audio")
		case 3:
			mustWrite(t, filepath.Join(dir, testID+".txt"), "text")
		}
		return commandResult{}, nil
	}

	d := testDownloader(defaultConfig(), runner)
	d.lookPath = func(string) (string, error) { return "/usr/bin/ffmpeg", nil }

	_, err := d.AcquireAndTranscribe(context.Background(), testID, "https://youtu.be/"+testID, dir)
	require.NoError(t, err)

	_, statErr := os.Stat(filepath.Join(dir, testID+".mp3"))
	require.NoError(t, statErr, "caller-provided work directory keeps the audio artifact")
}

func TestStaleTranscriptInWorkDirIsNotTreatedAsDownload(t *testing.T) {
	dir := t.TempDir()
	// Leftover transcript from an earlier run in the same persistent
	// work directory; it sorts before the fresh .webm download.
	mustWrite(t, filepath.Join(dir, testID+".txt"), "stale transcript")

	runner := &fakeRunner{t: t}
	runner.run = func(call int, name string, args []string) (commandResult, error) {
		switch call {
		case 1:
			mustWrite(t, filepath.Join(dir, testID+".webm"), "raw audio")
			return commandResult{}, nil
		case 2: // ffmpeg must convert the download, not the old transcript
			require.Equal(t, "ffmpeg", name)
			require.Equal(t, filepath.Join(dir, testID+".webm"), args[1])
			mustWrite(t, filepath.Join(dir, testID+".mp3"), "mp3 audio")
			return commandResult{}, nil
		case 3:
			mustWrite(t, filepath.Join(dir, testID+".txt"), "fresh transcript")
			return commandResult{}, nil
		default:
			t.Fatalf("unexpected command call %d", call)
			return commandResult{}, nil
		}
	}

	d := testDownloader(defaultConfig(), runner)
	d.lookPath = func(string) (string, error) { return "/usr/bin/ffmpeg", nil }

	tr, err := d.AcquireAndTranscribe(context.Background(), testID, "https://youtu.be/"+testID, dir)
	require.NoError(t, err)
	require.Equal(t, "fresh transcript", tr.Text)
}

func TestAllTranscriptionStrategiesFail(t *testing.T) {
	dir := t.TempDir()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	runner := &fakeRunner{t: t}
	runner.run = func(call int, name string, args []string) (commandResult, error) {
		switch call {
		case 1:
			mustWrite(t, filepath.Join(dir, testID+".webm"), "raw audio")
			return commandResult{}, nil
		case 2:
			mustWrite(t, filepath.Join(dir, testID+".mp3"), "mp3 audio")
			return commandResult{}, nil
		default: // whisper CLI
			return commandResult{ExitCode: 1}, errors.New("exit status 1")
		}
	}

	cfg := defaultConfig()
	cfg.TranscribeURL = srv.URL
	d := testDownloader(cfg, runner)
	d.lookPath = func(string) (string, error) { return "/usr/bin/ffmpeg", nil }

	_, err := d.AcquireAndTranscribe(context.Background(), testID, "https://youtu.be/"+testID, dir)
	require.Error(t, err)
	var se *StageError
	require.True(t, errors.As(err, &se))
	require.Equal(t, StageTranscribe, se.Stage)
	require.Contains(t, se.Message, "whisper-cli")
	require.Contains(t, se.Message, "whisper-server")
}
