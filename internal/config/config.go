package config

import (
	"os"
	"strconv"
	"time"
)

// Config carries every endpoint, binary name and knob the pipeline needs.
// Components receive it at construction so tests can point them at mock
// endpoints instead of the real services.
type Config struct {
	// Caption catalogue service.
	WatchBaseURL string

	// External tools for the media fallback path.
	YTDLPPath   string
	FFmpegPath  string
	WhisperPath string

	// Speech-to-text settings.
	WhisperModel  string
	TranscribeURL string // local transcription server used when the whisper CLI fails

	// Inference backends.
	LocalLLMURL      string
	LocalLLMModel    string
	RemoteLLMURL     string
	RemoteLLMModel   string
	RemoteAPIVersion string

	// Acquisition policy.
	PreferredLangPrefix string

	// Where to persist run artifacts; empty disables persistence.
	OutputDir string

	// HTTPTimeout bounds every network call; SubprocessTimeout bounds each
	// external command when > 0 (0 leaves the tools unbounded).
	HTTPTimeout       time.Duration
	SubprocessTimeout time.Duration
}

// FromEnv builds a Config from environment variables with the documented
// defaults. Call godotenv.Load first if a .env file should be honored.
func FromEnv() Config {
	return Config{
		WatchBaseURL:        envOr("WATCH_BASE_URL", "https://www.youtube.com"),
		YTDLPPath:           envOr("YTDLP_PATH", "yt-dlp"),
		FFmpegPath:          envOr("FFMPEG_PATH", "ffmpeg"),
		WhisperPath:         envOr("WHISPER_PATH", "whisper"),
		WhisperModel:        envOr("WHISPER_MODEL", "medium"),
		TranscribeURL:       envOr("TRANSCRIBE_URL", "http://localhost:9000"),
		LocalLLMURL:         envOr("LOCAL_LLM_URL", "http://localhost:11434"),
		LocalLLMModel:       envOr("LOCAL_LLM_MODEL", "llama3"),
		RemoteLLMURL:        envOr("REMOTE_LLM_URL", "https://api.anthropic.com/v1/messages"),
		RemoteLLMModel:      envOr("REMOTE_LLM_MODEL", "claude-3-haiku-20240307"),
		RemoteAPIVersion:    envOr("REMOTE_API_VERSION", "2023-06-01"),
		PreferredLangPrefix: envOr("PREFERRED_LANG_PREFIX", "zh"),
		OutputDir:           os.Getenv("OUTPUT_DIR"),
		HTTPTimeout:         durationEnv("HTTP_TIMEOUT_SEC", 30*time.Second),
		SubprocessTimeout:   durationEnv("SUBPROCESS_TIMEOUT_SEC", 0),
	}
}

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func durationEnv(k string, def time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	sec, err := strconv.Atoi(v)
	if err != nil || sec < 0 {
		return def
	}
	return time.Duration(sec) * time.Second
}
