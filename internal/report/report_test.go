package report

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"video-insights-go/internal/types"
)

func sampleResult() types.ProcessResult {
	return types.ProcessResult{
		VideoID:          "3MjS9w60MMw",
		Transcript:       "hello world",
		TranscriptSource: types.SourceCaptions,
		AvailableLanguages: []types.CaptionTrack{
			{LanguageCode: "en"}, {LanguageCode: "zh-Hans"},
		},
		Analysis:   types.Analysis{Text: "a summary", Backend: types.BackendLocal},
		DurationMs: 1234,
	}
}

func TestSaveWritesArtifacts(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir)

	transcriptPath, analysisPath, err := w.Save(sampleResult())
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "3MjS9w60MMw_transcript.txt"), transcriptPath)
	require.Equal(t, filepath.Join(dir, "3MjS9w60MMw_analysis.txt"), analysisPath)

	transcript, err := os.ReadFile(transcriptPath)
	require.NoError(t, err)
	require.Equal(t, "hello world", string(transcript))

	analysis, err := os.ReadFile(analysisPath)
	require.NoError(t, err)
	require.Equal(t, "a summary", string(analysis))
}

func TestSaveAppendsRunLog(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir)

	_, _, err := w.Save(sampleResult())
	require.NoError(t, err)
	_, _, err = w.Save(sampleResult())
	require.NoError(t, err)

	f, err := excelize.OpenFile(filepath.Join(dir, "runs.xlsx"))
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows("Runs")
	require.NoError(t, err)
	require.Len(t, rows, 3, "header plus two runs")
	require.Equal(t, "Video ID", rows[0][1])
	require.Equal(t, "3MjS9w60MMw", rows[1][1])
	require.Equal(t, "captions", rows[1][2])
	require.Equal(t, "en,zh-Hans", rows[1][3])
	require.Equal(t, "local", rows[2][4])
}

func TestSaveWithoutOutputDir(t *testing.T) {
	_, _, err := NewWriter("").Save(sampleResult())
	require.Error(t, err)
}
