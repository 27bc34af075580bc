package report

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/xuri/excelize/v2"
	"video-insights-go/internal/logger"
	"video-insights-go/internal/types"
)

const (
	runSheetName = "Runs"
	runBookName  = "runs.xlsx"
)

var runHeader = []interface{}{"Timestamp", "Video ID", "Source", "Languages", "Backend", "Duration (ms)", "Error"}

// Writer persists the artifacts of one pipeline run: the raw transcript
// and the analysis as text files, plus a row in an xlsx run log so batch
// callers can audit what was processed.
type Writer struct {
	dir string
	now func() time.Time
	log *logrus.Entry
}

func NewWriter(outputDir string) *Writer {
	return &Writer{
		dir: outputDir,
		now: time.Now,
		log: logger.Module("report"),
	}
}

// Save writes <id>_transcript.txt and <id>_analysis.txt into the output
// directory and appends the run to the xlsx log. Returns the two artifact
// paths.
func (w *Writer) Save(res types.ProcessResult) (string, string, error) {
	if w.dir == "" {
		return "", "", fmt.Errorf("no output directory configured")
	}
	if res.VideoID == "" {
		return "", "", fmt.Errorf("result has no video id")
	}
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return "", "", fmt.Errorf("create output directory: %w", err)
	}

	transcriptPath := filepath.Join(w.dir, res.VideoID+"_transcript.txt")
	if err := os.WriteFile(transcriptPath, []byte(res.Transcript), 0o644); err != nil {
		return "", "", fmt.Errorf("write transcript: %w", err)
	}

	analysisPath := filepath.Join(w.dir, res.VideoID+"_analysis.txt")
	if err := os.WriteFile(analysisPath, []byte(res.Analysis.Text), 0o644); err != nil {
		return "", "", fmt.Errorf("write analysis: %w", err)
	}

	if err := w.appendRun(res); err != nil {
		// The text artifacts are the contract; the xlsx log is best effort.
		w.log.WithError(err).Warn("could not update run log")
	}

	return transcriptPath, analysisPath, nil
}

func (w *Writer) appendRun(res types.ProcessResult) error {
	bookPath := filepath.Join(w.dir, runBookName)

	f, err := excelize.OpenFile(bookPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("open run log: %w", err)
		}
		f = excelize.NewFile()
		if _, err := f.NewSheet(runSheetName); err != nil {
			return err
		}
		if err := f.DeleteSheet("Sheet1"); err != nil {
			return err
		}
		if err := f.SetSheetRow(runSheetName, "A1", &runHeader); err != nil {
			return err
		}
	}
	defer f.Close()

	rows, err := f.GetRows(runSheetName)
	if err != nil {
		return fmt.Errorf("read run log: %w", err)
	}

	langs := make([]string, 0, len(res.AvailableLanguages))
	for _, t := range res.AvailableLanguages {
		langs = append(langs, t.LanguageCode)
	}
	row := []interface{}{
		w.now().UTC().Format(time.RFC3339),
		res.VideoID,
		string(res.TranscriptSource),
		strings.Join(langs, ","),
		string(res.Analysis.Backend),
		res.DurationMs,
		res.Error,
	}
	cell, err := excelize.CoordinatesToCellName(1, len(rows)+1)
	if err != nil {
		return err
	}
	if err := f.SetSheetRow(runSheetName, cell, &row); err != nil {
		return err
	}
	return f.SaveAs(bookPath)
}
