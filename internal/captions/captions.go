package captions

import (
	"bytes"
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"html"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
	"video-insights-go/internal/config"
	"video-insights-go/internal/logger"
	"video-insights-go/internal/types"
)

// Client reads the caption catalogue for a video from its watch page and
// fetches timedtext tracks. Both operations degrade to empty results on
// failure; callers decide whether an empty transcript means fallback.
type Client struct {
	baseURL string
	http    *http.Client
	maxWait time.Duration
	log     *logrus.Entry
}

func NewClient(cfg config.Config) *Client {
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.WatchBaseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		maxWait: timeout,
		log:     logger.Module("captions"),
	}
}

// captionTrack mirrors the captionTracks entries embedded in the watch page.
type captionTrack struct {
	BaseURL string `json:"baseUrl"`
	Lang    string `json:"languageCode"`
	Kind    string `json:"kind"` // "asr" for auto-generated tracks
	Name    struct {
		SimpleText string `json:"simpleText"`
	} `json:"name"`
}

// timedText is the <transcript> document a caption track URL serves.
type timedText struct {
	XMLName xml.Name `xml:"transcript"`
	Texts   []struct {
		Start    float64 `xml:"start,attr"`
		Duration float64 `xml:"dur,attr"`
		Text     string  `xml:",chardata"`
	} `xml:"text"`
}

// ListTracks returns the caption catalogue for a video, in page order.
// It never fails upward: any error is logged and yields an empty catalogue.
func (c *Client) ListTracks(ctx context.Context, id string) []types.CaptionTrack {
	raw, err := c.tracksFor(ctx, id)
	if err != nil {
		c.log.WithField("video_id", id).WithError(err).Warn("caption catalogue unavailable")
		return nil
	}
	out := make([]types.CaptionTrack, 0, len(raw))
	for _, t := range raw {
		out = append(out, types.CaptionTrack{
			LanguageCode: t.Lang,
			Language:     t.Name.SimpleText,
			IsGenerated:  t.Kind == "asr",
		})
	}
	return out
}

// Fetch downloads the caption text for one language, concatenating cue
// texts with single spaces. lang empty selects the first catalogue track.
// Any failure returns an empty Transcript rather than an error.
func (c *Client) Fetch(ctx context.Context, id, lang string) types.Transcript {
	log := c.log.WithField("video_id", id).WithField("lang", lang)

	tracks, err := c.tracksFor(ctx, id)
	if err != nil || len(tracks) == 0 {
		log.WithError(err).Warn("no caption tracks to fetch")
		return types.Transcript{}
	}

	track := tracks[0]
	if lang != "" {
		found := false
		for _, t := range tracks {
			if t.Lang == lang {
				track = t
				found = true
				break
			}
		}
		if !found {
			log.Warn("requested caption language not in catalogue")
			return types.Transcript{}
		}
	}

	body, err := c.get(ctx, track.BaseURL)
	if err != nil {
		log.WithError(err).Warn("caption track download failed")
		return types.Transcript{}
	}

	var doc timedText
	dec := xml.NewDecoder(bytes.NewReader(body))
	dec.Entity = xml.HTMLEntity
	if err := dec.Decode(&doc); err != nil {
		log.WithError(err).Warn("caption track is not valid timedtext XML")
		return types.Transcript{}
	}

	parts := make([]string, 0, len(doc.Texts))
	for _, cue := range doc.Texts {
		if s := strings.TrimSpace(html.UnescapeString(cue.Text)); s != "" {
			parts = append(parts, s)
		}
	}
	return types.Transcript{
		Text:     strings.Join(parts, " "),
		Source:   types.SourceCaptions,
		Language: track.Lang,
	}
}

// tracksFor scrapes the watch page for the "captions": JSON blob.
func (c *Client) tracksFor(ctx context.Context, id string) ([]captionTrack, error) {
	page, err := c.get(ctx, fmt.Sprintf("%s/watch?v=%s", c.baseURL, id))
	if err != nil {
		return nil, err
	}

	const needle = `"captions":`
	i := bytes.Index(page, []byte(needle))
	if i < 0 {
		// Video exists but has captions disabled, or the id is unknown.
		return nil, nil
	}

	var data struct {
		R *struct {
			Tracks []captionTrack `json:"captionTracks"`
		} `json:"playerCaptionsTracklistRenderer"`
	}
	// json.Decoder stops at the end of the blob and ignores the rest of
	// the page after it.
	dec := json.NewDecoder(bytes.NewReader(page[i+len(needle):]))
	if err := dec.Decode(&data); err != nil {
		return nil, fmt.Errorf("decode captions blob: %w", err)
	}
	if data.R == nil {
		return nil, nil
	}
	return data.R.Tracks, nil
}

// get fetches a URL body, retrying transport errors and 5xx responses with
// exponential backoff.
func (c *Client) get(ctx context.Context, url string) ([]byte, error) {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = c.maxWait

	var body []byte
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		b, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		if resp.StatusCode >= 500 {
			return fmt.Errorf("server error: %d", resp.StatusCode)
		}
		if resp.StatusCode >= 300 {
			return backoff.Permanent(fmt.Errorf("unexpected status %d", resp.StatusCode))
		}
		body = b
		return nil
	}
	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		return nil, err
	}
	return body, nil
}
