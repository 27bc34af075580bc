package videoid

import (
	"fmt"
	"regexp"
)

// ErrInvalidReference means no known URL form yielded a video ID.
var ErrInvalidReference = fmt.Errorf("invalid video reference")

// Matchers are tried in order: the watch-page / path-segment form first,
// the youtu.be short link only if that fails.
var patterns = []*regexp.Regexp{
	regexp.MustCompile(`(?:v=|/)([0-9A-Za-z_-]{11})`),
	regexp.MustCompile(`youtu\.be/([0-9A-Za-z_-]{11})`),
}

// Extract resolves a video URL to its 11-character ID.
func Extract(reference string) (string, error) {
	for _, p := range patterns {
		if m := p.FindStringSubmatch(reference); m != nil {
			return m[1], nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidReference, reference)
}
