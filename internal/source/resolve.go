package source

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/kiesman99/zoomtile/pkg/tile"
)

// Resolve opens the source named by ref:
//
//	pattern:WIDTHxHEIGHT   procedural pattern
//	http(s)://...          downloaded image
//	anything else          local file
func Resolve(ctx context.Context, ref string, f *Fetcher) (tile.ImageSource, error) {
	switch {
	case strings.HasPrefix(ref, "pattern:"):
		w, h, err := parseDims(strings.TrimPrefix(ref, "pattern:"))
		if err != nil {
			return nil, err
		}
		return NewPattern(w, h), nil
	case strings.HasPrefix(ref, "http://"), strings.HasPrefix(ref, "https://"):
		if f == nil {
			f = NewFetcher(nil)
		}
		return f.Fetch(ctx, ref)
	case ref == "":
		return nil, fmt.Errorf("no image given")
	}
	return Open(ref)
}

func parseDims(s string) (int, int, error) {
	ws, hs, ok := strings.Cut(strings.ToLower(s), "x")
	if !ok {
		return 0, 0, fmt.Errorf("invalid dimensions %q, want WIDTHxHEIGHT", s)
	}
	w, err := strconv.Atoi(ws)
	if err != nil || w <= 0 {
		return 0, 0, fmt.Errorf("invalid width %q", ws)
	}
	h, err := strconv.Atoi(hs)
	if err != nil || h <= 0 {
		return 0, 0, fmt.Errorf("invalid height %q", hs)
	}
	return w, h, nil
}
