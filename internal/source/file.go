package source

import (
	"bytes"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/kiesman99/zoomtile/internal/logging"
)

// Open decodes an image file, applying its EXIF orientation.
func Open(path string) (*Memory, error) {
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("open image %s: %w", path, err)
	}
	b := img.Bounds()
	logging.Logger().Info("source: opened file", "path", path, "width", b.Dx(), "height", b.Dy())
	return NewMemory(img, mimeByExt(path)), nil
}

// Decode decodes image bytes, applying their EXIF orientation.
func Decode(data []byte) (*Memory, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return NewMemory(img, http.DetectContentType(data)), nil
}

func mimeByExt(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".gif":
		return "image/gif"
	case ".tif", ".tiff":
		return "image/tiff"
	case ".bmp":
		return "image/bmp"
	case ".webp":
		return "image/webp"
	}
	return ""
}
