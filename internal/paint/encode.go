package paint

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"io"
	"os"
	"strings"

	"github.com/disintegration/imaging"
)

var pngEncoder = png.Encoder{CompressionLevel: png.BestSpeed}

// EncodePNG encodes img as PNG, favouring speed over size.
func EncodePNG(img image.Image) ([]byte, error) {
	var out bytes.Buffer
	if err := pngEncoder.Encode(&out, img); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

// Encode writes img to w in the named format ("png", "jpeg", "gif", "tiff"
// or "bmp").
func Encode(w io.Writer, img image.Image, format string) error {
	f, err := imaging.FormatFromExtension(strings.TrimPrefix(format, "."))
	if err != nil {
		return fmt.Errorf("unsupported output format %q", format)
	}
	if f == imaging.PNG {
		return pngEncoder.Encode(w, img)
	}
	return imaging.Encode(w, img, f, imaging.JPEGQuality(90))
}

// WriteImage writes img to filename, or to stdout when filename is empty
// or "-". The format follows the file extension and defaults to PNG.
func WriteImage(filename string, img image.Image) error {
	if filename == "" || filename == "-" {
		if stat, _ := os.Stdout.Stat(); stat != nil && stat.Mode()&os.ModeCharDevice != 0 {
			return fmt.Errorf("no output file given and standard output is a terminal")
		}
		return Encode(os.Stdout, img, "png")
	}

	format := "png"
	if i := strings.LastIndexByte(filename, '.'); i >= 0 {
		format = filename[i+1:]
	}
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	if err := Encode(file, img, format); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}
