package cmd

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/disintegration/imaging"
)

func TestEveryConfigKeyHasAFlag(t *testing.T) {
	for key := range configKeys() {
		name := strings.ReplaceAll(key, "_", "-")
		if rootCmd.PersistentFlags().Lookup(name) == nil {
			t.Errorf("no flag for config key %q", key)
		}
	}
}

func TestRenderPattern(t *testing.T) {
	out := filepath.Join(t.TempDir(), "view.png")
	var stderr bytes.Buffer
	rootCmd.SetErr(&stderr)
	rootCmd.SetArgs([]string{
		"pattern:2048x1024", "-o", out,
		"--width", "200", "--height", "100",
		"-g", "pinch:2", "-g", "release",
		"--settle", "5s",
	})
	t.Cleanup(func() { rootCmd.SetArgs(nil) })

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("render: %v", err)
	}

	img, err := imaging.Open(out)
	if err != nil {
		t.Fatalf("open output: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 200 || b.Dy() != 100 {
		t.Errorf("output size = %v, want 200x100", b.Size())
	}
	for _, want := range []string{"==Source: pattern:2048x1024 2048x1024", "==Gesture pinch:2", "==Frame: scale"} {
		if !strings.Contains(stderr.String(), want) {
			t.Errorf("stderr missing %q:\n%s", want, stderr.String())
		}
	}
}
