package images

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"strings"
	"testing"
)

func pngDataURI(t *testing.T, w, h int) string {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x += 10 {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: 200, A: 255})
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png encode: %v", err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes())
}

func jpegDataURI(t *testing.T, w, h, quality int) string {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		t.Fatalf("jpeg encode: %v", err)
	}
	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(buf.Bytes())
}

func decodeDims(t *testing.T, payload string) (int, int) {
	t.Helper()

	m := dataURIPattern.FindStringSubmatch(payload)
	if m == nil {
		t.Fatalf("payload is not a data URI: %.60s", payload)
	}
	raw, err := base64.StdEncoding.DecodeString(m[2])
	if err != nil {
		t.Fatalf("base64 decode: %v", err)
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("image decode: %v", err)
	}
	return cfg.Width, cfg.Height
}

func TestCompressScalesToBound(t *testing.T) {
	c := NewCompressor(80, 1024)

	out, err := c.Compress(pngDataURI(t, 2000, 500))
	if err != nil {
		t.Fatalf("compress: %v", err)
	}
	if !strings.HasPrefix(out, "data:image/jpeg;base64,") {
		t.Fatalf("output should be a jpeg data URI, got %.40s", out)
	}

	w, h := decodeDims(t, out)
	if w != 1024 {
		t.Errorf("width = %d, want 1024", w)
	}
	if h != 256 {
		t.Errorf("height = %d, want 256 (aspect preserved)", h)
	}
}

func TestCompressPortraitUsesLongestSide(t *testing.T) {
	c := NewCompressor(80, 1024)

	out, err := c.Compress(pngDataURI(t, 500, 2000))
	if err != nil {
		t.Fatalf("compress: %v", err)
	}

	w, h := decodeDims(t, out)
	if h != 1024 || w != 256 {
		t.Errorf("dims = %dx%d, want 256x1024", w, h)
	}
}

func TestCompressSmallImageStillConvertsToJpeg(t *testing.T) {
	c := NewCompressor(80, 1024)

	out, err := c.Compress(pngDataURI(t, 100, 80))
	if err != nil {
		t.Fatalf("compress: %v", err)
	}
	if !strings.HasPrefix(out, "data:image/jpeg;base64,") {
		t.Errorf("small png should still convert to jpeg, got %.40s", out)
	}
	w, h := decodeDims(t, out)
	if w != 100 || h != 80 {
		t.Errorf("dims = %dx%d, small image must not be scaled", w, h)
	}
}

func TestCompressIsIdempotent(t *testing.T) {
	c := NewCompressor(80, 1024)

	payload := jpegDataURI(t, 640, 480, 80)
	out, err := c.Compress(payload)
	if err != nil {
		t.Fatalf("compress: %v", err)
	}
	if out != payload {
		t.Errorf("in-bound jpeg must pass through untouched")
	}
}

func TestCompressNonImagePassthrough(t *testing.T) {
	c := NewCompressor(80, 1024)

	for _, payload := range []string{"hello world", `{"role":"user","content":"hi"}`, ""} {
		out, err := c.Compress(payload)
		if err != nil {
			t.Errorf("non-image payload errored: %v", err)
		}
		if out != payload {
			t.Errorf("non-image payload mutated: %q", out)
		}
	}
}

func TestCompressCorruptImageReturnsOriginal(t *testing.T) {
	c := NewCompressor(80, 1024)

	payload := "data:image/png;base64," + base64.StdEncoding.EncodeToString([]byte("not a png"))
	out, err := c.Compress(payload)

	var cerr *CompressionError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected *CompressionError, got %v", err)
	}
	if cerr.Stage != "decode" {
		t.Errorf("stage = %q, want decode", cerr.Stage)
	}
	if out != payload {
		t.Errorf("failed compression must return the original payload")
	}
}

func TestCompressFragmentRewritesInlineImages(t *testing.T) {
	c := NewCompressor(80, 1024)

	uri := pngDataURI(t, 2000, 100)
	fragment := fmt.Sprintf(`{"content":"look at this ![img](%s) nice"}`, uri)

	out, changed, err := c.CompressFragment(fragment)
	if err != nil {
		t.Fatalf("compress fragment: %v", err)
	}
	if !changed {
		t.Fatal("fragment with an oversized image should change")
	}
	if strings.Contains(out, uri) {
		t.Error("original payload still present in fragment")
	}
	if !strings.Contains(out, "data:image/jpeg;base64,") {
		t.Error("compressed payload missing from fragment")
	}
	if !strings.HasPrefix(out, `{"content":"look at this ![img](`) || !strings.HasSuffix(out, `) nice"}`) {
		t.Error("text around the image was mutated")
	}
}

func TestCompressFragmentKeepsFailedImages(t *testing.T) {
	c := NewCompressor(80, 1024)

	good := pngDataURI(t, 2000, 100)
	bad := "data:image/png;base64," + base64.StdEncoding.EncodeToString([]byte("garbage"))
	fragment := good + " and " + bad

	out, changed, err := c.CompressFragment(fragment)
	if err == nil {
		t.Error("expected the corrupt image's error to surface")
	}
	if !changed {
		t.Error("the good image should still have been compressed")
	}
	if !strings.Contains(out, bad) {
		t.Error("corrupt payload must be left untouched")
	}
}

func TestCompressFragmentWithoutImages(t *testing.T) {
	c := NewCompressor(80, 1024)

	out, changed, err := c.CompressFragment("plain text, no images here")
	if err != nil || changed {
		t.Errorf("plain fragment: changed=%v err=%v", changed, err)
	}
	if out != "plain text, no images here" {
		t.Errorf("plain fragment mutated: %q", out)
	}
}

func TestIsImagePayload(t *testing.T) {
	if !IsImagePayload("data:image/png;base64,aGk=") {
		t.Error("data URI not detected")
	}
	if IsImagePayload("https://example.com/cat.png") {
		t.Error("plain URL misdetected as inline image")
	}
}
