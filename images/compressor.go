package images

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/jpeg"
	"regexp"
	"strings"

	"github.com/gen2brain/heic"
	"golang.org/x/image/draw"

	// Register decoders so image.Decode can handle these formats
	_ "image/gif"
	_ "image/png"
	_ "golang.org/x/image/webp"
)

// CompressionError reports a failed recompression attempt. The caller
// still gets the original payload back and decides whether to persist it
// as-is; the error exists so failures can be logged instead of swallowed.
type CompressionError struct {
	Stage string // "decode" or "encode"
	Err   error
}

func (e *CompressionError) Error() string {
	return fmt.Sprintf("image compression failed at %s: %v", e.Stage, e.Err)
}

func (e *CompressionError) Unwrap() error {
	return e.Err
}

// dataURIPattern matches an inline base64 image payload embedded in a
// serialized message fragment.
var dataURIPattern = regexp.MustCompile(`data:image/([a-zA-Z0-9.+-]+);base64,([A-Za-z0-9+/=]+)`)

// Compressor recompresses inline image payloads before they are persisted.
// Output is always JPEG, scaled so the longest side is at most MaxDimension.
type Compressor struct {
	Quality      int // jpeg quality 1-100
	MaxDimension int // longest side in pixels
}

// NewCompressor creates a compressor with the given quality and dimension bound
func NewCompressor(quality, maxDimension int) *Compressor {
	return &Compressor{Quality: quality, MaxDimension: maxDimension}
}

// ---------- Payload helpers ----------

// IsImagePayload returns true if the payload is an inline base64 image
func IsImagePayload(payload string) bool {
	return dataURIPattern.MatchString(payload)
}

// isCompressedOutput returns true for a JPEG payload whose decoded
// dimensions are already within the bound. Such payloads are treated as
// this compressor's own output and skipped, so repeated persist calls do
// not degrade images further.
func (c *Compressor) isCompressedOutput(mime string, raw []byte) bool {
	if mime != "jpeg" && mime != "jpg" {
		return false
	}
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return false
	}
	return cfg.Width <= c.MaxDimension && cfg.Height <= c.MaxDimension
}

// ---------- Compression ----------

// Compress recompresses a single inline image payload. Non-image input is
// returned unchanged with no error. On decode or encode failure the
// original payload is returned together with a *CompressionError.
func (c *Compressor) Compress(payload string) (string, error) {
	m := dataURIPattern.FindStringSubmatch(payload)
	if m == nil || m[0] != payload {
		// Not a self-contained image payload: passthrough
		return payload, nil
	}

	mime := strings.ToLower(m[1])

	raw, err := base64.StdEncoding.DecodeString(m[2])
	if err != nil {
		return payload, &CompressionError{Stage: "decode", Err: err}
	}

	// Already-compressed payloads are skipped (idempotence)
	if c.isCompressedOutput(mime, raw) {
		return payload, nil
	}

	var img image.Image

	// HEIC/HEIF needs a dedicated decoder (not registered with image.Decode)
	if mime == "heic" || mime == "heif" {
		img, err = heic.Decode(bytes.NewReader(raw))
		if err != nil {
			return payload, &CompressionError{Stage: "decode", Err: err}
		}
	} else {
		// For JPEG, PNG, GIF, WebP and anything else with a registered decoder.
		// GIF decodes to the first frame automatically via image.Decode.
		img, _, err = image.Decode(bytes.NewReader(raw))
		if err != nil {
			return payload, &CompressionError{Stage: "decode", Err: err}
		}
	}

	scaled := c.resizeToBound(img)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, scaled, &jpeg.Options{Quality: c.Quality}); err != nil {
		return payload, &CompressionError{Stage: "encode", Err: err}
	}

	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// CompressFragment rewrites every inline image inside an opaque serialized
// message fragment. Images that fail to compress are left untouched; the
// first failure is returned so the caller can log it. The returned bool
// reports whether the fragment changed.
func (c *Compressor) CompressFragment(fragment string) (string, bool, error) {
	if !strings.Contains(fragment, "data:image/") {
		return fragment, false, nil
	}

	changed := false
	var firstErr error

	out := dataURIPattern.ReplaceAllStringFunc(fragment, func(payload string) string {
		compressed, err := c.Compress(payload)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			return payload
		}
		if compressed != payload {
			changed = true
		}
		return compressed
	})

	return out, changed, firstErr
}

// resizeToBound scales an image so its longest side is at most
// MaxDimension pixels, preserving aspect ratio. Images already within the
// bound are returned as-is.
func (c *Compressor) resizeToBound(src image.Image) image.Image {
	bounds := src.Bounds()
	srcW := bounds.Dx()
	srcH := bounds.Dy()

	if srcW <= c.MaxDimension && srcH <= c.MaxDimension {
		return src
	}

	var newW, newH int
	if srcW >= srcH {
		newW = c.MaxDimension
		newH = srcH * c.MaxDimension / srcW
	} else {
		newH = c.MaxDimension
		newW = srcW * c.MaxDimension / srcH
	}
	if newW < 1 {
		newW = 1
	}
	if newH < 1 {
		newH = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, newW, newH))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, draw.Over, nil)
	return dst
}
