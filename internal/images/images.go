// Package images prepares content-addressed image records: fetch, digest,
// dimension probe, and a deterministic thumbnail. Two fetches of the same
// bytes always produce the same record, so storage dedup works on sha256
// alone.
package images

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/radarlab/radar/internal/apperr"
	"github.com/radarlab/radar/internal/domain"
)

// maxImageBytes caps a single download.
const maxImageBytes = 10 << 20

// thumbMaxSide bounds the longer thumbnail side.
const thumbMaxSide = 320

// thumbQuality is fixed so re-encoding is byte-stable.
const thumbQuality = 80

// Service fetches and prepares images.
type Service struct {
	hc *http.Client
}

// NewService builds the image service.
func NewService(timeout time.Duration) *Service {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Service{hc: &http.Client{Timeout: timeout}}
}

// Fetch downloads one image and builds its record. Undecodable payloads
// still produce a record, just without dimensions or a thumbnail.
func (s *Service) Fetch(ctx context.Context, url string) (*domain.Image, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, apperr.New(apperr.KindDataValidation, fmt.Errorf("bad image url %q: %w", url, err))
	}
	resp, err := s.hc.Do(req)
	if err != nil {
		return nil, apperr.New(apperr.KindTransientIO, fmt.Errorf("failed to fetch image: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apperr.Newf(apperr.KindTransientIO, "image fetch %q: status %d", url, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes))
	if err != nil {
		return nil, apperr.New(apperr.KindTransientIO, fmt.Errorf("failed to read image body: %w", err))
	}
	return s.Prepare(data), nil
}

// Prepare builds the content-addressed record for raw image bytes.
func (s *Service) Prepare(data []byte) *domain.Image {
	sum := sha256.Sum256(data)
	img := &domain.Image{
		ID:       uuid.New(),
		SHA256:   hex.EncodeToString(sum[:]),
		MimeType: http.DetectContentType(data),
		Bytes:    data,
		FileSize: len(data),
	}

	decoded, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		log.Debug().Str("sha256", img.SHA256).Msg("image not decodable, stored without thumbnail")
		return img
	}
	bounds := decoded.Bounds()
	img.Width = bounds.Dx()
	img.Height = bounds.Dy()

	thumb, err := encodeThumbnail(decoded)
	if err != nil {
		log.Warn().Err(err).Str("sha256", img.SHA256).Msg("thumbnail encoding failed")
		return img
	}
	img.Thumbnail = thumb
	return img
}

// Thumbnail scales an already-prepared image; nil when the source never
// decoded.
func Thumbnail(img *domain.Image) []byte {
	return img.Thumbnail
}

// encodeThumbnail downscales so the longer side is at most thumbMaxSide and
// re-encodes as JPEG. Images already small enough are re-encoded unscaled,
// keeping the output format uniform.
func encodeThumbnail(src image.Image) ([]byte, error) {
	scaled := scaleDown(src, thumbMaxSide)
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, scaled, &jpeg.Options{Quality: thumbQuality}); err != nil {
		return nil, fmt.Errorf("failed to encode thumbnail: %w", err)
	}
	return buf.Bytes(), nil
}

// scaleDown is a nearest-neighbour downscale. Deterministic by construction:
// the sample grid depends only on the source and target dimensions.
func scaleDown(src image.Image, maxSide int) image.Image {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= maxSide && h <= maxSide {
		return src
	}

	outW, outH := w, h
	if w >= h {
		outW = maxSide
		outH = h * maxSide / w
	} else {
		outH = maxSide
		outW = w * maxSide / h
	}
	if outW < 1 {
		outW = 1
	}
	if outH < 1 {
		outH = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, outW, outH))
	for y := 0; y < outH; y++ {
		srcY := b.Min.Y + y*h/outH
		for x := 0; x < outW; x++ {
			srcX := b.Min.X + x*w/outW
			dst.Set(x, y, src.At(srcX, srcY))
		}
	}
	return dst
}
