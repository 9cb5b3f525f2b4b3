package imaging

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// Matting produces an RGBA cutout of the foreground object from encoded
// image bytes.
type Matting interface {
	Cutout(ctx context.Context, imageData []byte) ([]byte, error)
}

// MattingClient calls a remote matting service: POST the raw image, receive
// a PNG with alpha.
type MattingClient struct {
	endpoint string
	http     *http.Client
}

func NewMattingClient(endpoint string, timeout time.Duration) *MattingClient {
	return &MattingClient{endpoint: endpoint, http: &http.Client{Timeout: timeout}}
}

func (m *MattingClient) Cutout(ctx context.Context, imageData []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.endpoint, bytes.NewReader(imageData))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := m.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("matting request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("matting service status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// ConditionerConfig holds the sanity thresholds for accepting a cutout.
type ConditionerConfig struct {
	SceneKeywords   []string
	MinRetention    float64
	MaxRetention    float64
	RescueRetention float64
	MinObjectRatio  float64
	MinFillRatio    float64
}

// Conditioner removes backgrounds from product images. The matting call is
// serialized through a mutex; the model behind it is not reentrant. Every
// failure path falls back to the original image.
type Conditioner struct {
	mu      sync.Mutex
	cfg     ConditionerConfig
	matting Matting
}

func NewConditioner(cfg ConditionerConfig, matting Matting) *Conditioner {
	return &Conditioner{cfg: cfg, matting: matting}
}

// Enabled reports whether a matting backend is configured.
func (c *Conditioner) Enabled() bool { return c != nil && c.matting != nil }

// ShouldRemove decides from the query whether the background is part of
// the subject. Scene queries keep their background.
func (c *Conditioner) ShouldRemove(query string) bool {
	q := strings.ToLower(query)
	for _, kw := range c.cfg.SceneKeywords {
		if strings.Contains(q, kw) {
			return false
		}
	}
	return true
}

// Remove runs matting and sanity-checks the cutout. It returns the cutout
// image and true on success, or (nil, false) when the original should be
// used instead. It never returns an error to the caller.
func (c *Conditioner) Remove(ctx context.Context, imageData []byte) (image.Image, bool) {
	c.mu.Lock()
	out, err := c.matting.Cutout(ctx, imageData)
	c.mu.Unlock()
	if err != nil {
		log.Warnf("[background] matting failed, using original: %v", err)
		return nil, false
	}

	img, err := png.Decode(bytes.NewReader(out))
	if err != nil {
		log.Warnf("[background] undecodable cutout, using original: %v", err)
		return nil, false
	}

	if !c.cutoutSane(img) {
		return nil, false
	}
	return img, true
}

// cutoutSane rejects matting outputs that kept almost nothing, almost
// everything, or a splatter with no coherent object.
func (c *Conditioner) cutoutSane(img image.Image) bool {
	b := img.Bounds()
	total := b.Dx() * b.Dy()
	if total == 0 {
		return false
	}

	kept := 0
	minX, minY := b.Max.X, b.Max.Y
	maxX, maxY := b.Min.X, b.Min.Y
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			_, _, _, a := img.At(x, y).RGBA()
			if a>>8 > 10 {
				kept++
				if x < minX {
					minX = x
				}
				if x > maxX {
					maxX = x
				}
				if y < minY {
					minY = y
				}
				if y > maxY {
					maxY = y
				}
			}
		}
	}

	retention := float64(kept) / float64(total)
	if retention < c.cfg.MinRetention {
		if retention < c.cfg.RescueRetention {
			log.Debugf("[background] retention %.3f below rescue floor", retention)
			return false
		}
		// A tiny but contiguous object is allowed through; check the
		// bbox below as usual.
	}
	if retention > c.cfg.MaxRetention {
		log.Debugf("[background] retention %.3f, matting removed nothing", retention)
		return false
	}
	if kept == 0 {
		return false
	}

	bboxW, bboxH := maxX-minX+1, maxY-minY+1
	bboxRatio := float64(bboxW*bboxH) / float64(total)
	if bboxRatio < c.cfg.MinObjectRatio {
		log.Debugf("[background] object bbox %.3f of canvas, too small", bboxRatio)
		return false
	}
	fill := float64(kept) / float64(bboxW*bboxH)
	if fill < c.cfg.MinFillRatio {
		log.Debugf("[background] bbox fill %.3f, incoherent cutout", fill)
		return false
	}
	return true
}
