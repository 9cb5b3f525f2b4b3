package compose

import (
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"os"

	log "github.com/sirupsen/logrus"
	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// Fields are the row texts stamped onto the ad.
type Fields struct {
	Title    string
	Discount string
	CTA      string
	Color    string
}

// Compositor renders ads. It is stateless and safe for concurrent use.
type Compositor struct {
	quality int
}

func NewCompositor() *Compositor {
	return &Compositor{quality: 92}
}

// Compose renders the ad to outPath and returns the path. conditioned may be
// nil; useOriginal forces the unconditioned image even when a conditioned
// one is supplied (recomposition attempt 0). Overwrites are idempotent.
func (c *Compositor) Compose(original, conditioned image.Image, useOriginal bool, fields Fields, outPath string, tpl Template) (string, error) {
	product := original
	if conditioned != nil && !useOriginal {
		product = conditioned
	}
	if product == nil {
		return "", fmt.Errorf("compose: no product image")
	}

	canvas := newCanvas(tpl, BackgroundFor(fields.Color, fields.Title))
	drawProduct(canvas, product, tpl)
	if tpl.OverlayAlpha > 0 {
		applyOverlay(canvas, tpl.OverlayAlpha)
	}
	drawTexts(canvas, fields, tpl)

	if err := writeJPEG(outPath, canvas, c.quality); err != nil {
		return "", err
	}
	return outPath, nil
}

// Placeholder renders the no-image fallback ad: flat background, the query
// text, and a notice strap. Counts as a produced ad.
func (c *Compositor) Placeholder(query string, fields Fields, outPath string, tpl Template) (string, error) {
	canvas := newCanvas(tpl, BackgroundFor(fields.Color, query))
	title := fields.Title
	if title == "" {
		title = query
	}
	drawScaledText(canvas, title, tpl.TitleAnchorX, tpl.TitleY, tpl.TitleSize, tpl.TitleMaxWidth, color.RGBA{255, 255, 255, 255})
	drawScaledText(canvas, "image coming soon", -1, tpl.CanvasH/2, tpl.TitleSize/2, tpl.CanvasW-80, color.RGBA{235, 235, 235, 255})
	if fields.CTA != "" {
		drawCTA(canvas, fields.CTA, tpl)
	}
	log.Debugf("[compose] placeholder for %q via %s", query, tpl.Name)
	if err := writeJPEG(outPath, canvas, c.quality); err != nil {
		return "", err
	}
	return outPath, nil
}

func newCanvas(tpl Template, bg color.RGBA) *image.RGBA {
	canvas := image.NewRGBA(image.Rect(0, 0, tpl.CanvasW, tpl.CanvasH))
	xdraw.Draw(canvas, canvas.Bounds(), &image.Uniform{bg}, image.Point{}, xdraw.Src)
	return canvas
}

// drawProduct scales the product to fit the template box, preserving aspect,
// and centers it horizontally around ProductY.
func drawProduct(canvas *image.RGBA, product image.Image, tpl Template) {
	pb := product.Bounds()
	if pb.Dx() == 0 || pb.Dy() == 0 {
		return
	}
	scale := float64(tpl.ProductMaxW) / float64(pb.Dx())
	if s := float64(tpl.ProductMaxH) / float64(pb.Dy()); s < scale {
		scale = s
	}
	if scale > 1 {
		scale = 1
	}
	w := int(float64(pb.Dx()) * scale)
	h := int(float64(pb.Dy()) * scale)
	x0 := (tpl.CanvasW - w) / 2
	y0 := tpl.ProductY - h/2
	dst := image.Rect(x0, y0, x0+w, y0+h)
	xdraw.CatmullRom.Scale(canvas, dst, product, pb, xdraw.Over, nil)
}

// applyOverlay darkens the canvas slightly so light product photos keep the
// text readable.
func applyOverlay(canvas *image.RGBA, alpha uint8) {
	overlay := image.NewUniform(color.RGBA{0, 0, 0, alpha})
	xdraw.Draw(canvas, canvas.Bounds(), overlay, image.Point{}, xdraw.Over)
}

func drawTexts(canvas *image.RGBA, fields Fields, tpl Template) {
	white := color.RGBA{255, 255, 255, 255}
	if fields.Title != "" {
		drawScaledText(canvas, fields.Title, tpl.TitleAnchorX, tpl.TitleY, tpl.TitleSize, tpl.TitleMaxWidth, white)
	}
	if fields.Discount != "" && tpl.DiscountY > 0 && tpl.DiscountSize > 0 {
		drawScaledText(canvas, fields.Discount, -1, tpl.DiscountY, tpl.DiscountSize, tpl.TitleMaxWidth, color.RGBA{255, 224, 102, 255})
	}
	if fields.CTA != "" {
		drawCTA(canvas, fields.CTA, tpl)
	}
}

func drawCTA(canvas *image.RGBA, text string, tpl Template) {
	x0 := (tpl.CanvasW - tpl.CTAW) / 2
	box := image.Rect(x0, tpl.CTAY, x0+tpl.CTAW, tpl.CTAY+tpl.CTAH)
	xdraw.Draw(canvas, box, &image.Uniform{color.RGBA{255, 255, 255, 230}}, image.Point{}, xdraw.Over)
	drawScaledText(canvas, text, -1, tpl.CTAY+tpl.CTAH/2, tpl.CTASize, tpl.CTAW-24, color.RGBA{28, 28, 32, 255})
}

const baseFaceHeight = 13

// drawScaledText renders with the bitmap base face and scales the rendered
// strip to the requested pixel height, shrinking further if it would exceed
// maxWidth. anchorX < 0 centers horizontally; y is the vertical center of
// the rendered text.
func drawScaledText(canvas *image.RGBA, text string, anchorX, y, size, maxWidth int, col color.RGBA) {
	if text == "" || size <= 0 {
		return
	}
	face := basicfont.Face7x13
	width := font.MeasureString(face, text).Ceil()
	if width == 0 {
		return
	}

	strip := image.NewRGBA(image.Rect(0, 0, width, baseFaceHeight))
	d := font.Drawer{
		Dst:  strip,
		Src:  &image.Uniform{col},
		Face: face,
		Dot:  fixed.P(0, face.Metrics().Ascent.Ceil()),
	}
	d.DrawString(text)

	scale := float64(size) / float64(baseFaceHeight)
	outW := int(float64(width) * scale)
	outH := size
	if maxWidth > 0 && outW > maxWidth {
		shrink := float64(maxWidth) / float64(outW)
		outW = maxWidth
		outH = int(float64(outH) * shrink)
	}
	if outW <= 0 || outH <= 0 {
		return
	}

	x0 := anchorX
	if anchorX < 0 {
		x0 = (canvas.Bounds().Dx() - outW) / 2
	}
	y0 := y - outH/2
	dst := image.Rect(x0, y0, x0+outW, y0+outH)
	xdraw.ApproxBiLinear.Scale(canvas, dst, strip, strip.Bounds(), xdraw.Over, nil)
}

func writeJPEG(path string, img image.Image, quality int) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	err = jpeg.Encode(f, img, &jpeg.Options{Quality: quality})
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}
