// Package compose renders the final ad: product artifact over a styled
// canvas with title, discount, and call-to-action text, laid out by a fixed
// set of templates.
package compose

import "image/color"

// Template fixes the geometry of one ad layout.
type Template struct {
	Name string

	CanvasW, CanvasH int

	// Product placement: scaled to fit inside ProductMaxW/H, centered
	// horizontally, vertical center at ProductY.
	ProductMaxW, ProductMaxH int
	ProductY                 int

	TitleY        int
	TitleMaxWidth int
	// TitleAnchorX < 0 centers the title; otherwise it left-aligns there.
	TitleAnchorX int

	DiscountY int

	CTAY          int
	CTAW, CTAH    int
	OverlayAlpha  uint8
	TitleSize     int
	DiscountSize  int
	CTASize       int
}

// Templates in cycle order. Selection is ByIndex(idx); a run walks them
// round-robin so adjacent rows get visibly different ads.
var Templates = []Template{
	{
		Name:    "centered",
		CanvasW: 1080, CanvasH: 1080,
		ProductMaxW: 700, ProductMaxH: 560, ProductY: 520,
		TitleY: 120, TitleMaxWidth: 920, TitleAnchorX: -1,
		DiscountY: 880,
		CTAY:      970, CTAW: 360, CTAH: 84,
		OverlayAlpha: 40, TitleSize: 64, DiscountSize: 48, CTASize: 36,
	},
	{
		Name:    "left_aligned",
		CanvasW: 1080, CanvasH: 1080,
		ProductMaxW: 520, ProductMaxH: 640, ProductY: 540,
		TitleY: 160, TitleMaxWidth: 460, TitleAnchorX: 60,
		DiscountY: 620,
		CTAY:      780, CTAW: 320, CTAH: 80,
		OverlayAlpha: 60, TitleSize: 56, DiscountSize: 44, CTASize: 34,
	},
	{
		Name:    "facebook",
		CanvasW: 1200, CanvasH: 628,
		ProductMaxW: 480, ProductMaxH: 480, ProductY: 314,
		TitleY: 110, TitleMaxWidth: 560, TitleAnchorX: 620,
		DiscountY: 300,
		CTAY:      480, CTAW: 300, CTAH: 72,
		OverlayAlpha: 40, TitleSize: 52, DiscountSize: 40, CTASize: 30,
	},
	{
		Name:    "story",
		CanvasW: 1080, CanvasH: 1920,
		ProductMaxW: 820, ProductMaxH: 900, ProductY: 860,
		TitleY: 240, TitleMaxWidth: 920, TitleAnchorX: -1,
		DiscountY: 1460,
		CTAY:      1680, CTAW: 420, CTAH: 96,
		OverlayAlpha: 50, TitleSize: 72, DiscountSize: 56, CTASize: 42,
	},
	{
		Name:    "minimal",
		CanvasW: 1080, CanvasH: 1080,
		ProductMaxW: 760, ProductMaxH: 620, ProductY: 500,
		TitleY: 96, TitleMaxWidth: 960, TitleAnchorX: -1,
		DiscountY: 0, // no discount strap
		CTAY:      960, CTAW: 300, CTAH: 72,
		OverlayAlpha: 0, TitleSize: 56, DiscountSize: 0, CTASize: 32,
	},
	{
		Name:    "product_left",
		CanvasW: 1080, CanvasH: 1080,
		ProductMaxW: 540, ProductMaxH: 700, ProductY: 540,
		TitleY: 200, TitleMaxWidth: 420, TitleAnchorX: 600,
		DiscountY: 560,
		CTAY:      760, CTAW: 340, CTAH: 84,
		OverlayAlpha: 50, TitleSize: 54, DiscountSize: 46, CTASize: 34,
	},
}

// ByIndex returns the template for a row, cycling the list.
func ByIndex(idx int) Template {
	if idx < 0 {
		idx = -idx
	}
	return Templates[idx%len(Templates)]
}

// ByName finds a template for the preview command; ok is false for unknown
// names.
func ByName(name string) (Template, bool) {
	for _, t := range Templates {
		if t.Name == name {
			return t, true
		}
	}
	return Template{}, false
}

// namedColors maps row colour words to canvas backgrounds.
var namedColors = map[string]color.RGBA{
	"red":    {196, 49, 49, 255},
	"blue":   {43, 84, 163, 255},
	"green":  {41, 122, 72, 255},
	"black":  {24, 24, 28, 255},
	"white":  {244, 244, 246, 255},
	"yellow": {222, 178, 44, 255},
	"orange": {224, 122, 43, 255},
	"purple": {108, 62, 158, 255},
	"pink":   {214, 104, 146, 255},
	"gray":   {112, 112, 118, 255},
	"brown":  {122, 84, 52, 255},
	"teal":   {38, 128, 134, 255},
}

// palette used when the row names no colour; indexed by a text hash so the
// same row text always gets the same background.
var palette = []color.RGBA{
	{52, 73, 124, 255},
	{124, 52, 70, 255},
	{46, 110, 88, 255},
	{130, 96, 44, 255},
	{84, 60, 128, 255},
	{36, 100, 128, 255},
}

// BackgroundFor picks the canvas colour: an explicit colour word wins,
// otherwise a deterministic palette pick from the text.
func BackgroundFor(colorWord, text string) color.RGBA {
	if c, ok := namedColors[normalizeWord(colorWord)]; ok {
		return c
	}
	var h uint32 = 2166136261
	for i := 0; i < len(text); i++ {
		h ^= uint32(text[i])
		h *= 16777619
	}
	return palette[h%uint32(len(palette))]
}

func normalizeWord(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		if c == ' ' || c == '\t' {
			continue
		}
		out = append(out, c)
	}
	return string(out)
}
