package compose

import (
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"
	"testing"
)

func TestByIndexCycles(t *testing.T) {
	n := len(Templates)
	if n != 6 {
		t.Fatalf("template count = %d, want 6", n)
	}
	for i := 0; i < 3*n; i++ {
		if got, want := ByIndex(i).Name, Templates[i%n].Name; got != want {
			t.Errorf("ByIndex(%d) = %s, want %s", i, got, want)
		}
	}
	if ByIndex(0).Name != ByIndex(n).Name {
		t.Error("cycle should wrap")
	}
}

func TestByName(t *testing.T) {
	if _, ok := ByName("story"); !ok {
		t.Error("story template missing")
	}
	if _, ok := ByName("nonexistent"); ok {
		t.Error("unknown name should not resolve")
	}
}

func TestBackgroundForIsDeterministic(t *testing.T) {
	if BackgroundFor("red", "anything") != (color.RGBA{196, 49, 49, 255}) {
		t.Error("named colour ignored")
	}
	a := BackgroundFor("", "galaxy phone")
	b := BackgroundFor("", "galaxy phone")
	if a != b {
		t.Error("same text must map to the same colour")
	}
	if BackgroundFor("RED", "x") != BackgroundFor("red", "x") {
		t.Error("colour word should be case-insensitive")
	}
}

func product() image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 600, 400))
	for y := 0; y < 400; y++ {
		for x := 0; x < 600; x++ {
			img.Set(x, y, color.RGBA{uint8(x % 256), uint8(y % 256), 90, 255})
		}
	}
	return img
}

func decodeAd(t *testing.T, path string) image.Image {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("ad not written: %v", err)
	}
	defer f.Close()
	img, err := jpeg.Decode(f)
	if err != nil {
		t.Fatalf("ad not a jpeg: %v", err)
	}
	return img
}

func TestComposeWritesCanvasSizedJPEG(t *testing.T) {
	c := NewCompositor()
	out := filepath.Join(t.TempDir(), "ad_0001.jpg")
	fields := Fields{Title: "Big Widget", Discount: "50% off", CTA: "Buy now", Color: "blue"}

	tpl, _ := ByName("facebook")
	path, err := c.Compose(product(), nil, true, fields, out, tpl)
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}
	img := decodeAd(t, path)
	if img.Bounds().Dx() != 1200 || img.Bounds().Dy() != 628 {
		t.Errorf("canvas = %v, want 1200x628", img.Bounds())
	}

	// Overwrite is idempotent.
	if _, err := c.Compose(product(), nil, true, fields, out, tpl); err != nil {
		t.Fatalf("recompose: %v", err)
	}
}

func TestComposePrefersConditionedUnlessForced(t *testing.T) {
	c := NewCompositor()
	dir := t.TempDir()

	conditioned := image.NewRGBA(image.Rect(0, 0, 300, 300))
	for y := 0; y < 300; y++ {
		for x := 0; x < 300; x++ {
			conditioned.Set(x, y, color.RGBA{0, 255, 0, 255})
		}
	}

	tpl, _ := ByName("minimal")
	// minimal has no overlay so product pixels survive verbatim.
	a := filepath.Join(dir, "a.jpg")
	if _, err := c.Compose(product(), conditioned, false, Fields{Color: "black"}, a, tpl); err != nil {
		t.Fatal(err)
	}
	b := filepath.Join(dir, "b.jpg")
	if _, err := c.Compose(product(), conditioned, true, Fields{Color: "black"}, b, tpl); err != nil {
		t.Fatal(err)
	}

	// Sample the product center: green when conditioned is used.
	imgA := decodeAd(t, a)
	r, g, _, _ := imgA.At(tpl.CanvasW/2, tpl.ProductY).RGBA()
	if g>>8 < 200 || r>>8 > 80 {
		t.Errorf("conditioned image not used: r=%d g=%d", r>>8, g>>8)
	}
	imgB := decodeAd(t, b)
	_, gB, _, _ := imgB.At(tpl.CanvasW/2, tpl.ProductY).RGBA()
	if gB>>8 > 200 {
		t.Error("useOriginal ignored the original image")
	}
}

func TestPlaceholderWritesAd(t *testing.T) {
	c := NewCompositor()
	out := filepath.Join(t.TempDir(), "ad_0002.jpg")
	path, err := c.Placeholder("red sneakers", Fields{CTA: "Shop"}, out, ByIndex(1))
	if err != nil {
		t.Fatalf("Placeholder: %v", err)
	}
	img := decodeAd(t, path)
	if img.Bounds().Dx() != 1080 {
		t.Errorf("canvas width = %d", img.Bounds().Dx())
	}
}
