package imaging

import (
	"image/color"
	"testing"
)

func TestValidateAcceptsNoisyImage(t *testing.T) {
	img, err := Validate(encodeJPEG(t, noisyImage(400, 300)), testLimits())
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if img.Bounds().Dx() != 400 {
		t.Errorf("width = %d", img.Bounds().Dx())
	}
}

func TestValidateRejects(t *testing.T) {
	cases := []struct {
		name string
		data []byte
	}{
		{"garbage bytes", []byte("not an image at all")},
		{"too small", encodeJPEG(t, noisyImage(100, 100))},
		{"extreme aspect", encodeJPEG(t, noisyImage(2000, 200))},
		{"near solid", encodeJPEG(t, solidImage(400, 400, color.RGBA{200, 30, 30, 255}))},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Validate(tc.data, testLimits()); err == nil {
				t.Error("expected rejection")
			}
		})
	}
}

func TestDedupSetFirstWriterWins(t *testing.T) {
	d := NewDedupSet()
	if !d.Add("abc") {
		t.Error("first add should be new")
	}
	if d.Add("abc") {
		t.Error("second add should report duplicate")
	}
	if !d.Add("def") {
		t.Error("distinct key should be new")
	}
	if d.Len() != 2 {
		t.Errorf("Len = %d, want 2", d.Len())
	}
}
