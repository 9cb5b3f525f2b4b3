package verify

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

var strict = Thresholds{
	ClipAccept:     0.25,
	ClipReject:     0.15,
	CombinedAccept: 0.25,
	CombinedReject: 0.12,
	ClipWeight:     0.6,
	BlipWeight:     0.4,
}

var relaxed = Thresholds{
	CombinedAccept: 0.15,
	CombinedReject: 0.06,
	ClipWeight:     0.6,
	BlipWeight:     0.4,
}

func TestOverlapScore(t *testing.T) {
	cases := []struct {
		caption, query string
		want           float64
	}{
		{"a red sneaker on a table", "red sneakers", 0.5},
		{"red sneakers", "red sneakers", 1},
		{"a cat", "red sneakers", 0},
		{"", "red sneakers", 0},
		{"anything", "", 0},
		{"Red RED red widget", "red red widget", 1},
	}
	for _, tc := range cases {
		if got := OverlapScore(tc.caption, tc.query); got != tc.want {
			t.Errorf("OverlapScore(%q, %q) = %v, want %v", tc.caption, tc.query, got, tc.want)
		}
	}
}

func TestDecideTable(t *testing.T) {
	cases := []struct {
		name       string
		clip, blip float64
		accepted   bool
		reason     string
	}{
		{"clip immediate accept", 0.30, 0.0, true, "clip_accept"},
		{"clip immediate reject", 0.10, 0.9, false, "clip_reject"},
		{"combined accept", 0.20, 0.40, true, "combined_accept"},
		{"borderline kept for best-so-far", 0.16, 0.10, false, "borderline"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := Decide(tc.clip, tc.blip, strict)
			if r.Accepted != tc.accepted || r.Reason != tc.reason {
				t.Errorf("Decide(%v, %v) = %+v, want accepted=%v reason=%s",
					tc.clip, tc.blip, r, tc.accepted, tc.reason)
			}
		})
	}
}

func TestDecideComposedUsesCombinedOnly(t *testing.T) {
	// Low clip that stage 1 would reject outright passes stage 2 when the
	// combined score clears the relaxed bar.
	r := DecideComposed(0.12, 0.30, relaxed)
	if !r.Accepted {
		t.Errorf("composed decision = %+v, want accepted", r)
	}
	r = DecideComposed(0.05, 0.05, relaxed)
	if r.Accepted || r.Reason != "post_reject" {
		t.Errorf("composed decision = %+v, want post_reject", r)
	}
}

func TestClientVerifyAgainstFakeService(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(10 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if r.FormValue("query") != "red sneakers" {
			http.Error(w, "missing query", http.StatusBadRequest)
			return
		}
		fmt.Fprint(w, `{"clip":0.3,"caption":"red sneakers on white"}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second, strict, relaxed)
	r, err := c.Verify(context.Background(), []byte("imagebytes"), "red sneakers")
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !r.Accepted || r.Reason != "clip_accept" {
		t.Errorf("result = %+v, want clip_accept", r)
	}
	if r.Blip != 1 {
		t.Errorf("blip = %v, want 1 (full caption overlap)", r.Blip)
	}
}

func TestClientSurfacesServiceError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model loading", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second, strict, relaxed)
	if _, err := c.Verify(context.Background(), []byte("x"), "q"); err == nil {
		t.Error("expected error from 503 response")
	}
}
