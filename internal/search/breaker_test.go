package search

import (
	"testing"
	"time"
)

func TestBreakerOpensAtThreshold(t *testing.T) {
	b := NewBreaker(3, time.Minute)

	b.RecordFailure()
	b.RecordFailure()
	if b.Open() {
		t.Error("open after 2 failures, threshold 3")
	}
	b.RecordFailure()
	if !b.Open() {
		t.Error("not open after 3 failures")
	}
}

func TestBreakerSuccessCloses(t *testing.T) {
	b := NewBreaker(2, time.Minute)
	b.RecordFailure()
	b.RecordFailure()
	if !b.Open() {
		t.Fatal("expected open")
	}
	b.RecordSuccess()
	if b.Open() {
		t.Error("open after success")
	}
}

func TestBreakerCooldownProbe(t *testing.T) {
	now := time.Now()
	b := NewBreaker(1, time.Minute)
	b.now = func() time.Time { return now }

	b.RecordFailure()
	if !b.Open() {
		t.Fatal("expected open")
	}

	now = now.Add(61 * time.Second)
	// First check after the cooldown clears state and admits the probe.
	if b.Open() {
		t.Error("expected probe admission after cooldown")
	}
	// The probe admission reset the failure count, so a breaker with a
	// higher threshold needs a full new run of failures to reopen.
	b2 := NewBreaker(2, time.Minute)
	b2.now = func() time.Time { return now }
	b2.RecordFailure()
	b2.RecordFailure()
	now = now.Add(2 * time.Minute)
	if b2.Open() {
		t.Fatal("cooldown expired, want closed")
	}
	b2.RecordFailure()
	if b2.Open() {
		t.Error("single failure after reset reopened a threshold-2 breaker")
	}
}
