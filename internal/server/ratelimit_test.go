package server

import (
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/time/rate"
)

func TestClientLimiterAllow(t *testing.T) {
	// 2 events per second with burst 2
	ml := newClientLimiter(rate.Limit(2), 2, time.Minute)
	key := "test"
	if !ml.allow(key) {
		t.Fatal("first allow should pass")
	}
	if !ml.allow(key) {
		t.Fatal("second allow should pass")
	}
	if ml.allow(key) {
		t.Fatal("third allow should be rate limited")
	}
	if !ml.allow("other") {
		t.Fatal("clients must not share a bucket")
	}
}

func TestClientLimiterForgetsIdleClients(t *testing.T) {
	ml := newClientLimiter(rate.Limit(1), 1, time.Nanosecond)
	ml.allow("a")
	time.Sleep(time.Millisecond)
	ml.allow("b")
	if n := ml.len(); n != 1 {
		t.Fatalf("want 1 tracked client, got %d", n)
	}
}

func TestRemoteHostIgnoresForwardedFor(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "10.0.0.7:51234"
	r.Header.Set("X-Forwarded-For", "1.2.3.4")
	if got := remoteHost(r); got != "10.0.0.7" {
		t.Fatalf("got %q", got)
	}
}
