package logger

import (
	"testing"

	"ephyspipe/internal/config"
)

func TestNewFallsBackToInfo(t *testing.T) {
	l, err := New(config.LogConfig{Level: "chatty", Encoding: "json"})
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if l.Core().Enabled(-1) {
		t.Fatalf("debug enabled for unknown level")
	}
	if !l.Core().Enabled(0) {
		t.Fatalf("info disabled")
	}
}

func TestNewRejectsUnknownEncoding(t *testing.T) {
	if _, err := New(config.LogConfig{Level: "debug", Encoding: "xml"}); err == nil {
		t.Fatalf("expected encoder error")
	}
}
