package logger

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestInitAndLevelRoundTrip(t *testing.T) {
	if err := Init("info", "json"); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	if got := GetLevel(); got != zapcore.InfoLevel {
		t.Fatalf("GetLevel() = %s, want %s", got, zapcore.InfoLevel)
	}

	if err := SetLevel("debug"); err != nil {
		t.Fatalf("SetLevel() error = %v", err)
	}
	if got := GetLevel(); got != zapcore.DebugLevel {
		t.Fatalf("GetLevel() after SetLevel = %s, want %s", got, zapcore.DebugLevel)
	}
}

func TestSetLevelRejectsGarbage(t *testing.T) {
	if err := Init("info", "json"); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	if err := SetLevel("loud"); err == nil {
		t.Fatal("SetLevel(\"loud\") = nil, want error")
	}
}

func TestHelpersDoNotPanicAfterInit(t *testing.T) {
	if err := Init("info", "json"); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	Debug("debug message")
	Info("info message")
	Warn("warn message")
	Error("error message")
	With().Info("child logger message")

	if L() == nil {
		t.Fatal("L() = nil after Init")
	}
	if S() == nil {
		t.Fatal("S() = nil after Init")
	}
	if HTTPHandler() == nil {
		t.Fatal("HTTPHandler() = nil after Init")
	}
	_ = Sync()
}
