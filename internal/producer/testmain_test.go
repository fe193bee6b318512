package producer_test

import (
	"os"
	"testing"

	"coursepulse.io/notifier/internal/pkg/logger"
)

func TestMain(m *testing.M) {
	if err := logger.Init("error", "json"); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}
