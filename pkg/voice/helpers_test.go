package voice

import (
	"errors"
	"io"
	"log/slog"
	"testing"
)

var errSinkBroken = errors.New("sink broken")

func testLogger(t *testing.T) *slog.Logger {
	t.Helper()
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
