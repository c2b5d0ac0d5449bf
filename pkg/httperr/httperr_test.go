package httperr

import (
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"syscall"
	"testing"
)

func TestFromPassesThroughEnvelope(t *testing.T) {
	orig := NotFound("missing thing").WithDetails(map[string]any{"path": "/x"})

	got := From(orig)
	if got != orig {
		t.Fatal("expected the original envelope back")
	}
	if got.ResolveStatus() != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", got.ResolveStatus())
	}
}

func TestFromWrappedEnvelope(t *testing.T) {
	orig := ServerError("boom")
	wrapped := fmt.Errorf("handling request: %w", orig)

	got := From(wrapped)
	if got != orig {
		t.Fatal("expected the wrapped envelope to be unwrapped")
	}
}

func TestFromEntryMissing(t *testing.T) {
	err := fmt.Errorf("open asset: %w", fs.ErrNotExist)

	got := From(err)
	if got.Kind != KindNotFound {
		t.Errorf("expected KindNotFound, got %v", got.Kind)
	}
	if got.ResolveStatus() != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", got.ResolveStatus())
	}
	if got.Code != "ENOENT" {
		t.Errorf("expected code ENOENT, got %q", got.Code)
	}
	if !errors.Is(got, fs.ErrNotExist) {
		t.Error("expected the cause to remain reachable")
	}
}

func TestFromIsADirectory(t *testing.T) {
	got := From(syscall.EISDIR)
	if got.ResolveStatus() != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", got.ResolveStatus())
	}
	if got.Code != "EISDIR" {
		t.Errorf("expected code EISDIR, got %q", got.Code)
	}
}

func TestFromUncategorized(t *testing.T) {
	got := From(errors.New("something broke"))
	if got.Kind != KindServerError {
		t.Errorf("expected KindServerError, got %v", got.Kind)
	}
	if got.ResolveStatus() != http.StatusInternalServerError {
		t.Errorf("expected status 500, got %d", got.ResolveStatus())
	}
	if got.Message != "something broke" {
		t.Errorf("unexpected message %q", got.Message)
	}
}

func TestResolveStatusPreference(t *testing.T) {
	tests := []struct {
		name string
		err  Error
		want int
	}{
		{"explicit status wins", Error{Status: 404, LegacyStatus: 410}, 404},
		{"legacy status next", Error{LegacyStatus: 410}, 410},
		{"default server error", Error{}, 500},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.ResolveStatus(); got != tt.want {
				t.Errorf("expected %d, got %d", tt.want, got)
			}
		})
	}
}
