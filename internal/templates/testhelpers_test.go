package templates

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// headerCounter records a response and counts WriteHeader calls reaching it
type headerCounter struct {
	*httptest.ResponseRecorder
	headerWrites int
}

func newHeaderCounter() *headerCounter {
	return &headerCounter{ResponseRecorder: httptest.NewRecorder()}
}

func (h *headerCounter) WriteHeader(status int) {
	h.headerWrites++
	h.ResponseRecorder.WriteHeader(status)
}

func (h *headerCounter) Write(b []byte) (int, error) {
	if h.headerWrites == 0 {
		h.WriteHeader(http.StatusOK)
	}
	return h.ResponseRecorder.Write(b)
}

// missing returns the substrings absent from the recorded body
func (h *headerCounter) missing(want ...string) []string {
	body := h.Body.String()
	var out []string
	for _, s := range want {
		if !strings.Contains(body, s) {
			out = append(out, s)
		}
	}
	return out
}

func setupTemplates(t *testing.T) *Templates {
	t.Helper()
	tmpls, err := LoadTemplates()
	if err != nil {
		t.Fatalf("LoadTemplates() error = %v", err)
	}
	return tmpls
}
