package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSafeJoinRejectsPathEscape(t *testing.T) {
	root := "/data/output/PET-7H24M"

	cases := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"plain relative file", "run1/file.csv", false},
		{"dot dot escape", "../../etc/passwd", true},
		{"absolute looking path within root", "/run1/file.csv", false},
		{"sneaky escape via subdir", "run1/../../../etc/passwd", true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := safeJoin(root, tc.input)
			if tc.wantErr && err == nil {
				t.Fatalf("safeJoin(%q) = nil error, want ErrPathEscape", tc.input)
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("safeJoin(%q) = %v, want nil error", tc.input, err)
			}
		})
	}
}

func TestHandleHealthReturnsOK(t *testing.T) {
	s := &Server{}
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	s.handleHealth(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if rec.Body.String() != "OK" {
		t.Fatalf("body = %q, want %q", rec.Body.String(), "OK")
	}
}
