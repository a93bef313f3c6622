package response

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func init() { gin.SetMode(gin.TestMode) }

func TestRequestIDMiddleware(t *testing.T) {
	tests := []struct {
		name   string
		header string
		keep   bool
	}{
		{name: "generated when absent", header: "", keep: false},
		{name: "kept when plain", header: "edge-7f3a.01_b", keep: true},
		{name: "replaced when too long", header: strings.Repeat("a", 65), keep: false},
		{name: "replaced when it carries spaces", header: "a b", keep: false},
		{name: "replaced when it carries control bytes", header: "id\x01", keep: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := gin.New()
			r.Use(RequestIDMiddleware())
			r.GET("/", func(c *gin.Context) { Success(c, http.StatusOK, nil) })

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("X-Request-ID", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			got := w.Header().Get("X-Request-ID")
			if got == "" {
				t.Fatal("missing X-Request-ID")
			}
			if (got == tt.header) != tt.keep {
				t.Errorf("X-Request-ID = %q, header %q, keep %v", got, tt.header, tt.keep)
			}

			var body Response
			if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body.Metadata.RequestID != got {
				t.Errorf("metadata request_id = %q, header %q", body.Metadata.RequestID, got)
			}
		})
	}
}

func TestFailWithFields(t *testing.T) {
	r := gin.New()
	r.GET("/", func(c *gin.Context) {
		FailWithFields(c, http.StatusBadRequest, ErrValidation, map[string]string{"job_id": "bad"})
	})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	var body Response
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if w.Code != http.StatusBadRequest || body.Error == nil || body.Error.Fields["job_id"] != "bad" {
		t.Errorf("status = %d error = %+v", w.Code, body.Error)
	}
	if body.Error.Message != GetMessage(ErrValidation) {
		t.Errorf("message = %q", body.Error.Message)
	}
	if body.Metadata.RequestID == "" {
		t.Error("fallback request id missing")
	}
}
