package response

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"maxyourpoints/internal/pkg/apperr"
)

func TestStatusOf(t *testing.T) {
	cases := map[apperr.Kind]int{
		apperr.KindValidation:         http.StatusBadRequest,
		apperr.KindUnauthorized:       http.StatusUnauthorized,
		apperr.KindForbidden:          http.StatusForbidden,
		apperr.KindNotFound:           http.StatusNotFound,
		apperr.KindConflict:           http.StatusBadRequest,
		apperr.KindInvalidOperation:   http.StatusBadRequest,
		apperr.KindServiceUnavailable: http.StatusServiceUnavailable,
		apperr.KindTooManyRequests:    http.StatusTooManyRequests,
		apperr.KindInternal:           http.StatusInternalServerError,
	}
	for kind, want := range cases {
		if got := StatusOf(kind); got != want {
			t.Fatalf("%s: expected %d, got %d", kind, want, got)
		}
	}
}

func serve(err error, verbose bool) (*httptest.ResponseRecorder, Body) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/", func(c *gin.Context) { Error(c, nil, err, verbose) })
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	var body Body
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	return w, body
}

func TestErrorBody(t *testing.T) {
	w, body := serve(apperr.Validation("validation failed", "title is required"), false)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if body.Error != "validation_error" || body.Message != "validation failed" {
		t.Fatalf("unexpected body: %+v", body)
	}
	if len(body.Details) != 1 || body.Details[0] != "title is required" {
		t.Fatalf("unexpected details: %+v", body.Details)
	}
}

func TestInternalErrorHidesCause(t *testing.T) {
	cause := errors.New("dial tcp 10.0.0.1:3306: connection refused")

	w, body := serve(apperr.Internal("Failed to fetch articles", cause), false)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
	if len(body.Details) != 0 {
		t.Fatalf("cause leaked: %+v", body.Details)
	}

	_, body = serve(apperr.Internal("Failed to fetch articles", cause), true)
	if len(body.Details) != 1 || body.Details[0] != cause.Error() {
		t.Fatalf("expected cause in verbose mode, got %+v", body.Details)
	}

	_, body = serve(errors.New("plain"), false)
	if body.Error != "internal_error" {
		t.Fatalf("expected internal_error, got %s", body.Error)
	}
}
