package responders

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestJSON_DoesNotEscapeURLs(t *testing.T) {
	rec := httptest.NewRecorder()
	JSON(rec, http.StatusCreated, map[string]string{"url": "http://shop.test/ok?a=1&b=2"})

	if rec.Code != http.StatusCreated {
		t.Errorf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "a=1&b=2") {
		t.Errorf("body = %s", rec.Body)
	}
}

func TestJSON_NilPayload(t *testing.T) {
	rec := httptest.NewRecorder()
	JSON(rec, http.StatusOK, nil)
	if rec.Body.Len() != 0 {
		t.Errorf("body = %q, want empty", rec.Body)
	}
}

func TestRedirectJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	RedirectJSON(rec, "http://shop.test/ok", map[string]string{"redirect_url": "http://shop.test/ok"})

	if rec.Code != http.StatusOK || rec.Header().Get("Location") != "http://shop.test/ok" {
		t.Errorf("status=%d location=%q", rec.Code, rec.Header().Get("Location"))
	}
}

func TestSeeOther(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/payment/x", nil)
	SeeOther(rec, req, "http://shop.test/fail")

	if rec.Code != http.StatusSeeOther || rec.Header().Get("Location") != "http://shop.test/fail" {
		t.Errorf("status=%d location=%q", rec.Code, rec.Header().Get("Location"))
	}
}
