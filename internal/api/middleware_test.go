package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRequireBasicAuth(t *testing.T) {
	called := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true })
	h := RequireBasicAuth("admin", "secret")(next)

	t.Run("missing credentials", func(t *testing.T) {
		called = false
		r := httptest.NewRequest(http.MethodGet, "/context", nil)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		if w.Code != http.StatusForbidden {
			t.Fatalf("status = %d, want 403", w.Code)
		}
		if called {
			t.Fatal("handler should not have been called")
		}
		if w.Header().Get("WWW-Authenticate") == "" {
			t.Fatal("expected WWW-Authenticate header on failure")
		}
	})

	t.Run("wrong password", func(t *testing.T) {
		called = false
		r := httptest.NewRequest(http.MethodGet, "/context", nil)
		r.SetBasicAuth("admin", "wrong")
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		if w.Code != http.StatusForbidden {
			t.Fatalf("status = %d, want 403", w.Code)
		}
		if called {
			t.Fatal("handler should not have been called")
		}
	})

	t.Run("correct credentials", func(t *testing.T) {
		called = false
		r := httptest.NewRequest(http.MethodGet, "/context", nil)
		r.SetBasicAuth("admin", "secret")
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", w.Code)
		}
		if !called {
			t.Fatal("expected handler to be called")
		}
	})
}
