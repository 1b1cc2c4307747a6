package api

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/aarushishahhh/supplysync/project/internal/notify"
)

func externalForm(action, apiURL, token string) url.Values {
	return url.Values{
		"action":      {action},
		"apiUrl":      {apiURL},
		"accessToken": {token},
	}
}

func TestExternalInvalidAction(t *testing.T) {
	env := setupTestEnv(t)

	rec := env.do(t, http.MethodPost, "/app/api/external", url.Values{"action": {"deleteEverything"}})

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status %d, got %d", http.StatusBadRequest, rec.Code)
	}
	body := decodeBody(t, rec)
	if body["success"] != false || body["error"] != "Invalid action" {
		t.Errorf("unexpected body %v", body)
	}
}

func TestValidateConnectionAction(t *testing.T) {
	env := setupTestEnv(t)

	var mu sync.Mutex
	var seen []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		seen = append(seen, r.Header.Get("Authorization"))
		mu.Unlock()

		if r.URL.Path == "/missing" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"error":"No such endpoint"}`))
			return
		}
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<html>not inspected</html>"))
	}))
	defer server.Close()

	t.Run("success", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/app/api/external", externalForm("validateConnection", server.URL, "Bearer abc"))

		if rec.Code != http.StatusOK {
			t.Fatalf("expected status %d, got %d: %s", http.StatusOK, rec.Code, rec.Body.String())
		}
		body := decodeBody(t, rec)
		if body["success"] != true || body["status"] != float64(200) {
			t.Errorf("unexpected body %v", body)
		}
	})

	t.Run("bare and prefixed tokens send the same header", func(t *testing.T) {
		env.do(t, http.MethodPost, "/app/api/external", externalForm("validateConnection", server.URL, "abc"))

		mu.Lock()
		defer mu.Unlock()
		if len(seen) < 2 || seen[len(seen)-1] != seen[len(seen)-2] {
			t.Errorf("expected identical Authorization headers, got %v", seen)
		}
		if seen[len(seen)-1] != "Bearer abc" {
			t.Errorf("expected 'Bearer abc', got %q", seen[len(seen)-1])
		}
	})

	t.Run("upstream error keeps status", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/app/api/external", externalForm("validateConnection", server.URL+"/missing", "abc"))

		if rec.Code != http.StatusNotFound {
			t.Fatalf("expected status %d, got %d", http.StatusNotFound, rec.Code)
		}
		body := decodeBody(t, rec)
		if body["success"] != false || body["error"] != "No such endpoint" || body["status"] != float64(404) {
			t.Errorf("unexpected body %v", body)
		}
	})

	t.Run("missing fields", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/app/api/external", externalForm("validateConnection", "", "abc"))

		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected status %d, got %d", http.StatusBadRequest, rec.Code)
		}
	})

	t.Run("events carry the shop", func(t *testing.T) {
		events := env.recorder.Events()
		if len(events) == 0 {
			t.Fatal("expected events")
		}
		first := events[0]
		if first.Kind != notify.KindConnectionValidated || first.Type != notify.TypeSuccess || first.Shop != testShop {
			t.Errorf("unexpected first event %+v", first)
		}
	})
}

func TestFetchSampleDataAction(t *testing.T) {
	env := setupTestEnv(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		if r.URL.Query().Get("page") == "2" {
			w.Write([]byte(`{"data":[{"sku":"C"}],"meta":{"current_page":2,"per_page":2,"total":3,"prev_page_url":"/p1"}}`))
			return
		}
		w.Write([]byte(`{"data":[{"sku":"A"},{"sku":"B"}],"meta":{"per_page":2,"total":3,"next_page_url":"/p2"}}`))
	}))
	defer server.Close()

	t.Run("first page", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/app/api/external", externalForm("fetchSampleData", server.URL, "abc"))

		if rec.Code != http.StatusOK {
			t.Fatalf("expected status %d, got %d: %s", http.StatusOK, rec.Code, rec.Body.String())
		}
		body := decodeBody(t, rec)
		items, _ := body["items"].([]any)
		if body["success"] != true || len(items) != 2 {
			t.Fatalf("unexpected body %v", body)
		}
		pagination, _ := body["pagination"].(map[string]any)
		if pagination["hasNextPage"] != true || pagination["hasPrevPage"] != false || pagination["currentPage"] != float64(1) {
			t.Errorf("unexpected pagination %v", pagination)
		}
	})

	t.Run("second page", func(t *testing.T) {
		form := externalForm("fetchSampleData", server.URL, "abc")
		form.Set("page", "2")
		rec := env.do(t, http.MethodPost, "/app/api/external", form)

		body := decodeBody(t, rec)
		pagination, _ := body["pagination"].(map[string]any)
		if pagination["currentPage"] != float64(2) || pagination["hasPrevPage"] != true {
			t.Errorf("unexpected pagination %v", pagination)
		}
	})

	t.Run("invalid page falls back to first", func(t *testing.T) {
		form := externalForm("fetchSampleData", server.URL, "abc")
		form.Set("page", "zero")
		rec := env.do(t, http.MethodPost, "/app/api/external", form)

		body := decodeBody(t, rec)
		pagination, _ := body["pagination"].(map[string]any)
		if pagination["currentPage"] != float64(1) {
			t.Errorf("expected page 1, got %v", pagination)
		}
	})
}

func TestFetchSampleDataNonJSON(t *testing.T) {
	env := setupTestEnv(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("id,sku\n1,A"))
	}))
	defer server.Close()

	rec := env.do(t, http.MethodPost, "/app/api/external", externalForm("fetchSampleData", server.URL, "abc"))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status %d, got %d", http.StatusBadRequest, rec.Code)
	}
	body := decodeBody(t, rec)
	if body["success"] != false || body["error"] == "" {
		t.Errorf("unexpected body %v", body)
	}
}

func TestFetchSampleFieldsAction(t *testing.T) {
	env := setupTestEnv(t)

	t.Run("flattens first record", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"products":[{"id":1,"meta":{"color":"red","size":{"value":"M"}}},{"other":true}]}`))
		}))
		defer server.Close()

		rec := env.do(t, http.MethodPost, "/app/api/external", externalForm("fetchSampleFields", server.URL, "abc"))

		if rec.Code != http.StatusOK {
			t.Fatalf("expected status %d, got %d: %s", http.StatusOK, rec.Code, rec.Body.String())
		}
		body := decodeBody(t, rec)
		fields, _ := body["fields"].([]any)
		var got []string
		for _, f := range fields {
			got = append(got, f.(string))
		}
		if strings.Join(got, ",") != "id,meta.color,meta.size.value" {
			t.Errorf("unexpected fields %v", got)
		}
		if _, ok := body["sample"].(map[string]any); !ok {
			t.Errorf("expected sample object, got %v", body["sample"])
		}
	})

	t.Run("no records", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"products":[]}`))
		}))
		defer server.Close()

		rec := env.do(t, http.MethodPost, "/app/api/external", externalForm("fetchSampleFields", server.URL, "abc"))

		body := decodeBody(t, rec)
		fields, ok := body["fields"].([]any)
		if body["success"] != true || !ok || len(fields) != 0 || body["sample"] != nil {
			t.Errorf("unexpected body %v", body)
		}
	})
}

func TestUpstreamNotModifiedBecomesBadGateway(t *testing.T) {
	env := setupTestEnv(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotModified)
	}))
	defer server.Close()

	for _, action := range []string{"validateConnection", "fetchSampleData", "fetchSampleFields"} {
		t.Run(action, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/app/api/external", externalForm(action, server.URL, "tok"))

			if rec.Code != http.StatusBadGateway {
				t.Fatalf("expected status %d, got %d", http.StatusBadGateway, rec.Code)
			}
			body := decodeBody(t, rec)
			if body["success"] != false || body["error"] == "" || body["error"] == nil {
				t.Errorf("expected JSON error body, got %v", body)
			}
		})
	}
}

func TestUpstreamStatus(t *testing.T) {
	tests := []struct {
		in, want int
	}{
		{http.StatusOK, http.StatusBadGateway},
		{http.StatusNotModified, http.StatusBadGateway},
		{http.StatusFound, http.StatusBadGateway},
		{http.StatusUnauthorized, http.StatusUnauthorized},
		{http.StatusTooManyRequests, http.StatusTooManyRequests},
		{http.StatusServiceUnavailable, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		if got := upstreamStatus(tt.in); got != tt.want {
			t.Errorf("upstreamStatus(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
