package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/aarushishahhh/supplysync/project/internal/models"
	"github.com/aarushishahhh/supplysync/project/internal/notify"
)

func connectionForm(name, apiURL, token string) url.Values {
	return url.Values{
		"name":        {name},
		"apiUrl":      {apiURL},
		"accessToken": {token},
	}
}

func createConnection(t *testing.T, env *testEnv, apiURL string) models.Connection {
	t.Helper()
	rec := env.do(t, http.MethodPost, "/app/api/connections", connectionForm("Acme", apiURL, "Bearer tok"))
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status %d, got %d: %s", http.StatusCreated, rec.Code, rec.Body.String())
	}
	var resp connectionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	return *resp.Connection
}

func TestCreateConnection(t *testing.T) {
	env := setupTestEnv(t)

	t.Run("create valid connection", func(t *testing.T) {
		conn := createConnection(t, env, "https://Acme.example/products/")

		if !strings.HasPrefix(conn.ID, "conn_") {
			t.Errorf("expected conn_ id, got %q", conn.ID)
		}
		if conn.APIURL != "https://Acme.example/products/" {
			t.Errorf("expected URL as submitted, got %q", conn.APIURL)
		}

		stored, err := env.store.GetConnection(testShop, conn.ID)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if stored.AccessToken != "tok" {
			t.Errorf("expected normalized token, got %q", stored.AccessToken)
		}
	})

	t.Run("token is never serialized", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/app/api/connections", nil)
		if strings.Contains(rec.Body.String(), "tok") {
			t.Errorf("access token leaked: %s", rec.Body.String())
		}
	})

	t.Run("duplicate canonical URL", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/app/api/connections", connectionForm("Acme", "https://acme.example/products", "tok"))

		if rec.Code != http.StatusOK {
			t.Errorf("expected status %d, got %d", http.StatusOK, rec.Code)
		}
	})

	t.Run("idempotency key", func(t *testing.T) {
		send := func(apiURL string) *httptest.ResponseRecorder {
			form := connectionForm("Keyed", apiURL, "tok")
			req := httptest.NewRequest(http.MethodPost, "/app/api/connections", strings.NewReader(form.Encode()))
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			req.Header.Set("Authorization", "Bearer "+sessionToken(t, testShop))
			req.Header.Set("Idempotency-Key", "key-1")
			rec := httptest.NewRecorder()
			env.router.ServeHTTP(rec, req)
			return rec
		}

		first := send("https://keyed.example")
		if first.Code != http.StatusCreated {
			t.Fatalf("expected status %d, got %d", http.StatusCreated, first.Code)
		}
		second := send("https://different.example")
		if second.Code != http.StatusOK {
			t.Fatalf("expected replay status %d, got %d", http.StatusOK, second.Code)
		}

		var a, b connectionResponse
		json.Unmarshal(first.Body.Bytes(), &a)
		json.Unmarshal(second.Body.Bytes(), &b)
		if a.Connection.ID != b.Connection.ID {
			t.Errorf("expected replay to return %q, got %q", a.Connection.ID, b.Connection.ID)
		}
	})

	invalid := []struct {
		name string
		form url.Values
	}{
		{"missing name", connectionForm("", "https://x.example", "tok")},
		{"missing token", connectionForm("X", "https://x.example", "Bearer ")},
		{"missing scheme", connectionForm("X", "x.example", "tok")},
		{"ftp scheme", connectionForm("X", "ftp://x.example", "tok")},
	}
	for _, tt := range invalid {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/app/api/connections", tt.form)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("expected status %d, got %d", http.StatusBadRequest, rec.Code)
			}
		})
	}

	t.Run("created event", func(t *testing.T) {
		kinds := env.recorder.Kinds()
		if len(kinds) == 0 || kinds[0] != notify.KindConnectionCreated {
			t.Errorf("expected connection.created first, got %v", kinds)
		}
	})
}

func TestConnectionsAreScopedToShop(t *testing.T) {
	env := setupTestEnv(t)
	conn := createConnection(t, env, "https://acme.example")

	rec := env.doAs(t, "other.myshopify.com", http.MethodGet, "/app/api/connections/"+conn.ID, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected status %d, got %d", http.StatusNotFound, rec.Code)
	}

	rec = env.doAs(t, "other.myshopify.com", http.MethodGet, "/app/api/connections", nil)
	var list models.ConnectionList
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if len(list.Items) != 0 {
		t.Errorf("expected no connections for other shop, got %d", len(list.Items))
	}
}

func TestValidateAndHistory(t *testing.T) {
	env := setupTestEnv(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	conn := createConnection(t, env, server.URL)

	rec := env.do(t, http.MethodPost, "/app/api/connections/"+conn.ID+"/validate", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, rec.Code, rec.Body.String())
	}
	var validated validateResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &validated); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if !validated.Success || validated.Probe.StatusCode == nil || *validated.Probe.StatusCode != 200 {
		t.Errorf("unexpected validation %+v", validated)
	}

	t.Run("history", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/app/api/connections/"+conn.ID+"/checks?limit=5", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
		}
		var history models.ProbeRecordList
		if err := json.Unmarshal(rec.Body.Bytes(), &history); err != nil {
			t.Fatalf("failed to unmarshal response: %v", err)
		}
		if len(history.Items) != 1 {
			t.Errorf("expected 1 probe record, got %d", len(history.Items))
		}
	})

	t.Run("invalid since", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/app/api/connections/"+conn.ID+"/checks?since=yesterday", nil)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected status %d, got %d", http.StatusBadRequest, rec.Code)
		}
	})

	t.Run("delete", func(t *testing.T) {
		rec := env.do(t, http.MethodDelete, "/app/api/connections/"+conn.ID, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
		}

		rec = env.do(t, http.MethodGet, "/app/api/connections/"+conn.ID, nil)
		if rec.Code != http.StatusNotFound {
			t.Errorf("expected status %d after delete, got %d", http.StatusNotFound, rec.Code)
		}
	})
}
