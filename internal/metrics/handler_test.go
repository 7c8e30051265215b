package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

// TestHandler_ServesMetrics は登録済みメトリクスがテキスト形式で返ることを検証する。
func TestHandler_ServesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	c.RecordSignIn("success")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	Handler(reg).ServeHTTP(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `directorio_sign_in_total{outcome="success"} 1`) {
		t.Errorf("response should contain directorio_sign_in_total, got:\n%s", body)
	}
}

// TestHandler_OnlyRegisteredRegistry は別レジストリのメトリクスが混ざらないことを検証する。
func TestHandler_OnlyRegisteredRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	_ = NewCollector(reg)
	other := prometheus.NewRegistry()
	NewCollector(other).RecordSignOut("error")

	w := httptest.NewRecorder()
	Handler(reg).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	body, _ := io.ReadAll(w.Body)
	if strings.Contains(string(body), `directorio_sign_out_total{outcome="error"}`) {
		t.Errorf("他レジストリのメトリクスが含まれている:\n%s", body)
	}
}
