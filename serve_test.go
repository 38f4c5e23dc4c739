package main

import (
	"bytes"
	"encoding/json"
	"image/png"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Zachkp/bond-site/internal/config"
	"github.com/Zachkp/bond-site/internal/payload"
	"github.com/Zachkp/bond-site/internal/store"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testSite struct {
	*site
	handler http.Handler
}

func newTestSite(t *testing.T, p *payload.Payload) *testSite {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Data.Path = filepath.Join(t.TempDir(), "data", "ytm_top20.json")
	if p != nil {
		require.NoError(t, payload.WriteFile(cfg.Data.Path, p))
	}

	db, err := store.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	s := newSite(cfg, db)
	return &testSite{site: s, handler: s.router()}
}

func (ts *testSite) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	ts.handler.ServeHTTP(w, req)
	return w
}

func samplePayload() *payload.Payload {
	return &payload.Payload{
		Cols:      []string{"SECID", "YTM", "YEARS"},
		UpdatedAt: "2026-10-17 09:30 UTC",
		Rows: []payload.Row{
			{"SECID": payload.String("RU000A1"), "YTM": payload.Number(21.3), "YEARS": payload.Number(1.4), "SIZE": payload.Number(4.6)},
			{"SECID": payload.String("RU000A2"), "YTM": payload.Number(18.9), "YEARS": payload.Number(0.7), "SIZE": payload.Number(4.3)},
		},
	}
}

type treemapResponse struct {
	Message   string `json:"message"`
	UpdatedAt any    `json:"updated_at"`
	Figure    *struct {
		Data []struct {
			Type   string    `json:"type"`
			Labels []string  `json:"labels"`
			Values []float64 `json:"values"`
		} `json:"data"`
	} `json:"figure"`
}

func TestHealthz(t *testing.T) {
	ts := newTestSite(t, nil)
	w := ts.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestDataFileNoCache(t *testing.T) {
	ts := newTestSite(t, samplePayload())
	w := ts.do(httptest.NewRequest(http.MethodGet, "/data/ytm_top20.json?t=123", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Cache-Control"), "no-cache")

	p, err := payload.Decode(w.Body.Bytes())
	require.NoError(t, err)
	assert.Len(t, p.Rows, 2)
}

func TestDataFileMissing(t *testing.T) {
	ts := newTestSite(t, nil)
	w := ts.do(httptest.NewRequest(http.MethodGet, "/data/ytm_top20.json", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestTreemapFigure(t *testing.T) {
	ts := newTestSite(t, samplePayload())
	w := ts.do(httptest.NewRequest(http.MethodGet, "/api/treemap", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var resp treemapResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Empty(t, resp.Message)
	assert.Equal(t, "2026-10-17 09:30 UTC", resp.UpdatedAt)
	require.NotNil(t, resp.Figure)
	require.Len(t, resp.Figure.Data, 1)
	assert.Equal(t, "treemap", resp.Figure.Data[0].Type)
	assert.Equal(t, []string{"RU000A1", "RU000A2"}, resp.Figure.Data[0].Labels)
	assert.Equal(t, []float64{4.6, 4.3}, resp.Figure.Data[0].Values)
}

func TestTreemapEmpty(t *testing.T) {
	ts := newTestSite(t, &payload.Payload{Cols: []string{"SECID"}, Rows: []payload.Row{}})
	w := ts.do(httptest.NewRequest(http.MethodGet, "/api/treemap", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var resp treemapResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Nil(t, resp.Figure)
	assert.Contains(t, resp.Message, "data/ytm_top20.json")
	assert.Nil(t, resp.UpdatedAt)
}

func TestTreemapWithoutPlotly(t *testing.T) {
	ts := newTestSite(t, samplePayload())
	ts.cfg.Treemap.PlotlyURL = ""
	w := ts.do(httptest.NewRequest(http.MethodGet, "/api/treemap", nil))

	var resp treemapResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Nil(t, resp.Figure)
	assert.Contains(t, resp.Message, "Plotly")
}

func TestTreemapMissingFile(t *testing.T) {
	ts := newTestSite(t, nil)
	w := ts.do(httptest.NewRequest(http.MethodGet, "/api/treemap", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	var body treemapResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "failed to load /data/ytm_top20.json: HTTP 404", body.Message)
	assert.Nil(t, body.Figure)

	w = ts.do(httptest.NewRequest(http.MethodGet, "/treemap.png", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "/data/ytm_top20.json")
}

func TestTreemapMalformedFile(t *testing.T) {
	ts := newTestSite(t, nil)
	require.NoError(t, os.MkdirAll(filepath.Dir(ts.cfg.Data.Path), 0o755))
	require.NoError(t, os.WriteFile(ts.cfg.Data.Path, []byte("{not json"), 0o644))

	w := ts.do(httptest.NewRequest(http.MethodGet, "/api/treemap", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "failed to load /data/ytm_top20.json: HTTP 503")
}

func TestZstdSkipsEmptyResponses(t *testing.T) {
	ts := newTestSite(t, nil)
	req := httptest.NewRequest(http.MethodPost, "/api/copy-events", strings.NewReader(`{"secid":"RU000A1","ok":true}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept-Encoding", "gzip, zstd")
	w := ts.do(req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, w.Header().Get("Content-Encoding"))
	assert.Zero(t, w.Body.Len())
}

func TestZstdRefusedByQuality(t *testing.T) {
	ts := newTestSite(t, samplePayload())
	req := httptest.NewRequest(http.MethodGet, "/api/treemap", nil)
	req.Header.Set("Accept-Encoding", "gzip, zstd;q=0")
	w := ts.do(req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("Content-Encoding"))
	assert.True(t, json.Valid(w.Body.Bytes()))
}

func TestAcceptsZstd(t *testing.T) {
	for header, want := range map[string]bool{
		"":                     false,
		"gzip":                 false,
		"zstd":                 true,
		"gzip, ZSTD":           true,
		"zstd;q=0.5":           true,
		"zstd; q=0":            false,
		"zstd;q=0.0, gzip;q=1": false,
		"zstd;q=bogus":         false,
		"br, zstd;level=3;q=1": true,
	} {
		assert.Equal(t, want, acceptsZstd(header), header)
	}
}

func TestTreemapZstd(t *testing.T) {
	ts := newTestSite(t, samplePayload())
	req := httptest.NewRequest(http.MethodGet, "/api/treemap", nil)
	req.Header.Set("Accept-Encoding", "zstd")
	w := ts.do(req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "zstd", w.Header().Get("Content-Encoding"))

	dec, err := zstd.NewReader(bytes.NewReader(w.Body.Bytes()))
	require.NoError(t, err)
	defer dec.Close()
	body, err := io.ReadAll(dec)
	require.NoError(t, err)

	var resp treemapResponse
	require.NoError(t, json.Unmarshal(body, &resp))
	require.NotNil(t, resp.Figure)
}

func TestTreemapPNG(t *testing.T) {
	ts := newTestSite(t, samplePayload())
	ts.cfg.Treemap.PNGWidth, ts.cfg.Treemap.PNGHeight = 300, 200
	w := ts.do(httptest.NewRequest(http.MethodGet, "/treemap.png", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))

	img, err := png.Decode(w.Body)
	require.NoError(t, err)
	assert.Equal(t, 300, img.Bounds().Dx())
}

func TestTreemapPNGEmpty(t *testing.T) {
	ts := newTestSite(t, &payload.Payload{Rows: []payload.Row{}})
	w := ts.do(httptest.NewRequest(http.MethodGet, "/treemap.png", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRecordCopy(t *testing.T) {
	ts := newTestSite(t, nil)

	post := func(body string, dnt bool) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/copy-events", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		if dnt {
			req.Header.Set("DNT", "1")
		}
		return ts.do(req)
	}

	assert.Equal(t, http.StatusNoContent, post(`{"secid":"RU000A1","ok":true}`, false).Code)
	assert.Equal(t, http.StatusNoContent, post(`{"secid":"RU000A1","ok":false}`, false).Code)
	assert.Equal(t, http.StatusNoContent, post(`{"secid":"RU000A9","ok":true}`, true).Code)
	assert.Equal(t, http.StatusBadRequest, post(`{"ok":true}`, false).Code)
	assert.Equal(t, http.StatusBadRequest, post(`{"secid":"RU000A1"}`, false).Code)

	copies, err := ts.db.CopyStats(10)
	require.NoError(t, err)
	require.Len(t, copies, 1)
	assert.Equal(t, "RU000A1", copies[0].SECID)
	assert.EqualValues(t, 1, copies[0].Copies)
	assert.EqualValues(t, 1, copies[0].Failures)
}

func TestHomePage(t *testing.T) {
	ts := newTestSite(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("User-Agent", "test-agent")
	w := ts.do(req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "<strong>small and honest</strong>")

	assert.Eventually(t, func() bool {
		v, err := ts.db.RecentVisitors(10)
		return err == nil && len(v) == 1 && v[0].Path == "/" && v[0].UserAgent == "test-agent"
	}, time.Second, 10*time.Millisecond)
}

func TestBondsPage(t *testing.T) {
	ts := newTestSite(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/bonds", nil)
	req.Header.Set("DNT", "1")
	w := ts.do(req)
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, `id="chart"`)
	assert.Contains(t, body, "cdn.plot.ly")
}

func TestStaticAssets(t *testing.T) {
	ts := newTestSite(t, nil)
	w := ts.do(httptest.NewRequest(http.MethodGet, "/static/js/site.js", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "plotly_click")
}

func TestAdminRequiresLogin(t *testing.T) {
	ts := newTestSite(t, nil)
	w := ts.do(httptest.NewRequest(http.MethodGet, "/admin/dashboard", nil))
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/admin/login", w.Header().Get("Location"))
}

func TestAdminLoginFlow(t *testing.T) {
	ts := newTestSite(t, nil)

	bad := url.Values{"username": {"admin"}, "password": {"wrong"}}
	req := httptest.NewRequest(http.MethodPost, "/admin/login", strings.NewReader(bad.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	assert.Equal(t, http.StatusUnauthorized, ts.do(req).Code)

	good := url.Values{"username": {"admin"}, "password": {"admin123"}}
	req = httptest.NewRequest(http.MethodPost, "/admin/login", strings.NewReader(good.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := ts.do(req)
	require.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/admin/dashboard", w.Header().Get("Location"))

	cookies := w.Result().Cookies()
	require.NotEmpty(t, cookies)

	require.NoError(t, ts.db.RecordCopy("RU000A1", "h", true, time.Now()))

	req = httptest.NewRequest(http.MethodGet, "/admin/api/stats", nil)
	req.AddCookie(cookies[0])
	w = ts.do(req)
	require.Equal(t, http.StatusOK, w.Code)

	var stats store.AdminStats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.EqualValues(t, 1, stats.TotalCopies)

	req = httptest.NewRequest(http.MethodGet, "/admin/dashboard", nil)
	req.AddCookie(cookies[0])
	w = ts.do(req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "RU000A1")

	req = httptest.NewRequest(http.MethodDelete, "/admin/copies/RU000A1", nil)
	req.AddCookie(cookies[0])
	assert.Equal(t, http.StatusOK, ts.do(req).Code)

	req = httptest.NewRequest(http.MethodDelete, "/admin/copies/RU000A1", nil)
	req.AddCookie(cookies[0])
	assert.Equal(t, http.StatusNotFound, ts.do(req).Code)
}

func TestHashIPStable(t *testing.T) {
	a := newAdminAuth(config.DefaultConfig().Admin)
	assert.Equal(t, a.hashIP("10.0.0.1"), a.hashIP("10.0.0.1"))
	assert.NotEqual(t, a.hashIP("10.0.0.1"), a.hashIP("10.0.0.2"))
	assert.Len(t, a.hashIP("10.0.0.1"), 16)
}

func TestDefaultCredentialWarning(t *testing.T) {
	var buf bytes.Buffer
	log.SetOutput(&buf)
	t.Cleanup(func() { log.SetOutput(os.Stderr) })

	require.NotEqual(t, gin.DebugMode, gin.Mode())
	newAdminAuth(config.DefaultConfig().Admin)
	assert.Contains(t, buf.String(), "default admin credentials")

	buf.Reset()
	newAdminAuth(config.AdminConfig{Username: "ops", Password: "s3cret-pass"})
	assert.NotContains(t, buf.String(), "default admin credentials")
}

func TestSecidAtRank(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ytm.json")
	require.NoError(t, payload.WriteFile(path, samplePayload()))

	id, err := secidAtRank(path, 2)
	require.NoError(t, err)
	assert.Equal(t, "RU000A2", id)

	_, err = secidAtRank(path, 3)
	assert.Error(t, err)
}
