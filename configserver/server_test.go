package configserver

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hazyhaar/visionbridge/rule"
	"github.com/hazyhaar/visionbridge/source"
)

func newTestServer(t *testing.T, cfg Config) (*httptest.Server, *Store) {
	t.Helper()
	store := openStore(t)
	srv, err := New(cfg, store, nil)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, store
}

func do(t *testing.T, method, url, body string) (int, map[string]any) {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, rd)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	var out map[string]any
	json.Unmarshal(data, &out)
	return resp.StatusCode, out
}

func TestPing(t *testing.T) {
	ts, _ := newTestServer(t, Config{})
	code, body := do(t, http.MethodGet, ts.URL+"/api/ping", "")
	if code != http.StatusOK || body["message"] != "pong" {
		t.Fatalf("ping: %d %v", code, body)
	}
}

func TestConfiguration_CRUD(t *testing.T) {
	ts, store := newTestServer(t, Config{})
	base := ts.URL + "/api/configuration"

	code, body := do(t, http.MethodPost, base, `{"id":"shop","name":"Shop","actions":[{"type":"remove","selector":".ad","priority":2}]}`)
	if code != http.StatusCreated || body["id"] != "shop" {
		t.Fatalf("create: %d %v", code, body)
	}
	if _, err := os.Stat(filepath.Join(store.Dir(), "shop.yaml")); err != nil {
		t.Fatalf("yaml not written: %v", err)
	}

	code, body = do(t, http.MethodGet, base+"/shop", "")
	if code != http.StatusOK || body["name"] != "Shop" {
		t.Fatalf("get: %d %v", code, body)
	}

	code, body = do(t, http.MethodPut, base+"/shop", `{"id":"ignored","name":"Shop v2","actions":[]}`)
	if code != http.StatusOK {
		t.Fatalf("put: %d %v", code, body)
	}
	if doc, _ := store.Get(FamilyConfiguration, "shop"); doc["name"] != "Shop v2" {
		t.Fatalf("put did not replace: %v", doc)
	}
	if _, err := store.Get(FamilyConfiguration, "ignored"); err == nil {
		t.Fatal("path id must win over body id")
	}

	if code, _ := do(t, http.MethodDelete, base+"/shop", ""); code != http.StatusOK {
		t.Fatalf("delete: %d", code)
	}
	if code, _ := do(t, http.MethodGet, base+"/shop", ""); code != http.StatusNotFound {
		t.Fatalf("get after delete: %d", code)
	}
	if code, _ := do(t, http.MethodDelete, base+"/shop", ""); code != http.StatusNotFound {
		t.Fatalf("second delete: %d", code)
	}
}

func TestWrite_Rejections(t *testing.T) {
	ts, _ := newTestServer(t, Config{MaxBodyBytes: 512})

	tests := []struct {
		name, method, path, body string
		want                     int
	}{
		{"malformed json", "POST", "/api/configuration", `{"id":`, http.StatusBadRequest},
		{"missing id", "POST", "/api/configuration", `{"actions":[]}`, http.StatusBadRequest},
		{"missing actions", "POST", "/api/configuration", `{"id":"x"}`, http.StatusBadRequest},
		{"missing actions specific", "POST", "/api/specific", `{"id":"x"}`, http.StatusBadRequest},
		{"actions not array", "POST", "/api/configuration", `{"id":"x","actions":{}}`, http.StatusBadRequest},
		{"action without type", "POST", "/api/configuration", `{"id":"x","actions":[{"selector":".a"}]}`, http.StatusBadRequest},
		{"unknown kind", "POST", "/api/configuration", `{"id":"x","actions":[{"type":"explode"}]}`, http.StatusBadRequest},
		{"bad selector", "POST", "/api/configuration", `{"id":"x","actions":[{"type":"remove","selector":"div > p"}]}`, http.StatusBadRequest},
		{"bad position", "POST", "/api/configuration", `{"id":"x","actions":[{"type":"insert","target":"#a","position":"middle"}]}`, http.StatusBadRequest},
		{"bad condition", "POST", "/api/configuration", `{"id":"x","actions":[{"type":"remove","selector":".a","condition":{"cookie":{"a":1}}}]}`, http.StatusBadRequest},
		{"path traversal", "PUT", "/api/configuration/..%2Fescape", `{"actions":[]}`, http.StatusBadRequest},
		{"non-boolean host flag", "POST", "/api/configuration", `{"id":"x","datasource":{"hosts":{"a.com":"yes"}},"actions":[]}`, http.StatusBadRequest},
		{"non-boolean page flag specific", "POST", "/api/specific", `{"id":"x","datasource":{"pages":{"cart":1}},"actions":[]}`, http.StatusBadRequest},
		{"reserved prefix", "POST", "/api/configuration", `{"id":"pages_x","actions":[]}`, http.StatusBadRequest},
		{"too large", "POST", "/api/configuration", `{"id":"x","actions":[],"name":"` + strings.Repeat("a", 600) + `"}`, http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		code, body := do(t, tt.method, ts.URL+tt.path, tt.body)
		if code != tt.want {
			t.Errorf("%s: status %d, want %d (%v)", tt.name, code, tt.want, body)
			continue
		}
		if _, ok := body["error"].(string); !ok {
			t.Errorf("%s: missing error body: %v", tt.name, body)
		}
	}
}

func TestWrite_SanitizesFragments(t *testing.T) {
	ts, store := newTestServer(t, Config{})

	body := `{"id":"promo","actions":[{"type":"insert","target":"#hero","position":"prepend",
		"element":"<div class=\"banner\" onclick=\"steal()\" data-slot=\"1\">Hi<script>alert(1)</script></div>"}]}`
	if code, resp := do(t, http.MethodPost, ts.URL+"/api/configuration", body); code != http.StatusCreated {
		t.Fatalf("create: %d %v", code, resp)
	}

	doc, err := store.Get(FamilyConfiguration, "promo")
	if err != nil {
		t.Fatal(err)
	}
	actions := doc["actions"].([]any)
	el, _ := asMap(actions[0])["element"].(string)
	if strings.Contains(el, "onclick") || strings.Contains(el, "script") {
		t.Fatalf("fragment not sanitised: %s", el)
	}
	if !strings.Contains(el, `class="banner"`) || !strings.Contains(el, `data-slot="1"`) {
		t.Fatalf("sanitiser dropped rule attributes: %s", el)
	}
}

func TestSpecific_Lookup(t *testing.T) {
	ts, _ := newTestServer(t, Config{})
	base := ts.URL + "/api/specific"

	if code, resp := do(t, http.MethodPost, base, `{"id":"vip","datasource":{"hosts":{"shop.com":true}},"actions":[]}`); code != http.StatusCreated {
		t.Fatalf("create: %d %v", code, resp)
	}

	code, body := do(t, http.MethodGet, base+"?host=shop.com", "")
	if code != http.StatusOK || body["id"] != "vip" {
		t.Fatalf("lookup by host: %d %v", code, body)
	}
	code, body = do(t, http.MethodGet, base+"?id=vip", "")
	if code != http.StatusOK || body["id"] != "vip" {
		t.Fatalf("lookup by id: %d %v", code, body)
	}
	if code, _ := do(t, http.MethodGet, base+"?host=other.com", ""); code != http.StatusNotFound {
		t.Fatalf("miss: %d", code)
	}
	if code, _ := do(t, http.MethodGet, base+"/vip", ""); code != http.StatusOK {
		t.Fatalf("get by path: %d", code)
	}
}

func TestPages_AllAndResolve(t *testing.T) {
	ts, _ := newTestServer(t, Config{})
	base := ts.URL + "/api/pages"

	// Pages documents may omit actions.
	if code, resp := do(t, http.MethodPost, base, `{"id":"checkout","datasource":{"pages":{"checkout":"cfg-checkout"}}}`); code != http.StatusCreated {
		t.Fatalf("create: %d %v", code, resp)
	}

	resp, err := http.Get(base + "/all")
	if err != nil {
		t.Fatal(err)
	}
	var all []map[string]any
	json.NewDecoder(resp.Body).Decode(&all)
	resp.Body.Close()
	if len(all) != 1 || all[0]["id"] != "checkout" {
		t.Fatalf("all: %v", all)
	}

	code, body := do(t, http.MethodGet, base+"/resolve?page=checkout", "")
	if code != http.StatusOK || body["matched_by"] != "page" || body["config_ref"] != "cfg-checkout" {
		t.Fatalf("resolve: %d %v", code, body)
	}
	if code, _ := do(t, http.MethodGet, base+"/resolve", ""); code != http.StatusBadRequest {
		t.Fatalf("resolve without params: %d", code)
	}
	if code, _ := do(t, http.MethodGet, base+"/resolve?host=none.com", ""); code != http.StatusNotFound {
		t.Fatalf("resolve miss: %d", code)
	}
}

func TestCORS(t *testing.T) {
	ts, _ := newTestServer(t, Config{CORSOrigins: []string{"https://admin.example.com"}})

	req, _ := http.NewRequest(http.MethodOptions, ts.URL+"/api/configuration/all", nil)
	req.Header.Set("Origin", "https://admin.example.com")
	req.Header.Set("Access-Control-Request-Method", "PUT")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "https://admin.example.com" {
		t.Fatalf("allow origin = %q", got)
	}

	req, _ = http.NewRequest(http.MethodGet, ts.URL+"/api/ping", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("foreign origin allowed: %q", got)
	}
}

// WHAT: the agent's source decodes what the server stores.
// WHY: /api/configuration/all is the agent endpoint; both ends share the rule wire model.
func TestAgentFetchesAll(t *testing.T) {
	ts, _ := newTestServer(t, Config{})

	for _, body := range []string{
		`{"id":"shop","datasource":{"hosts":{"shop.com":true}},"actions":[{"type":"remove","selector":".ad","priority":3}]}`,
		`{"id":"cart","datasource":{"pages":{"cart":true}},"actions":[{"type":"alter","oldValue":"Sale","newValue":"Deal"}]}`,
	} {
		if code, resp := do(t, http.MethodPost, ts.URL+"/api/configuration", body); code != http.StatusCreated {
			t.Fatalf("create: %d %v", code, resp)
		}
	}

	src := source.New(source.Config{Endpoint: ts.URL + "/api/configuration/all"})
	res, err := src.Load(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Configs) != 2 {
		t.Fatalf("got %d configurations", len(res.Configs))
	}
	shop := res.Configs[1]
	if shop.ID != "shop" || !shop.Datasource.Hosts["shop.com"] {
		t.Fatalf("shop: %+v", shop)
	}
	if a := shop.Actions[0]; a.Type != rule.KindRemove || a.Priority.Value() != 3 {
		t.Fatalf("action: %+v", a)
	}
}

// WHAT: pages documents with string references do not break the agent feed.
// WHY: /api/configuration/all serves every family in one array.
func TestAgentFetchesMixedFamilies(t *testing.T) {
	ts, _ := newTestServer(t, Config{})

	writes := []struct{ path, body string }{
		{"/api/pages", `{"id":"refs","datasource":{"hosts":{"shop.com":"host-ref"},"pages":{"cart":"cart-ref"}}}`},
		{"/api/configuration", `{"id":"shop","datasource":{"hosts":{"shop.com":true}},"actions":[{"type":"remove","selector":".ad"}]}`},
	}
	for _, w := range writes {
		if code, resp := do(t, http.MethodPost, ts.URL+w.path, w.body); code != http.StatusCreated {
			t.Fatalf("create %s: %d %v", w.path, code, resp)
		}
	}

	src := source.New(source.Config{Endpoint: ts.URL + "/api/configuration/all"})
	res, err := src.Load(context.Background(), nil)
	if err != nil {
		t.Fatalf("load mixed payload: %v", err)
	}
	if len(res.Configs) != 2 {
		t.Fatalf("got %d configurations", len(res.Configs))
	}
	for _, c := range res.Configs {
		switch c.ID {
		case "refs":
			if c.Datasource.Hosts["shop.com"] || c.Datasource.Pages["cart"] {
				t.Fatalf("reference values read as enabled: %+v", c.Datasource)
			}
		case "shop":
			if !c.Datasource.Hosts["shop.com"] {
				t.Fatalf("shop: %+v", c.Datasource)
			}
		default:
			t.Fatalf("unexpected config %q", c.ID)
		}
	}
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vbserver.yaml")
	data := "addr: \":9090\"\ndir: /srv/configs\nwatch: false\ncors_origins: [\"https://a.com\"]\n"
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadConfigFile(path)
	if err != nil {
		t.Fatal(err)
	}
	cfg.defaults()
	if cfg.Addr != ":9090" || cfg.Dir != "/srv/configs" || cfg.Watching() || cfg.CORSOrigins[0] != "https://a.com" {
		t.Fatalf("cfg: %+v", cfg)
	}
	if cfg.MaxBodyBytes != 1<<20 {
		t.Fatalf("default body cap not applied: %d", cfg.MaxBodyBytes)
	}

	var empty Config
	empty.defaults()
	if !empty.Watching() || empty.Addr != ":8080" || empty.Dir != "configs" {
		t.Fatalf("defaults: %+v", empty)
	}
}
