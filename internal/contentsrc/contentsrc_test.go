package contentsrc

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/wrenfield/loreshare/internal/apperr"
	"github.com/wrenfield/loreshare/internal/testutil"
	"github.com/wrenfield/loreshare/internal/tree"
)

const wikiPage = `<!DOCTYPE html>
<html><head><title>Captain Mara</title></head>
<body>
  <nav class="sitenav"><a href="/">home</a></nav>
  <div id="statblock"><h2>Captain Mara</h2><p>AC 17</p></div>
  <div class="lore"><p>Runs the Hollowmere docks.</p></div>
  <footer>generated</footer>
</body></html>`

func wikiServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/mara":
			_, _ = w.Write([]byte(wikiPage))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTPRender_FilterSelectsSubtrees(t *testing.T) {
	srv := wikiServer(t)
	src := NewHTTP(testutil.Logger())

	p := tree.Page{
		ID:           "p-mara",
		Name:         "Captain Mara",
		SourceURL:    srv.URL + "/mara",
		RenderFilter: []string{"#statblock", ".lore"},
	}
	out, err := src.Render(context.Background(), p)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !strings.Contains(out, "AC 17") || !strings.Contains(out, "Hollowmere docks") {
		t.Errorf("selected parts missing: %q", out)
	}
	if strings.Contains(out, "sitenav") || strings.Contains(out, "footer") {
		t.Errorf("unselected parts leaked: %q", out)
	}
	if strings.Index(out, "AC 17") > strings.Index(out, "Hollowmere docks") {
		t.Error("fragments out of filter order")
	}
}

func TestHTTPRender_NoFilterTakesBody(t *testing.T) {
	srv := wikiServer(t)
	src := NewHTTP(testutil.Logger())

	out, err := src.Render(context.Background(), tree.Page{ID: "p", Name: "Mara", SourceURL: srv.URL + "/mara"})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !strings.Contains(out, "AC 17") || !strings.Contains(out, "sitenav") {
		t.Errorf("body not rendered whole: %q", out)
	}
	if strings.Contains(out, "<title>") {
		t.Errorf("head leaked into fragment: %q", out)
	}
}

func TestHTTPRender_Failures(t *testing.T) {
	srv := wikiServer(t)
	src := NewHTTP(testutil.Logger())

	if _, err := src.Render(context.Background(), tree.Page{Name: "local note"}); !errors.Is(err, apperr.ErrUnavailable) {
		t.Errorf("no-url err = %v, want ErrUnavailable", err)
	}

	if _, err := src.Render(context.Background(), tree.Page{Name: "gone", SourceURL: srv.URL + "/missing"}); err == nil {
		t.Error("404 not reported")
	}

	p := tree.Page{Name: "Mara", SourceURL: srv.URL + "/mara", RenderFilter: []string{"#nope"}}
	if _, err := src.Render(context.Background(), p); err == nil {
		t.Error("filter matching nothing not reported")
	}
}

func TestStatic(t *testing.T) {
	src := NewStatic(map[string]string{"p1": "<p>handwritten</p>"})

	out, err := src.Render(context.Background(), tree.Page{ID: "p1"})
	if err != nil || out != "<p>handwritten</p>" {
		t.Fatalf("render = %q, %v", out, err)
	}

	src.Set("p2", "<p>added later</p>")
	if out, _ := src.Render(context.Background(), tree.Page{ID: "p2"}); out != "<p>added later</p>" {
		t.Errorf("out = %q", out)
	}

	if _, err := src.Render(context.Background(), tree.Page{ID: "p3"}); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("missing page err = %v, want ErrNotFound", err)
	}
}
