package sandbox

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

const tablePage = `<html><body>
<p>Some intro text</p>
<table>
<tr><th>Name</th><th>Price</th></tr>
<tr><td>apple</td><td>1.20</td></tr>
<tr><td>pear</td><td>2.50</td></tr>
<tr><td>plum</td></tr>
</table>
<table><tr><th>Other</th></tr><tr><td>ignored</td></tr></table>
</body></html>`

func TestScrapeTable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(tablePage))
	}))
	defer srv.Close()

	rows, err := ScrapeTable(srv.URL)
	if err != nil {
		t.Fatalf("ScrapeTable: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("got %d rows, want 3", len(rows))
	}
	if rows[0]["Name"] != "apple" || rows[0]["Price"] != "1.20" {
		t.Errorf("rows[0] = %v", rows[0])
	}
	// Short rows pad missing cells with empty strings.
	if rows[2]["Name"] != "plum" || rows[2]["Price"] != "" {
		t.Errorf("rows[2] = %v, want padded row", rows[2])
	}
	// Only the first table is parsed.
	for _, r := range rows {
		if _, ok := r["Other"]; ok {
			t.Error("second table leaked into results")
		}
	}
}

func TestScrapeTableNoTable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html><body><p>nothing here</p></body></html>"))
	}))
	defer srv.Close()

	if _, err := ScrapeTable(srv.URL); err == nil {
		t.Error("expected error for page without table")
	}
}

func TestScrapeTableBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	if _, err := ScrapeTable(srv.URL); err == nil {
		t.Error("expected error for 404 response")
	}
}

func TestRunQuery(t *testing.T) {
	rows, err := RunQuery("SELECT 1 AS n, 'a' AS s UNION ALL SELECT 2, 'b' ORDER BY n")
	if err != nil {
		t.Fatalf("RunQuery: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(rows))
	}
	if rows[0]["s"] != "a" || rows[1]["s"] != "b" {
		t.Errorf("rows = %v", rows)
	}
}

func TestRunQueryInvalidSQL(t *testing.T) {
	if _, err := RunQuery("SELEC nonsense"); err == nil {
		t.Error("expected error for invalid SQL")
	}
}

func TestRenderPNG(t *testing.T) {
	f := NewFigure()
	f.Title = "test"
	f.AddLine("series", []float64{0, 1, 2}, []float64{0, 1, 4})

	uri, err := RenderPNG(f)
	if err != nil {
		t.Fatalf("RenderPNG: %v", err)
	}
	if !strings.HasPrefix(uri, "data:image/png;base64,") {
		t.Errorf("uri prefix = %q", uri[:min(len(uri), 30)])
	}
	if len(uri) < 100 {
		t.Error("encoded image suspiciously small")
	}
}

func TestRenderPNGEmptyFigure(t *testing.T) {
	if _, err := RenderPNG(NewFigure()); err == nil {
		t.Error("expected error for figure without series")
	}
}

func TestRenderPNGMismatchedLine(t *testing.T) {
	f := NewFigure()
	f.AddLine("bad", []float64{1, 2}, []float64{1})
	if _, err := RenderPNG(f); err == nil {
		t.Error("expected error for mismatched series lengths")
	}
}
