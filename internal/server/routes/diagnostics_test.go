package routes

import (
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/any-hub/convert-hub/internal/cache"
	"github.com/any-hub/convert-hub/internal/listing"
	"github.com/any-hub/convert-hub/internal/reaper"
)

type stubListing struct{ snap *listing.Snapshot }

func (s stubListing) Current() *listing.Snapshot { return s.snap }

type stubReaper struct{ last *reaper.Result }

func (s stubReaper) State() reaper.State        { return reaper.StateIdle }
func (s stubReaper) LastResult() *reaper.Result { return s.last }

type stubWriter int64

func (s stubWriter) Pending() int64 { return int64(s) }

func TestStatusRoute(t *testing.T) {
	app := fiber.New()
	RegisterDiagnostics(app, Diagnostics{
		Listing: stubListing{snap: &listing.Snapshot{Version: 7, Entries: []cache.Entry{{Hash: "a"}, {Hash: "b"}}}},
		Reaper:  stubReaper{last: &reaper.Result{Expired: 3, At: time.Now().Add(-time.Minute)}},
		Writer:  stubWriter(2),
		TTL:     10 * time.Minute,
		Started: time.Now().Add(-time.Hour),
	})

	resp, err := app.Test(httptest.NewRequest("GET", "/-/status", nil))
	if err != nil {
		t.Fatalf("status request failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var payload statusPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if payload.Listing == nil || payload.Listing.SnapshotVersion != 7 || payload.Listing.Entries != 2 {
		t.Fatalf("unexpected listing payload: %+v", payload.Listing)
	}
	if payload.Reaper == nil || payload.Reaper.State != "idle" || payload.Reaper.LastSweep.Expired != 3 {
		t.Fatalf("unexpected reaper payload: %+v", payload.Reaper)
	}
	if !strings.HasSuffix(payload.Reaper.LastSince, "ago") {
		t.Fatalf("expected humanized last sweep, got %q", payload.Reaper.LastSince)
	}
	if payload.PendingWrites == nil || *payload.PendingWrites != 2 {
		t.Fatalf("unexpected pending writes: %v", payload.PendingWrites)
	}
	if payload.TTLSeconds != 600 {
		t.Fatalf("unexpected ttl: %d", payload.TTLSeconds)
	}
}

func TestStatusRouteOmitsMissingComponents(t *testing.T) {
	app := fiber.New()
	RegisterDiagnostics(app, Diagnostics{})

	resp, err := app.Test(httptest.NewRequest("GET", "/-/status", nil))
	if err != nil {
		t.Fatalf("status request failed: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	if strings.Contains(string(body), `"listing"`) || strings.Contains(string(body), `"pending_writes"`) {
		t.Fatalf("expected omitted sections, got %s", body)
	}
}

func TestMetricsRoute(t *testing.T) {
	app := fiber.New()
	RegisterDiagnostics(app, Diagnostics{})

	resp, err := app.Test(httptest.NewRequest("GET", "/-/metrics", nil))
	if err != nil {
		t.Fatalf("metrics request failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "go_goroutines") {
		t.Fatalf("expected prometheus exposition, got %s", body)
	}
}
