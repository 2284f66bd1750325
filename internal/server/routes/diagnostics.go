package routes

import (
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/any-hub/convert-hub/internal/listing"
	"github.com/any-hub/convert-hub/internal/reaper"
	"github.com/any-hub/convert-hub/internal/version"
)

// SnapshotSource 提供当前发布的列表快照。
type SnapshotSource interface {
	Current() *listing.Snapshot
}

// ReaperStatus 提供清理器状态。
type ReaperStatus interface {
	State() reaper.State
	LastResult() *reaper.Result
}

// PendingCounter 提供尚未落盘的异步写入数。
type PendingCounter interface {
	Pending() int64
}

// Diagnostics 汇总 /-/status 需要的运行时组件，任一字段为空时对应段落省略。
type Diagnostics struct {
	Listing SnapshotSource
	Reaper  ReaperStatus
	Writer  PendingCounter
	TTL     time.Duration
	Started time.Time
}

// RegisterDiagnostics 暴露 /-/metrics 与 /-/status 诊断接口。
func RegisterDiagnostics(app *fiber.App, diag Diagnostics) {
	if app == nil {
		return
	}

	app.Get("/-/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	app.Get("/-/status", func(c fiber.Ctx) error {
		return c.JSON(encodeStatus(diag, time.Now()))
	})
}

type statusPayload struct {
	Version       string          `json:"version"`
	Uptime        string          `json:"uptime,omitempty"`
	TTLSeconds    int64           `json:"ttl_seconds"`
	Listing       *listingPayload `json:"listing,omitempty"`
	Reaper        *reaperPayload  `json:"reaper,omitempty"`
	PendingWrites *int64          `json:"pending_writes,omitempty"`
}

type listingPayload struct {
	SnapshotVersion uint64    `json:"snapshot_version"`
	Entries         int       `json:"entries"`
	TakenAt         time.Time `json:"taken_at"`
}

type reaperPayload struct {
	State     string         `json:"state"`
	LastSweep *reaper.Result `json:"last_sweep,omitempty"`
	LastSince string         `json:"last_since,omitempty"`
}

func encodeStatus(diag Diagnostics, now time.Time) statusPayload {
	payload := statusPayload{
		Version:    version.Full(),
		TTLSeconds: int64(diag.TTL / time.Second),
	}
	if !diag.Started.IsZero() {
		payload.Uptime = now.Sub(diag.Started).Round(time.Second).String()
	}
	if diag.Listing != nil {
		snap := diag.Listing.Current()
		payload.Listing = &listingPayload{
			SnapshotVersion: snap.Version,
			Entries:         snap.Len(),
			TakenAt:         snap.TakenAt,
		}
	}
	if diag.Reaper != nil {
		rp := &reaperPayload{State: diag.Reaper.State().String()}
		if last := diag.Reaper.LastResult(); last != nil {
			rp.LastSweep = last
			rp.LastSince = humanize.RelTime(last.At, now, "ago", "from now")
		}
		payload.Reaper = rp
	}
	if diag.Writer != nil {
		pending := diag.Writer.Pending()
		payload.PendingWrites = &pending
	}
	return payload
}
