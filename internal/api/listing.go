package api

import (
	"math"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gofiber/fiber/v3"

	"github.com/any-hub/convert-hub/internal/listing"
)

type listingResponse struct {
	Message         string                  `json:"message"`
	SnapshotVersion uint64                  `json:"snapshot_version"`
	Files           map[string]listingEntry `json:"files"`
}

type listingEntry struct {
	Filename            string  `json:"filename"`
	LinkOriginal        string  `json:"link_original"`
	LinkConverted       string  `json:"link_converted"`
	TimeInvalidate      string  `json:"time_invalidate"`
	ExpiresIn           string  `json:"expires_in"`
	MinutesUntilInvalid float64 `json:"minutes_until_invalid"`
	SizeOriginal        string  `json:"size_original"`
	SizeConverted       string  `json:"size_converted"`
}

func (h *handlers) listing(c fiber.Ctx) error {
	resp := buildListing(h.deps.Listing.Current(), h.now())
	if len(resp.Files) == 0 {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error":   "not_found",
			"message": "No files in cache",
		})
	}
	return c.JSON(resp)
}

// buildListing 渲染快照；快照发布后才过期的条目在这里剔除。
func buildListing(snap *listing.Snapshot, now time.Time) listingResponse {
	files := make(map[string]listingEntry, snap.Len())
	for _, entry := range snap.Entries {
		if entry.ExpiredAt(now) {
			continue
		}
		remaining := entry.ExpiresAt.Sub(now)
		files[entry.Hash] = listingEntry{
			Filename:            entry.OriginalName(),
			LinkOriginal:        "/cache/dl/og/" + entry.Hash,
			LinkConverted:       "/cache/dl/" + entry.Hash,
			// 绝对时间用 UTC RFC 3339，不依赖服务器时区；相对时间见 expires_in。
			TimeInvalidate:      entry.ExpiresAt.UTC().Format(time.RFC3339),
			ExpiresIn:           humanize.RelTime(entry.ExpiresAt, now, "ago", "from now"),
			MinutesUntilInvalid: minutesUntil(remaining),
			SizeOriginal:        humanize.Bytes(uint64(entry.OriginalSize)),
			SizeConverted:       humanize.Bytes(uint64(entry.ConvertedSize)),
		}
	}
	return listingResponse{
		Message:         "Files in cache",
		SnapshotVersion: snap.Version,
		Files:           files,
	}
}

func minutesUntil(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return math.Round(d.Minutes()*100) / 100
}
