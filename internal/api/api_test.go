package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/any-hub/convert-hub/internal/cache"
	"github.com/any-hub/convert-hub/internal/convert"
	"github.com/any-hub/convert-hub/internal/gateway"
	"github.com/any-hub/convert-hub/internal/listing"
	"github.com/any-hub/convert-hub/internal/reaper"
	"github.com/any-hub/convert-hub/internal/server"
)

type fakeConverter struct {
	calls atomic.Int32
	fail  atomic.Bool
}

func (f *fakeConverter) Convert(_ context.Context, in convert.Input, _ convert.Quality) ([]byte, error) {
	f.calls.Add(1)
	if f.fail.Load() {
		return nil, errors.New("ffmpeg exploded")
	}
	return append([]byte("ID3-converted-"), in.Data...), nil
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type env struct {
	app      *fiber.App
	conv     *fakeConverter
	clock    *fakeClock
	repo     *cache.Repository
	writer   *gateway.Writer
	pipeline *listing.Pipeline
	reaper   *reaper.Reaper
}

func newEnv(t *testing.T, maxUpload int64) *env {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	store, err := cache.NewStore(t.TempDir(), cache.StoreOptions{})
	require.NoError(t, err)
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	repo, err := cache.NewRepository(store, 10*time.Minute, cache.WithClock(clock.Now))
	require.NoError(t, err)

	writer, err := gateway.NewWriter(repo, gateway.WriterOptions{PendingPath: t.TempDir(), Workers: 1, QueueSize: 8}, logger)
	require.NoError(t, err)
	writer.Start()
	t.Cleanup(func() { writer.Close(context.Background()) })

	conv := &fakeConverter{}
	gw := gateway.New(repo, conv, writer, gateway.Options{MaxConcurrent: 2}, logger)
	pipeline := listing.NewPipeline(repo, listing.Options{}, logger)

	app, err := server.NewApp(server.AppOptions{Logger: logger, BodyLimit: maxUpload + 64<<10})
	require.NoError(t, err)
	require.NoError(t, Register(app, Dependencies{
		Gateway:       gw,
		Cache:         repo,
		Listing:       pipeline,
		Logger:        logger,
		MaxUploadSize: maxUpload,
		Clock:         clock.Now,
	}))

	return &env{
		app:      app,
		conv:     conv,
		clock:    clock,
		repo:     repo,
		writer:   writer,
		pipeline: pipeline,
		reaper:   reaper.New(repo, reaper.Options{}, logger),
	}
}

func uploadRequest(t *testing.T, target, filename string, data []byte) *http.Request {
	t.Helper()
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	if filename != "" {
		part, err := mw.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = part.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	req := httptest.NewRequest(http.MethodPost, target, body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func (e *env) do(t *testing.T, req *http.Request) (*http.Response, []byte) {
	t.Helper()
	resp, err := e.app.Test(req)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, body
}

func (e *env) settle(t *testing.T) {
	t.Helper()
	require.NoError(t, e.writer.Flush(context.Background()))
	require.NoError(t, e.pipeline.Refresh(context.Background()))
}

func TestConvertEndToEnd(t *testing.T) {
	e := newEnv(t, 1<<20)
	video := []byte("fake-video-bytes")

	resp, body := e.do(t, uploadRequest(t, "/convert?quality=low", "Holiday.mp4", video))
	require.Equal(t, fiber.StatusOK, resp.StatusCode, string(body))
	assert.Equal(t, "audio/mpeg", resp.Header.Get("Content-Type"))
	assert.Contains(t, resp.Header.Get("Content-Disposition"), `filename="Holiday.mp3"`)
	assert.Equal(t, "false", resp.Header.Get(headerCacheHit))
	assert.Equal(t, "low", resp.Header.Get(headerQuality))
	hash := resp.Header.Get(headerContentHash)
	assert.Equal(t, gateway.ContentHash(video), hash)
	assert.Equal(t, "ID3-converted-fake-video-bytes", string(body))

	e.settle(t)

	resp, body = e.do(t, uploadRequest(t, "/convert", "Holiday.mp4", video))
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "true", resp.Header.Get(headerCacheHit))
	assert.Equal(t, "ID3-converted-fake-video-bytes", string(body))
	assert.Equal(t, int32(1), e.conv.calls.Load(), "second upload must be served from cache")

	resp, body = e.do(t, httptest.NewRequest(http.MethodGet, "/cache", nil))
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var listed listingResponse
	require.NoError(t, json.Unmarshal(body, &listed))
	require.Contains(t, listed.Files, hash)
	row := listed.Files[hash]
	assert.Equal(t, "Holiday.mp4", row.Filename)
	assert.Equal(t, "/cache/dl/og/"+hash, row.LinkOriginal)
	assert.Equal(t, "/cache/dl/"+hash, row.LinkConverted)
	assert.Equal(t, 10.0, row.MinutesUntilInvalid)

	resp, body = e.do(t, httptest.NewRequest(http.MethodGet, row.LinkConverted, nil))
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "ID3-converted-fake-video-bytes", string(body))
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "Holiday.mp3")

	resp, body = e.do(t, httptest.NewRequest(http.MethodGet, row.LinkOriginal, nil))
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, video, body)
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "Holiday.mp4")

	// 过期后下载返回 410，并删除条目。
	e.clock.Advance(11 * time.Minute)
	resp, _ = e.do(t, httptest.NewRequest(http.MethodGet, row.LinkConverted, nil))
	assert.Equal(t, fiber.StatusGone, resp.StatusCode)
	resp, _ = e.do(t, httptest.NewRequest(http.MethodGet, row.LinkConverted, nil))
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)

	require.NoError(t, e.pipeline.Refresh(context.Background()))
	resp, _ = e.do(t, httptest.NewRequest(http.MethodGet, "/cache", nil))
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestListingExcludesEntriesAfterReaperSweep(t *testing.T) {
	e := newEnv(t, 1<<20)
	resp, _ := e.do(t, uploadRequest(t, "/convert", "a.mkv", []byte("a")))
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	e.settle(t)
	e.clock.Advance(5 * time.Minute)
	resp, _ = e.do(t, uploadRequest(t, "/convert", "b.avi", []byte("b")))
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	e.settle(t)

	e.clock.Advance(6 * time.Minute)
	result := e.reaper.RunOnce(context.Background())
	assert.Equal(t, 1, result.Expired)
	require.NoError(t, e.pipeline.Refresh(context.Background()))

	resp, body := e.do(t, httptest.NewRequest(http.MethodGet, "/cache", nil))
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var listed listingResponse
	require.NoError(t, json.Unmarshal(body, &listed))
	assert.Len(t, listed.Files, 1)
	assert.Contains(t, listed.Files, gateway.ContentHash([]byte("b")))
}

func TestConvertRejectsUnsupportedFormat(t *testing.T) {
	e := newEnv(t, 1<<20)
	resp, body := e.do(t, uploadRequest(t, "/convert", "song.mp3", []byte("x")))
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, string(body), "unsupported_format")
	assert.Equal(t, int32(0), e.conv.calls.Load())
}

func TestConvertRejectsUnsupportedFormatBeforeReading(t *testing.T) {
	e := newEnv(t, 8)
	resp, body := e.do(t, uploadRequest(t, "/convert", "notes.txt", bytes.Repeat([]byte("x"), 64)))
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode, "extension is checked before the size limit")
	assert.Contains(t, string(body), "unsupported_format")
	assert.Contains(t, string(body), ".mp4")
	assert.Equal(t, int32(0), e.conv.calls.Load())
}

func TestConvertRequiresFile(t *testing.T) {
	e := newEnv(t, 1<<20)
	resp, body := e.do(t, uploadRequest(t, "/convert", "", nil))
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, string(body), "file_required")
}

func TestConvertRejectsOversizedUpload(t *testing.T) {
	e := newEnv(t, 1024)
	resp, _ := e.do(t, uploadRequest(t, "/convert", "big.mp4", bytes.Repeat([]byte("x"), 2048)))
	assert.Equal(t, fiber.StatusRequestEntityTooLarge, resp.StatusCode)
	assert.Equal(t, int32(0), e.conv.calls.Load())
}

func TestConvertFailureReturns500(t *testing.T) {
	e := newEnv(t, 1<<20)
	e.conv.fail.Store(true)
	resp, body := e.do(t, uploadRequest(t, "/convert", "clip.mov", []byte("x")))
	assert.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)
	assert.Contains(t, string(body), "conversion_failed")

	e.settle(t)
	resp, _ = e.do(t, httptest.NewRequest(http.MethodGet, "/cache", nil))
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode, "failed conversions are never cached")
}

func TestDownloadUnknownHash(t *testing.T) {
	e := newEnv(t, 1<<20)
	for _, path := range []string{"/cache/dl/deadbeef", "/cache/dl/og/" + gateway.ContentHash([]byte("none"))} {
		resp, _ := e.do(t, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, fiber.StatusNotFound, resp.StatusCode, path)
	}
}

func TestEmptyListing(t *testing.T) {
	e := newEnv(t, 1<<20)
	resp, body := e.do(t, httptest.NewRequest(http.MethodGet, "/cache", nil))
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
	assert.Contains(t, string(body), "No files in cache")
}

func TestBuildListingRounding(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	snap := &listing.Snapshot{Version: 4, Entries: []cache.Entry{
		{Hash: "h1", Filename: "a", Extension: ".mp4", ExpiresAt: now.Add(90*time.Second + 200*time.Millisecond), OriginalSize: 2048, ConvertedSize: 1024},
		{Hash: "h2", Filename: "b", Extension: ".mp4", ExpiresAt: now.Add(-time.Second)},
	}}
	resp := buildListing(snap, now)
	require.Len(t, resp.Files, 1)
	row := resp.Files["h1"]
	assert.Equal(t, 1.5, row.MinutesUntilInvalid)
	assert.Equal(t, "2.0 kB", row.SizeOriginal)
	assert.Equal(t, "1 minute from now", row.ExpiresIn)
	assert.Equal(t, "2023-11-14T22:14:50Z", row.TimeInvalidate, "absolute expiry is rendered as RFC 3339 UTC")
	assert.Equal(t, uint64(4), resp.SnapshotVersion)
	assert.Equal(t, 0.0, minutesUntil(-time.Minute))
}
