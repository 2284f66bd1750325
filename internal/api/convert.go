package api

import (
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/gofiber/fiber/v3"

	"github.com/any-hub/convert-hub/internal/convert"
	"github.com/any-hub/convert-hub/internal/gateway"
	"github.com/any-hub/convert-hub/internal/server"
)

const (
	headerCacheHit    = "X-Convert-Hub-Cache-Hit"
	headerContentHash = "X-Content-Hash"
	headerQuality     = "X-Convert-Hub-Quality"
)

func (h *handlers) convert(c fiber.Ctx) error {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   "file_required",
			"message": "multipart field \"file\" is required",
		})
	}
	// 扩展名不在允许列表内时不打开、不读取上传内容。
	if !convert.IsSupported(fileHeader.Filename) {
		return h.writeConvertError(c, fmt.Errorf("%w: %q", gateway.ErrUnsupportedFormat, fileHeader.Filename))
	}
	if h.deps.MaxUploadSize > 0 && fileHeader.Size > h.deps.MaxUploadSize {
		return server.WriteError(c, fiber.StatusRequestEntityTooLarge, "payload_too_large")
	}

	file, err := fileHeader.Open()
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, fmt.Sprintf("open upload: %v", err))
	}
	data, err := io.ReadAll(file)
	file.Close()
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, fmt.Sprintf("read upload: %v", err))
	}

	quality := c.Query("quality")
	if quality == "" {
		quality = c.FormValue("quality")
	}

	result, err := h.deps.Gateway.Convert(c.Context(), gateway.Upload{
		Filename:  fileHeader.Filename,
		Data:      data,
		Quality:   quality,
		RequestID: server.RequestID(c),
	})
	if err != nil {
		return h.writeConvertError(c, err)
	}
	defer result.Body.Close()

	c.Attachment(result.Filename)
	c.Set(fiber.HeaderContentType, "audio/mpeg")
	c.Set(headerCacheHit, strconv.FormatBool(result.CacheHit))
	c.Set(headerContentHash, result.Hash)
	c.Set(headerQuality, string(result.Quality))
	c.Response().Header.SetContentLength(int(result.Size))
	c.Status(fiber.StatusOK)

	if _, err := io.Copy(c.Response().BodyWriter(), result.Body); err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, fmt.Sprintf("stream result: %v", err))
	}
	return nil
}

func (h *handlers) writeConvertError(c fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, gateway.ErrUnsupportedFormat):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":     "unsupported_format",
			"message":   err.Error(),
			"supported": convert.SupportedExtensions(),
		})
	case errors.Is(err, gateway.ErrEmptyUpload):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   "empty_upload",
			"message": err.Error(),
		})
	case errors.Is(err, convert.ErrConversionFailed):
		h.deps.Logger.WithError(err).WithField("request_id", server.RequestID(c)).Warn("conversion failed")
		return server.WriteError(c, fiber.StatusInternalServerError, "conversion_failed")
	default:
		return err
	}
}
