package api

import (
	"errors"
	"fmt"
	"io"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gofiber/fiber/v3"

	"github.com/any-hub/convert-hub/internal/cache"
	"github.com/any-hub/convert-hub/internal/server"
)

func (h *handlers) download(kind cache.Kind) fiber.Handler {
	return func(c fiber.Ctx) error {
		hash := c.Params("hash")
		result, err := h.deps.Cache.Find(c.Context(), hash, kind)
		switch {
		case errors.Is(err, cache.ErrExpired):
			return c.Status(fiber.StatusGone).JSON(fiber.Map{
				"error":   "expired",
				"message": "cache entry expired, upload the file again",
			})
		case errors.Is(err, cache.ErrNotFound):
			return server.WriteError(c, fiber.StatusNotFound, "not_found")
		case err != nil:
			return err
		}
		defer result.Reader.Close()

		c.Attachment(result.Name)
		contentType := "audio/mpeg"
		if kind == cache.KindOriginal {
			contentType = sniffContentType(result.Reader)
		}
		c.Set(fiber.HeaderContentType, contentType)
		c.Set(headerContentHash, result.Entry.Hash)
		c.Response().Header.SetContentLength(int(result.Size))
		c.Status(fiber.StatusOK)

		if _, err := io.Copy(c.Response().BodyWriter(), result.Reader); err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, fmt.Sprintf("read cache failed: %v", err))
		}
		return nil
	}
}

// sniffContentType 探测原始文件类型后把 Reader 复位到开头。
func sniffContentType(reader io.ReadSeeker) string {
	detected, err := mimetype.DetectReader(reader)
	if _, seekErr := reader.Seek(0, io.SeekStart); seekErr != nil || err != nil {
		return fiber.MIMEOctetStream
	}
	return detected.String()
}
