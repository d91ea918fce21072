package handlers

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"cos-backend/config"
	"cos-backend/utils"
)

// UploadsHandler stores banner, logo and avatar images under MediaRoot.
// Files are served back through /media; names are content-addressed so
// re-uploading the same image is idempotent.
type UploadsHandler struct {
	config *config.Config
}

// NewUploadsHandler creates a new uploads handler
func NewUploadsHandler(cfg *config.Config) *UploadsHandler {
	return &UploadsHandler{config: cfg}
}

// maxUploadSize caps images at 5MB
const maxUploadSize = 5 * 1024 * 1024

var imageExtensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

// Upload godoc
// @Summary Upload an image
// @Description Accepts a multipart image and returns its public /media URL
// @Tags Uploads
// @Security BearerAuth
// @Accept multipart/form-data
// @Produce json
// @Param file formData file true "Image file (max 5MB)"
// @Success 201 {object} map[string]interface{} "Stored file URL"
// @Failure 400 {object} map[string]interface{} "Missing file or unsupported type"
// @Router /uploads [post]
func (h *UploadsHandler) Upload(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(uuid.UUID)

	file, err := c.FormFile("file")
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "No file uploaded"})
	}
	if file.Size > maxUploadSize {
		return c.Status(400).JSON(fiber.Map{"error": "File too large. Maximum size is 5MB"})
	}

	src, err := file.Open()
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "Failed to read file"})
	}
	defer src.Close()

	content, err := io.ReadAll(src)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "Failed to read file content"})
	}

	// Sniff the real type; the declared Content-Type is client-controlled
	contentType := http.DetectContentType(content)
	ext, ok := imageExtensions[contentType]
	if !ok {
		return c.Status(400).JSON(fiber.Map{"error": "Only JPEG, PNG, GIF and WebP images are allowed"})
	}

	// Content-addressed name: no path traversal, free deduplication
	hash := sha256.Sum256(content)
	name := hex.EncodeToString(hash[:16]) + ext

	dir := filepath.Join(h.config.MediaRoot, "uploads")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		utils.LogError("upload dir create", err, "dir", dir)
		return c.Status(500).JSON(fiber.Map{"error": "Failed to store file"})
	}

	path := filepath.Join(dir, name)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := os.WriteFile(path, content, 0o644); err != nil {
			utils.LogError("upload write", err, "path", path)
			return c.Status(500).JSON(fiber.Map{"error": "Failed to store file"})
		}
	}

	utils.LogInfo("🖼️ Media uploaded", "user_id", userID, "file", name, "bytes", file.Size)

	return c.Status(201).JSON(fiber.Map{
		"url":          "/media/uploads/" + name,
		"filename":     name,
		"content_type": contentType,
		"size_bytes":   file.Size,
	})
}
