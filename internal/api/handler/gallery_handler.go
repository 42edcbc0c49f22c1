package handler

import (
	"embed"
	"html/template"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/r03el/photograbber/internal/api/dto"
)

//go:embed templates/*.html
var templateFS embed.FS

const galleryTemplate = "gallery.html"

// Templates parses the HTML templates served by the handlers
func Templates() *template.Template {
	return template.Must(template.ParseFS(templateFS, "templates/*.html"))
}

// List handles GET /api/v1/gallery
func (h *GalleryHandler) List(c *gin.Context) {
	if h.gallery == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "Gallery is not configured",
		})
		return
	}

	items := h.gallery.Items(c.Request.Context())
	resp := dto.GalleryResponse{
		Items: make([]dto.GalleryItemDTO, len(items)),
		Total: len(items),
	}
	for i, item := range items {
		resp.Items[i] = dto.GalleryItemDTO{
			Location:         item.Location,
			URL:              item.URL,
			FileRef:          item.FileRef,
			GroupID:          item.GroupID,
			UserID:           item.UserID,
			SubmittedAt:      item.SubmittedAt.UTC().Format(time.RFC3339),
			MediaKind:        string(item.MediaKind),
			OriginalFileName: item.OriginalFileName,
		}
	}

	c.JSON(http.StatusOK, resp)
}

// Page handles GET /gallery
// Renders the gallery as an HTML page
func (h *GalleryHandler) Page(c *gin.Context) {
	if h.gallery == nil {
		c.String(http.StatusServiceUnavailable, "gallery is not configured")
		return
	}

	c.HTML(http.StatusOK, galleryTemplate, gin.H{
		"Title": "Photo gallery",
		"Items": h.gallery.Items(c.Request.Context()),
	})
}
