package handler

import (
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
)

// Static serves the single-page client. Unknown paths get index.html so the
// client router can resolve them; unknown API paths get a JSON 404.
func (h *Handler) Static(c *gin.Context) {
	p := c.Request.URL.Path
	if strings.HasPrefix(p, "/api/") || strings.HasPrefix(p, "/parties/") {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "not found"})
		return
	}
	if c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead {
		c.Status(http.StatusMethodNotAllowed)
		return
	}
	if h.StaticDir == "" {
		c.Status(http.StatusNotFound)
		return
	}

	name := filepath.Join(h.StaticDir, filepath.FromSlash(path.Clean("/"+p)))
	if info, err := os.Stat(name); err == nil && !info.IsDir() {
		c.File(name)
		return
	}

	index := filepath.Join(h.StaticDir, "index.html")
	if _, err := os.Stat(index); err != nil {
		c.Status(http.StatusNotFound)
		return
	}
	c.File(index)
}
