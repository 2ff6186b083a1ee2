package main

import (
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/attribstream/attribstream/server/internal/api"
)

// spaHandler serves the dashboard build in dir. Unknown paths get index.html
// so client-side routing works; unknown /api/ paths stay JSON 404s.
func spaHandler(dir string) gin.HandlerFunc {
	files := http.FileServer(http.Dir(dir))
	index := filepath.Join(dir, "index.html")
	return func(c *gin.Context) {
		p := c.Request.URL.Path
		if strings.HasPrefix(p, "/api/") || (c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found", "code": api.CodeNotFound})
			return
		}
		full := filepath.Join(dir, filepath.FromSlash(path.Clean("/"+p)))
		if fi, err := os.Stat(full); err != nil || fi.IsDir() {
			c.File(index)
			return
		}
		files.ServeHTTP(c.Writer, c.Request)
	}
}
