package gateway

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
)

// resolve maps a request path to a servable file. Allow-listed files match
// exactly; anything else must canonicalize to a location strictly inside
// the temp directory.
func (s *Server) resolve(requested string) (string, bool) {
	requested = filepath.FromSlash(requestPath(requested))
	if requested == "" {
		return "", false
	}
	if s.allow.IsAllowed(requested) {
		return canonical(requested), true
	}

	tempDir, err := filepath.EvalSymlinks(s.tempDir)
	if err != nil {
		return "", false
	}
	target, err := filepath.EvalSymlinks(filepath.Clean(requested))
	if err != nil {
		return "", false
	}
	if !within(tempDir, target) {
		return "", false
	}
	return target, true
}

// requestPath strips the router's leading slash from Windows volume paths
// such as /C:/Videos/a.mp4.
func requestPath(p string) string {
	trimmed := strings.TrimLeft(p, "/")
	if filepath.VolumeName(filepath.FromSlash(trimmed)) != "" {
		return trimmed
	}
	return p
}

func (s *Server) serveFile(c *gin.Context) {
	if c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead {
		c.Status(http.StatusNotFound)
		return
	}

	path, ok := s.resolve(c.Request.URL.Path)
	if !ok {
		s.log.WithField("path", c.Request.URL.Path).Debug("Refusing file request")
		c.Status(http.StatusNotFound)
		return
	}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) || os.IsPermission(err) {
			c.Status(http.StatusNotFound)
			return
		}
		s.log.WithError(err).Warn("Failed to open served file")
		c.Status(http.StatusInternalServerError)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		c.Status(http.StatusInternalServerError)
		return
	}
	if !info.Mode().IsRegular() {
		c.Status(http.StatusNotFound)
		return
	}

	http.ServeContent(c.Writer, c.Request, info.Name(), info.ModTime(), f)
}
