package handlers

import (
	"net/http"
	"os"
	"path/filepath"

	"github.com/gin-gonic/gin"
	"gopkg.in/yaml.v3"

	"github.com/platformbuilds/sentinelops/internal/version"
)

// ResolveOpenAPIPath returns a readable path to openapi.yaml by checking
// common locations when tests change the working directory. It honors
// SENTINELOPS_OPENAPI_PATH if set, then tries relative fallbacks.
func ResolveOpenAPIPath() string {
	if p := os.Getenv("SENTINELOPS_OPENAPI_PATH"); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	candidates := []string{
		"api/openapi.yaml", // repo root
		filepath.FromSlash("../../api/openapi.yaml"),
		filepath.FromSlash("../../../api/openapi.yaml"),
		filepath.FromSlash("../../../../api/openapi.yaml"),
	}
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return "api/openapi.yaml"
}

// GetOpenAPISpec serves the spec as JSON with the build version injected
// into info.version so clients see what they are actually talking to.
func GetOpenAPISpec(c *gin.Context) {
	path := ResolveOpenAPIPath()
	data, err := os.ReadFile(path)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "error": "failed to load openapi.yaml"})
		return
	}
	var obj any
	if err := yaml.Unmarshal(data, &obj); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "error": "failed to parse openapi.yaml"})
		return
	}

	if m, ok := obj.(map[string]any); ok {
		if info, ok := m["info"].(map[string]any); ok && version.Version != "" {
			info["version"] = version.Version
		}
	}

	c.JSON(http.StatusOK, obj)
}
