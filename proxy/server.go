package proxy

import (
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ollamarelay/gateway/config"
)

// catchAllMethods is the set of HTTP methods routed through the pipeline
// on any path.
var catchAllMethods = []string{
	http.MethodGet,
	http.MethodPost,
	http.MethodPut,
	http.MethodPatch,
	http.MethodDelete,
}

// NewServer builds the proxy's HTTP surface. Three GET paths are answered
// locally from config; every other method/path combination falls through
// gin's router to NoRoute, which is where the pipeline handles it. A root
// "/*path" can't be registered alongside the static GET routes above — gin
// builds one radix tree per method and a catch-all there conflicts with
// the static children already inserted into the GET tree — so the catch-all
// goes through NoRoute instead, same as the teacher's SPA fallback.
func NewServer(cfg *config.AppConfig, pipeline *Pipeline, logger *Logger) *gin.Engine {
	engine := gin.New()
	engine.Use(accessLogMiddleware(logger))
	engine.Use(gin.Recovery())

	engine.GET("/api/tags", ollamaListTagsHandler(cfg))
	engine.GET("/api/ps", ollamaPSHandler())
	engine.GET("/api/version", ollamaVersionHandler())

	engine.NoRoute(func(c *gin.Context) {
		if !isCatchAllMethod(c.Request.Method) {
			c.AbortWithStatus(http.StatusNotFound)
			return
		}
		pipeline.ServeHTTP(c.Writer, c.Request)
	})

	return engine
}

func isCatchAllMethod(method string) bool {
	for _, m := range catchAllMethods {
		if m == method {
			return true
		}
	}
	return false
}

func accessLogMiddleware(logger *Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		method := c.Request.Method
		path := c.Request.URL.Path

		c.Next()

		logger.Infof("%s %s %s %d %d %v", c.ClientIP(), method, path, c.Writer.Status(), c.Writer.Size(), time.Since(start))
	}
}

type ollamaModelDetails struct {
	Format string `json:"format"`
	Family string `json:"family"`
}

type ollamaModelResponse struct {
	Name       string             `json:"name"`
	Model      string             `json:"model"`
	ModifiedAt time.Time          `json:"modified_at"`
	Details    ollamaModelDetails `json:"details"`
}

// ollamaListTagsHandler answers /api/tags from the configured model list
// rather than forwarding to an upstream (there may be several, one per
// model).
func ollamaListTagsHandler(cfg *config.AppConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		now := time.Now().UTC()
		names := cfg.ModelNames()
		sort.Strings(names)

		models := make([]ollamaModelResponse, 0, len(names))
		for _, name := range names {
			models = append(models, ollamaModelResponse{
				Name:       name,
				Model:      name,
				ModifiedAt: now,
				Details:    ollamaModelDetails{Format: "gguf", Family: "unknown"},
			})
		}
		c.JSON(http.StatusOK, gin.H{"models": models})
	}
}

// ollamaPSHandler answers /api/ps. This proxy doesn't manage process
// lifecycle, so it has nothing loaded to report.
func ollamaPSHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"models": []ollamaModelResponse{}})
	}
}

func ollamaVersionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"version": "0.1.0"})
	}
}
