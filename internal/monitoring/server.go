package monitoring

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"larder/internal/artifact"
)

// Server serves /metrics plus read-only views of the pipeline artifacts,
// so an operator can watch a long run and review groups/decisions from a
// browser before committing an execute.
type Server struct {
	metrics *Metrics
	dir     *artifact.Dir
	log     *zap.Logger
}

// NewServer wires the metrics registry and artifact directory
func NewServer(metrics *Metrics, dir *artifact.Dir, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{metrics: metrics, dir: dir, log: log}
}

// Router builds the gin handler
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.metrics.registry, promhttp.HandlerOpts{})))
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/artifacts/groups", s.serveArtifact(s.dir.GroupsPath()))
	router.GET("/artifacts/decisions", s.serveArtifact(s.dir.DecisionsPath()))
	router.GET("/artifacts/reports", s.listReports)
	router.GET("/artifacts/reports/:tag", func(c *gin.Context) {
		tag := c.Param("tag")
		if strings.ContainsAny(tag, "/\\.") {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid tag"})
			return
		}
		s.serveArtifact(s.dir.ReportPath(tag))(c)
	})
	return router
}

// Listen blocks serving the operator surface on the given port
func (s *Server) Listen(port int) error {
	s.log.Info("serving pipeline metrics and artifacts",
		zap.Int("port", port),
	)
	return s.Router().Run(fmt.Sprintf(":%d", port))
}

func (s *Server) serveArtifact(path string) gin.HandlerFunc {
	return func(c *gin.Context) {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				c.JSON(http.StatusNotFound, gin.H{"error": "artifact not produced yet"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.Data(http.StatusOK, "application/json", data)
	}
}

func (s *Server) listReports(c *gin.Context) {
	pattern := s.dir.ReportPath("*")
	matches, err := filepath.Glob(pattern)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	tags := make([]string, 0, len(matches))
	for _, m := range matches {
		base := filepath.Base(m)
		tag := strings.TrimSuffix(strings.TrimPrefix(base, "report-"), ".json")
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	c.JSON(http.StatusOK, gin.H{"reports": tags})
}
