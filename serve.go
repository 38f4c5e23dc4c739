package main

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"html/template"
	"io/fs"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/Zachkp/bond-site/internal/config"
	"github.com/Zachkp/bond-site/internal/moex"
	"github.com/Zachkp/bond-site/internal/payload"
	"github.com/Zachkp/bond-site/internal/store"
	"github.com/Zachkp/bond-site/internal/treemap"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static/css/*.css static/js/*.js
var staticFS embed.FS

type site struct {
	cfg   *config.Config
	db    *store.DB
	admin *adminAuth
	home  map[string]template.HTML
	now   func() time.Time
}

func newSite(cfg *config.Config, db *store.DB) *site {
	return &site{
		cfg:   cfg,
		db:    db,
		admin: newAdminAuth(cfg.Admin),
		home:  homeContent(),
		now:   time.Now,
	}
}

func (s *site) router() *gin.Engine {
	r := gin.Default()
	r.SetHTMLTemplate(template.Must(template.ParseFS(templateFS, "templates/*.html")))

	static, err := fs.Sub(staticFS, "static")
	if err != nil {
		log.Fatal("Failed to mount static assets:", err)
	}
	r.StaticFS("/static", http.FS(static))

	r.Use(s.visitorTrackingMiddleware())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Home page route
	r.GET("/", func(c *gin.Context) {
		data := gin.H{"title": "Home"}
		for k, v := range s.home {
			data[k] = v
		}
		c.HTML(http.StatusOK, "index.html", data)
	})

	// Treemap page; the figure itself comes from /api/treemap
	r.GET("/bonds", func(c *gin.Context) {
		c.HTML(http.StatusOK, "bonds.html", gin.H{
			"title":       "Bond yields",
			"plotlyURL":   s.cfg.Treemap.PlotlyURL,
			"noticeDelay": s.cfg.Server.NoticeDelay.Milliseconds(),
		})
	})

	r.GET("/"+payload.DefaultPath, s.serveDataFile)
	r.GET("/treemap.png", s.treemapPNG)

	api := r.Group("/api")
	if s.cfg.Server.Compress {
		api.Use(zstdMiddleware())
	}
	api.GET("/treemap", s.treemapFigure)
	api.POST("/copy-events", s.recordCopy)

	s.setupAdminRoutes(r)
	return r
}

// serveDataFile serves the payload with caching disabled so a rebuilt file
// shows up on the next page load.
func (s *site) serveDataFile(c *gin.Context) {
	if _, err := os.Stat(s.cfg.Data.Path); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "data file not built yet"})
		return
	}
	c.Header("Cache-Control", "no-cache, no-store, must-revalidate")
	c.Header("Pragma", "no-cache")
	c.Header("Expires", "0")
	c.File(s.cfg.Data.Path)
}

func (s *site) renderer(chart treemap.Charter) *treemap.Renderer {
	r := treemap.NewRenderer(s.cfg.TreemapOptions(), chart)
	r.DataPath = payload.DefaultPath
	return r
}

// treemapFigure answers with either the Plotly figure or the one message
// explaining why there is none.
func (s *site) treemapFigure(c *gin.Context) {
	c.Header("Cache-Control", "no-cache")

	p, err := payload.ReadFile(s.cfg.Data.Path)
	if err != nil {
		log.Printf("Error loading treemap data: %v", err)
		fe := dataFetchError(err)
		c.JSON(fe.Status, gin.H{"message": fe.Error(), "updated_at": nil})
		return
	}

	var chart treemap.Charter
	if s.cfg.Treemap.PlotlyURL != "" {
		chart = &treemap.FigureSink{}
	}
	res := s.renderer(chart).Render(p)

	updated := any(nil)
	if p.UpdatedAt != "" {
		updated = p.UpdatedAt
	}
	if !res.OK() {
		c.JSON(http.StatusOK, gin.H{"message": res.Message, "updated_at": updated})
		return
	}
	c.JSON(http.StatusOK, gin.H{"figure": res.Figure, "updated_at": updated})
}

// dataFetchError describes a data file the server could not read the way
// the page would see it over HTTP: 404 when it has not been built yet, 503
// when it is unreadable or malformed.
func dataFetchError(err error) *payload.FetchError {
	status := http.StatusServiceUnavailable
	if errors.Is(err, fs.ErrNotExist) {
		status = http.StatusNotFound
	}
	return &payload.FetchError{URL: "/" + payload.DefaultPath, Status: status, Err: err}
}

func (s *site) treemapPNG(c *gin.Context) {
	p, err := payload.ReadFile(s.cfg.Data.Path)
	if err != nil {
		fe := dataFetchError(err)
		c.String(fe.Status, fe.Error())
		return
	}

	var buf bytes.Buffer
	res := s.renderer(&treemap.PNGChart{
		W:      &buf,
		Width:  s.cfg.Treemap.PNGWidth,
		Height: s.cfg.Treemap.PNGHeight,
	}).Render(p)
	if !res.OK() {
		var empty *treemap.EmptyDataError
		if errors.As(res.Err, &empty) {
			c.String(http.StatusNotFound, res.Message)
			return
		}
		log.Printf("Error rendering treemap PNG: %v", res.Err)
		c.String(http.StatusInternalServerError, res.Message)
		return
	}

	c.Header("Cache-Control", "no-cache")
	c.Data(http.StatusOK, "image/png", buf.Bytes())
}

type copyEvent struct {
	SECID string `json:"secid" binding:"required,max=64"`
	OK    *bool  `json:"ok" binding:"required"`
}

// recordCopy logs a treemap click reported by the page script.
func (s *site) recordCopy(c *gin.Context) {
	var ev copyEvent
	if err := c.ShouldBindJSON(&ev); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if c.GetHeader("DNT") == "1" {
		c.Status(http.StatusNoContent)
		return
	}
	if err := s.db.RecordCopy(ev.SECID, s.admin.hashIP(c.ClientIP()), *ev.OK, s.now()); err != nil {
		log.Printf("Error recording copy of %s: %v", ev.SECID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to record"})
		return
	}
	c.Status(http.StatusNoContent)
}

// refreshLoop rebuilds the data file on a fixed interval until ctx ends.
func refreshLoop(ctx context.Context, b *moex.Builder, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := b.Build(ctx); err != nil {
				log.Printf("Error refreshing bond data: %v", err)
			}
		}
	}
}

func newBuilder(cfg *config.Config) *moex.Builder {
	client := moex.NewClient(cfg.MOEX.BaseURL)
	client.PageLimit = cfg.MOEX.PageLimit
	return &moex.Builder{
		Client:  client,
		Options: cfg.FilterOptions(),
		OutPath: cfg.Data.Path,
	}
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the site",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		db, err := store.Open(cfg.Data.DBPath)
		if err != nil {
			return err
		}
		defer db.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		s := newSite(cfg, db)
		s.initVisitorTracking()

		if cfg.MOEX.RefreshInterval > 0 {
			log.Printf("Refreshing bond data every %s", cfg.MOEX.RefreshInterval)
			go refreshLoop(ctx, newBuilder(cfg), cfg.MOEX.RefreshInterval)
		}

		srv := &http.Server{Addr: ":" + cfg.Server.Port, Handler: s.router()}
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()

		log.Printf("Listening on :%s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
