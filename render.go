package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Zachkp/bond-site/internal/payload"
	"github.com/Zachkp/bond-site/internal/treemap"
)

var (
	renderURL  string
	renderHTML string
	renderPNG  string
)

var renderCmd = &cobra.Command{
	Use:   "render",
	Short: "Fetch the data file from a running site and render the treemap",
	Long: `render loads data/ytm_top20.json from --url with a cache-busting query and
writes either a standalone Plotly page (--html) or a PNG image (--png).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if (renderHTML == "") == (renderPNG == "") {
			return errors.New("exactly one of --html or --png is required")
		}

		var buf bytes.Buffer
		var chart treemap.Charter
		out := renderPNG
		if renderPNG != "" {
			chart = &treemap.PNGChart{W: &buf, Width: cfg.Treemap.PNGWidth, Height: cfg.Treemap.PNGHeight}
		} else {
			out = renderHTML
			if cfg.Treemap.PlotlyURL != "" {
				chart = &htmlChart{page: treemap.HTMLPage{
					W:           &buf,
					PlotlyURL:   cfg.Treemap.PlotlyURL,
					Title:       "Bond yields",
					DelayMillis: cfg.Server.NoticeDelay.Milliseconds(),
				}}
			}
		}

		loader := &updatedAtLoader{Loader: payload.NewLoader(renderURL)}
		if hc, ok := chart.(*htmlChart); ok {
			hc.updated = &loader.updatedAt
		}

		res := treemap.NewRenderer(cfg.TreemapOptions(), chart).Run(cmd.Context(), loader)
		if !res.OK() {
			fmt.Fprintln(os.Stderr, res.Message)
			return res.Err
		}
		if err := os.WriteFile(out, buf.Bytes(), 0o644); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "Wrote %s (%d cells)\n", out, len(res.Figure.Cells().Labels))
		return nil
	},
}

// updatedAtLoader remembers the payload timestamp for the page header.
type updatedAtLoader struct {
	*payload.Loader
	updatedAt string
}

func (l *updatedAtLoader) Load(ctx context.Context) (*payload.Payload, error) {
	p, err := l.Loader.Load(ctx)
	if err == nil {
		l.updatedAt = p.UpdatedAt
	}
	return p, err
}

type htmlChart struct {
	page    treemap.HTMLPage
	updated *string
}

func (h *htmlChart) NewPlot(fig *treemap.Figure) error {
	if h.updated != nil {
		h.page.UpdatedAt = *h.updated
	}
	return h.page.NewPlot(fig)
}

func init() {
	renderCmd.Flags().StringVar(&renderURL, "url", "http://localhost:8080", "base URL of the site serving the data file")
	renderCmd.Flags().StringVar(&renderHTML, "html", "", "write a standalone HTML page")
	renderCmd.Flags().StringVar(&renderPNG, "png", "", "write a PNG image")
	rootCmd.AddCommand(renderCmd)
}
