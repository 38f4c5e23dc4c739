package treemap

import (
	"errors"
	"html/template"
	"image/color"
	"io"
	"math"

	"github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"
)

// FigureSink keeps the last figure, for callers that ship it as JSON.
type FigureSink struct {
	Figure *Figure
	Calls  int
}

func (s *FigureSink) NewPlot(fig *Figure) error {
	s.Figure = fig
	s.Calls++
	return nil
}

var pageTmpl = template.Must(template.New("treemap").Parse(`<!doctype html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<script src="{{.PlotlyURL}}"></script>
<style>
body{margin:0;background:#0b0f14;color:#e6edf3;font-family:system-ui,sans-serif}
#chart{width:100vw;height:92vh}
#toast{position:fixed;bottom:16px;left:50%;transform:translateX(-50%);padding:8px 14px;border-radius:8px;background:#1f2933;opacity:0;transition:opacity .2s}
#toast.show{opacity:1}
</style>
</head>
<body>
<p>Updated: <span id="updated">{{.UpdatedAt}}</span></p>
<div id="chart"></div>
<div id="toast"></div>
<script>
(function () {
  const fig = {{.Figure}};
  const el = document.getElementById("chart");
  const toast = document.getElementById("toast");
  let timer = null;
  function notice(msg) {
    toast.textContent = msg;
    toast.classList.add("show");
    clearTimeout(timer);
    timer = setTimeout(() => toast.classList.remove("show"), {{.DelayMillis}});
  }
  if (typeof Plotly === "undefined") {
    el.textContent = "Plotly is not loaded. Include Plotly on the page to render the treemap.";
    return;
  }
  Plotly.newPlot(el, fig.data, fig.layout, {displayModeBar: false, responsive: true});
  el.on("plotly_click", async (ev) => {
    const id = ev && ev.points && ev.points[0] && ev.points[0].label;
    if (!id) return;
    try {
      await navigator.clipboard.writeText(id);
      notice("Copied " + id);
    } catch (e) {
      notice("Copy failed, copy " + id + " manually");
    }
  });
})();
</script>
</body>
</html>
`))

// HTMLPage writes a standalone page that mounts the figure with Plotly.
type HTMLPage struct {
	W           io.Writer
	PlotlyURL   string
	Title       string
	UpdatedAt   string
	DelayMillis int64
}

func (h *HTMLPage) NewPlot(fig *Figure) error {
	if h.W == nil {
		return errors.New("no output writer")
	}
	updated := h.UpdatedAt
	if updated == "" {
		updated = placeholder
	}
	delay := h.DelayMillis
	if delay <= 0 {
		delay = 1600
	}
	return pageTmpl.Execute(h.W, map[string]any{
		"Title":       h.Title,
		"PlotlyURL":   h.PlotlyURL,
		"UpdatedAt":   updated,
		"Figure":      fig,
		"DelayMillis": delay,
	})
}

// PNGChart draws the treemap as a raster image with go-chart's renderer,
// for previews and clients without JavaScript.
type PNGChart struct {
	W             io.Writer
	Width, Height int
}

func (p *PNGChart) NewPlot(fig *Figure) error {
	tr := fig.Cells()
	if tr == nil {
		return errors.New("figure has no trace")
	}
	if p.W == nil {
		return errors.New("no output writer")
	}
	width, height := p.Width, p.Height
	if width <= 0 {
		width = 1200
	}
	if height <= 0 {
		height = 700
	}

	r, err := chart.PNG(width, height)
	if err != nil {
		return err
	}
	font, err := chart.GetDefaultFont()
	if err != nil {
		return err
	}
	r.SetFont(font)

	bg := toDrawing(hexColor(background))
	r.SetFillColor(bg)
	r.SetStrokeColor(bg)
	r.SetStrokeWidth(0)
	path(r, Rect{W: float64(width), H: float64(height)})
	r.Fill()

	cells := Squarify(tr.Values, Rect{W: float64(width), H: float64(height)})
	for i, c := range cells {
		if c.W < 1 || c.H < 1 {
			continue
		}
		r.SetFillColor(toDrawing(PaletteAt(tr.Marker.Colors[i])))
		r.SetStrokeColor(toDrawing(hexColor(tr.Marker.Line.Color)))
		r.SetStrokeWidth(float64(tr.Marker.Line.Width))
		path(r, c)
		r.FillStroke()

		rate := ""
		if cd := tr.CustomData[i]; len(cd) > 0 {
			rate = cd[len(cd)-1]
		}
		drawLabel(r, c, tr.Labels[i], rate)
	}
	return r.Save(p.W)
}

func path(r chart.Renderer, c Rect) {
	x0, y0 := int(math.Round(c.X)), int(math.Round(c.Y))
	x1, y1 := int(math.Round(c.X+c.W)), int(math.Round(c.Y+c.H))
	r.MoveTo(x0, y0)
	r.LineTo(x1, y0)
	r.LineTo(x1, y1)
	r.LineTo(x0, y1)
	r.LineTo(x0, y0)
	r.Close()
}

// drawLabel centres the label and the rate in the cell, hiding text that
// does not fit, like uniformtext mode "hide".
func drawLabel(r chart.Renderer, c Rect, label, rate string) {
	r.SetFontColor(drawing.ColorWhite)
	r.SetFontSize(12)
	lb := r.MeasureText(label)
	if float64(lb.Width()) > c.W-8 || float64(lb.Height()) > c.H-8 {
		return
	}
	cx := c.X + c.W/2
	cy := c.Y + c.H/2
	r.Text(label, int(cx)-lb.Width()/2, int(cy))

	if rate == "" {
		return
	}
	r.SetFontSize(18)
	rb := r.MeasureText(rate)
	if float64(rb.Width()) > c.W-8 || float64(lb.Height()+rb.Height()) > c.H-8 {
		return
	}
	r.Text(rate, int(cx)-rb.Width()/2, int(cy)+rb.Height()+4)
}

func toDrawing(c color.RGBA) drawing.Color {
	return drawing.Color{R: c.R, G: c.G, B: c.B, A: c.A}
}
