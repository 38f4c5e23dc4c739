package treemap

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image/png"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Zachkp/bond-site/internal/payload"
)

func row(secid string, kv ...any) payload.Row {
	r := payload.Row{"SECID": payload.String(secid)}
	for i := 0; i+1 < len(kv); i += 2 {
		col := kv[i].(string)
		switch v := kv[i+1].(type) {
		case float64:
			r[col] = payload.Number(v)
		case string:
			r[col] = payload.String(v)
		case nil:
			r[col] = payload.Null()
		}
	}
	return r
}

func TestQuantile(t *testing.T) {
	s := []float64{1, 2, 3, 4, 5}
	assert.Equal(t, 3.0, Quantile(s, 0.5))
	assert.Equal(t, 1.0, Quantile(s, 0))
	assert.Equal(t, 5.0, Quantile(s, 1))
	assert.InDelta(t, 1.2, Quantile(s, 0.05), 1e-12)
	assert.InDelta(t, 4.4, Quantile(s, 0.85), 1e-12)

	assert.Equal(t, 0.0, Quantile(nil, 0.5))
	assert.Equal(t, 0.0, Quantile([]float64{}, 0.99))
	assert.Equal(t, 7.0, Quantile([]float64{7}, 0.3))
}

func TestYieldScaleNormalize(t *testing.T) {
	opts := DefaultOptions()
	s := NewYieldScale([]float64{5, 1, 3, 2, 4}, opts)

	assert.Equal(t, 0.0, s.Normalize(s.Lo))
	assert.Equal(t, 1.0, s.Normalize(s.Hi))
	assert.Equal(t, 0.0, s.Normalize(-100), "clamped below")
	assert.Equal(t, 1.0, s.Normalize(100), "clamped above")

	assert.Equal(t, 0.5, s.Color(0, false), "missing is neutral")
	assert.Equal(t, 0.0, s.Color(s.Lo, true))
	assert.Equal(t, 1.0, s.Color(s.Hi, true))
}

func TestYieldScaleCollapsedRange(t *testing.T) {
	s := NewYieldScale([]float64{12, 12, 12}, DefaultOptions())
	assert.Equal(t, 0.5, s.Normalize(12))
	assert.InDelta(t, math.Pow(0.5, 0.65), s.Color(12, true), 1e-12)
}

func TestGammaMonotonic(t *testing.T) {
	s := YieldScale{Lo: 0, Hi: 1, Gamma: 0.65}
	prev := -1.0
	for i := 0; i <= 100; i++ {
		c := s.Color(float64(i)/100, true)
		assert.Greater(t, c, prev)
		prev = c
	}
}

func TestParseYieldDecimalComma(t *testing.T) {
	v, ok := ParseYield(payload.String("17,45"))
	require.True(t, ok)
	assert.Equal(t, 17.45, v)

	_, ok = ParseYield(payload.String("—"))
	assert.False(t, ok)
}

func TestRenderEmpty(t *testing.T) {
	sink := &FigureSink{}
	r := NewRenderer(DefaultOptions(), sink)

	res := r.Render(&payload.Payload{Rows: []payload.Row{}})
	assert.False(t, res.OK())
	assert.Nil(t, res.Figure)
	assert.Contains(t, res.Message, "data/ytm_top20.json")
	var empty *EmptyDataError
	assert.True(t, errors.As(res.Err, &empty))
	assert.Zero(t, sink.Calls)

	res = r.Render(nil)
	assert.False(t, res.OK())
	assert.Zero(t, sink.Calls)
}

func TestRenderMissingDependency(t *testing.T) {
	r := NewRenderer(DefaultOptions(), nil)
	res := r.Render(&payload.Payload{Cols: []string{"SECID"}, Rows: []payload.Row{row("A")}})

	var missing *MissingDependencyError
	require.True(t, errors.As(res.Err, &missing))
	assert.Contains(t, res.Message, "Include Plotly")
	assert.Nil(t, res.Figure)
}

func TestRenderFigure(t *testing.T) {
	p := &payload.Payload{
		Cols: []string{"SECID", "YTM", "YEARS", "SHORTNAME"},
		Rows: []payload.Row{
			row("RU000A1", "YTM", 20.0, "YEARS", 1.234, "SIZE", 4.0, "SHORTNAME", "Bond A"),
			row("RU000A2", "YTM", "17,5", "SIZE", "big"),
			row("RU000A3", "YTM", "n/a", "YEARS", nil),
			row("RU000A4", "YTM", 10.0, "SIZE", 0.0),
		},
	}
	sink := &FigureSink{}
	res := NewRenderer(DefaultOptions(), sink).Render(p)
	require.True(t, res.OK(), res.Message)
	assert.Equal(t, 1, sink.Calls)

	tr := res.Figure.Cells()
	require.NotNil(t, tr)
	assert.Equal(t, "treemap", tr.Type)
	assert.Equal(t, []string{"RU000A1", "RU000A2", "RU000A3", "RU000A4"}, tr.Labels)
	assert.Equal(t, []string{"", "", "", ""}, tr.Parents)
	assert.Equal(t, []float64{4, 1, 1, 0}, tr.Values)

	assert.Equal(t, 0.0, tr.Marker.CMin)
	assert.Equal(t, 1.0, tr.Marker.CMax)
	assert.Len(t, tr.Marker.ColorScale, 5)
	assert.Equal(t, 3, tr.Marker.Line.Width)
	assert.Equal(t, "#ffffff", tr.TextFont.Color)

	// 20 is the top yield and 10 the bottom one; n/a is neutral.
	assert.Equal(t, 1.0, tr.Marker.Colors[0])
	assert.Equal(t, 0.5, tr.Marker.Colors[2])
	assert.Equal(t, 0.0, tr.Marker.Colors[3])
	assert.Greater(t, tr.Marker.Colors[1], 0.0)
	assert.Less(t, tr.Marker.Colors[1], 1.0)

	assert.Equal(t, []string{"RU000A1", "20.00%", "1.23", "Bond A", "20.00%"}, tr.CustomData[0])
	assert.Equal(t, []string{"RU000A2", "17.50%", "—", "—", "17.50%"}, tr.CustomData[1])
	assert.Equal(t, []string{"RU000A3", "n/a", "—", "—", ""}, tr.CustomData[2])

	assert.Contains(t, tr.HoverTemplate, "<b>YTM</b>: %{customdata[1]}")
	assert.True(t, strings.HasSuffix(tr.HoverTemplate, "<extra></extra>"))
	assert.Contains(t, tr.TextTemplate, "%{customdata[4]}")
}

func TestFigureJSON(t *testing.T) {
	p := &payload.Payload{Cols: []string{"SECID"}, Rows: []payload.Row{row("A", "YTM", 1.0)}}
	b, err := json.Marshal(BuildFigure(p, DefaultOptions()))
	require.NoError(t, err)

	s := string(b)
	assert.Contains(t, s, `"cmin":0`)
	assert.Contains(t, s, `"colorscale":[[0,"#7f0000"]`)
	assert.Contains(t, s, `"parents":[""]`)
	assert.Contains(t, s, `"uniformtext":{"minsize":10,"mode":"hide"}`)
}

type fakeLoader struct {
	p   *payload.Payload
	err error
}

func (f fakeLoader) Load(context.Context) (*payload.Payload, error) { return f.p, f.err }

func TestRunFetchFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	sink := &FigureSink{}
	res := NewRenderer(DefaultOptions(), sink).Run(context.Background(), payload.NewLoader(srv.URL))

	var fe *payload.FetchError
	require.True(t, errors.As(res.Err, &fe))
	assert.Contains(t, res.Message, srv.URL+"/data/ytm_top20.json")
	assert.Contains(t, res.Message, "404")
	assert.Zero(t, sink.Calls)
}

func TestRunSuccess(t *testing.T) {
	sink := &FigureSink{}
	p := &payload.Payload{Cols: []string{"SECID"}, Rows: []payload.Row{row("A"), row("B")}}
	res := NewRenderer(DefaultOptions(), sink).Run(context.Background(), fakeLoader{p: p})
	require.True(t, res.OK())
	assert.Len(t, res.Figure.Cells().Labels, 2)
}

type recordingClipboard struct {
	writes []string
	err    error
}

func (c *recordingClipboard) WriteText(_ context.Context, s string) error {
	c.writes = append(c.writes, s)
	return c.err
}

type recordingNotices struct{ msgs []string }

func (n *recordingNotices) Show(msg string) { n.msgs = append(n.msgs, msg) }

func TestClickCopies(t *testing.T) {
	cb := &recordingClipboard{}
	notes := &recordingNotices{}
	h := &ClickHandler{Clipboard: cb, Notices: notes}

	require.NoError(t, h.Click(context.Background(), "RU000A1"))
	assert.Equal(t, []string{"RU000A1"}, cb.writes)
	require.Len(t, notes.msgs, 1)
	assert.Contains(t, notes.msgs[0], "RU000A1")
}

func TestClickClipboardRejected(t *testing.T) {
	cb := &recordingClipboard{err: errors.New("denied")}
	notes := &recordingNotices{}
	h := &ClickHandler{Clipboard: cb, Notices: notes}

	err := h.Click(context.Background(), "RU000A1")
	var ce *ClipboardError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, []string{"RU000A1"}, cb.writes)
	require.Len(t, notes.msgs, 1)
	assert.Contains(t, notes.msgs[0], "manually")
	assert.Contains(t, notes.msgs[0], "RU000A1")
}

type panickingClipboard struct{}

func (panickingClipboard) WriteText(context.Context, string) error { panic("boom") }

func TestClickRecoversPanic(t *testing.T) {
	notes := &recordingNotices{}
	h := &ClickHandler{Clipboard: panickingClipboard{}, Notices: notes}

	assert.NotPanics(t, func() {
		err := h.Click(context.Background(), "RU000A1")
		assert.Error(t, err)
	})
	require.Len(t, notes.msgs, 1)
	assert.Contains(t, notes.msgs[0], "manually")
}

func TestSquarifyAreas(t *testing.T) {
	values := []float64{6, 6, 4, 3, 2, 2, 1, 0}
	bounds := Rect{W: 600, H: 400}
	cells := Squarify(values, bounds)
	require.Len(t, cells, len(values))

	total := 24.0
	for i, c := range cells {
		want := values[i] / total * bounds.W * bounds.H
		assert.InDelta(t, want, c.W*c.H, 1e-6, "cell %d", i)
		assert.GreaterOrEqual(t, c.X, -1e-9)
		assert.GreaterOrEqual(t, c.Y, -1e-9)
		assert.LessOrEqual(t, c.X+c.W, bounds.W+1e-6)
		assert.LessOrEqual(t, c.Y+c.H, bounds.H+1e-6)
	}
}

func TestPaletteAt(t *testing.T) {
	assert.Equal(t, hexColor("#7f0000"), PaletteAt(0))
	assert.Equal(t, hexColor("#ffb000"), PaletteAt(0.5))
	assert.Equal(t, hexColor("#00ff66"), PaletteAt(1))
	assert.Equal(t, hexColor("#00ff66"), PaletteAt(3))
}

func TestPNGChart(t *testing.T) {
	p := &payload.Payload{
		Cols: []string{"SECID", "YTM"},
		Rows: []payload.Row{row("RU000A1", "YTM", 20.0, "SIZE", 4.5), row("RU000A2", "YTM", 15.0, "SIZE", 3.9)},
	}
	var buf bytes.Buffer
	res := NewRenderer(DefaultOptions(), &PNGChart{W: &buf, Width: 320, Height: 200}).Render(p)
	require.True(t, res.OK(), res.Message)

	img, err := png.Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, 320, img.Bounds().Dx())
	assert.Equal(t, 200, img.Bounds().Dy())
}

func TestHTMLPage(t *testing.T) {
	p := &payload.Payload{Cols: []string{"SECID"}, Rows: []payload.Row{row("RU000A1")}}
	var buf bytes.Buffer
	page := &HTMLPage{W: &buf, PlotlyURL: "https://cdn.plot.ly/plotly-2.35.2.min.js", Title: "YTM"}
	res := NewRenderer(DefaultOptions(), page).Render(p)
	require.True(t, res.OK(), res.Message)

	out := buf.String()
	assert.Contains(t, out, `src="https://cdn.plot.ly/plotly-2.35.2.min.js"`)
	assert.Contains(t, out, "RU000A1")
	assert.Contains(t, out, "Plotly.newPlot")
	assert.Contains(t, out, ">—<", "missing updated_at shows a placeholder")
}
