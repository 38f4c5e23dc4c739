package treemap

import (
	"encoding/json"
	"fmt"
	"image/color"
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/Zachkp/bond-site/internal/payload"
)

const (
	borderColor = "#0b0f14"
	borderWidth = 3
	textColor   = "#ffffff"
	background  = "#0b0f14"
	placeholder = "—"
)

// ColorStop is one [position, color] pair of a Plotly colorscale.
type ColorStop struct {
	Pos   float64
	Color string
}

func (c ColorStop) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{c.Pos, c.Color})
}

// Palette is a diverging scale from dark red (low yield) to bright green.
var Palette = []ColorStop{
	{0, "#7f0000"},
	{0.25, "#ff1a1a"},
	{0.5, "#ffb000"},
	{0.75, "#2ecc71"},
	{1, "#00ff66"},
}

// PaletteAt interpolates the palette at position t in [0,1].
func PaletteAt(t float64) color.RGBA {
	if math.IsNaN(t) || t < 0 {
		t = 0
	}
	if t > 1 {
		t = 1
	}
	for i := 1; i < len(Palette); i++ {
		a, b := Palette[i-1], Palette[i]
		if t > b.Pos {
			continue
		}
		f := 0.0
		if b.Pos > a.Pos {
			f = (t - a.Pos) / (b.Pos - a.Pos)
		}
		ca, cb := hexColor(a.Color), hexColor(b.Color)
		return color.RGBA{
			R: lerp(ca.R, cb.R, f),
			G: lerp(ca.G, cb.G, f),
			B: lerp(ca.B, cb.B, f),
			A: 0xff,
		}
	}
	return hexColor(Palette[len(Palette)-1].Color)
}

func lerp(a, b uint8, f float64) uint8 {
	return uint8(math.Round(float64(a) + (float64(b)-float64(a))*f))
}

func hexColor(s string) color.RGBA {
	v, err := strconv.ParseUint(strings.TrimPrefix(s, "#"), 16, 32)
	if err != nil {
		return color.RGBA{A: 0xff}
	}
	return color.RGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 0xff}
}

// Figure is the {data, layout} pair handed to Plotly.newPlot.
type Figure struct {
	Data   []Trace `json:"data"`
	Layout Layout  `json:"layout"`
}

type Trace struct {
	Type          string     `json:"type"`
	Labels        []string   `json:"labels"`
	Parents       []string   `json:"parents"`
	Values        []float64  `json:"values"`
	CustomData    [][]string `json:"customdata"`
	HoverTemplate string     `json:"hovertemplate"`
	TextTemplate  string     `json:"texttemplate"`
	Marker        Marker     `json:"marker"`
	TextFont      Font       `json:"textfont"`
}

type Marker struct {
	Colors     []float64   `json:"colors"`
	ColorScale []ColorStop `json:"colorscale"`
	CMin       float64     `json:"cmin"`
	CMax       float64     `json:"cmax"`
	Line       Line        `json:"line"`
}

type Line struct {
	Color string `json:"color"`
	Width int    `json:"width"`
}

type Font struct {
	Color string `json:"color,omitempty"`
	Size  int    `json:"size,omitempty"`
}

type Layout struct {
	PaperBGColor string      `json:"paper_bgcolor"`
	PlotBGColor  string      `json:"plot_bgcolor"`
	Margin       Margin      `json:"margin"`
	UniformText  UniformText `json:"uniformtext"`
	Font         Font        `json:"font"`
}

type Margin struct {
	T int `json:"t"`
	L int `json:"l"`
	R int `json:"r"`
	B int `json:"b"`
}

type UniformText struct {
	MinSize int    `json:"minsize"`
	Mode    string `json:"mode"`
}

// Cells returns the first trace, the only one a treemap figure has.
func (f *Figure) Cells() *Trace {
	if f == nil || len(f.Data) == 0 {
		return nil
	}
	return &f.Data[0]
}

// FormatCell renders a cell for the tooltip.
func (o Options) FormatCell(col string, v payload.Value) string {
	if v.IsNull() {
		return placeholder
	}
	switch {
	case slices.Contains(o.PercentCols, col):
		if f, ok := v.Float(); ok {
			return decimal.NewFromFloat(f).StringFixed(2) + "%"
		}
	case col == o.DurationCol:
		if f, ok := v.Float(); ok {
			return decimal.NewFromFloat(f).StringFixed(2)
		}
	}
	return v.String()
}

// rateText is the big overlay shown inside each cell.
func (o Options) rateText(row payload.Row) string {
	if o.RateCol == "" {
		return ""
	}
	f, ok := row.Get(o.RateCol).Float()
	if !ok {
		return ""
	}
	return decimal.NewFromFloat(f).StringFixed(2) + "%"
}

func hoverTemplate(cols []string) string {
	parts := make([]string, 0, len(cols))
	for i, c := range cols {
		parts = append(parts, fmt.Sprintf("<b>%s</b>: %%{customdata[%d]}", c, i))
	}
	return strings.Join(parts, "<br>") + "<extra></extra>"
}

func textTemplate(rateIdx int) string {
	return fmt.Sprintf("<b>%%{label}</b><br><span style=\"font-size:22px\">%%{customdata[%d]}</span>", rateIdx)
}

// cellValue is the area weight: SIZE when it is a finite number, else 1.
func cellValue(row payload.Row) float64 {
	if v, ok := row.Get("SIZE").Number(); ok {
		return v
	}
	return 1
}

// BuildFigure derives the treemap figure for a non-empty payload.
func BuildFigure(p *payload.Payload, opts Options) *Figure {
	n := len(p.Rows)
	tr := Trace{
		Type:          "treemap",
		Labels:        make([]string, n),
		Parents:       make([]string, n),
		Values:        make([]float64, n),
		CustomData:    make([][]string, n),
		HoverTemplate: hoverTemplate(p.Cols),
		TextTemplate:  textTemplate(len(p.Cols)),
		Marker: Marker{
			Colors:     colors(p.Rows, opts),
			ColorScale: Palette,
			CMin:       0,
			CMax:       1,
			Line:       Line{Color: borderColor, Width: borderWidth},
		},
		TextFont: Font{Color: textColor},
	}

	for i, row := range p.Rows {
		tr.Labels[i] = row.SECID()
		tr.Values[i] = cellValue(row)

		cd := make([]string, 0, len(p.Cols)+1)
		for _, c := range p.Cols {
			cd = append(cd, opts.FormatCell(c, row.Get(c)))
		}
		tr.CustomData[i] = append(cd, opts.rateText(row))
	}

	return &Figure{
		Data: []Trace{tr},
		Layout: Layout{
			PaperBGColor: background,
			PlotBGColor:  background,
			Margin:       Margin{T: 10, L: 10, R: 10, B: 10},
			UniformText:  UniformText{MinSize: 10, Mode: "hide"},
			Font:         Font{Color: textColor},
		},
	}
}
