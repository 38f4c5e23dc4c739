// Package treemap turns the yield payload into a single-level treemap:
// quantile-clamped color mapping, tooltip formatting, the chart call and
// the click-to-copy handler.
package treemap

import (
	"context"
	"errors"
	"fmt"

	"github.com/Zachkp/bond-site/internal/payload"
)

// EmptyDataError is the rendered state for a payload without rows.
type EmptyDataError struct {
	Path string
}

func (e *EmptyDataError) Error() string {
	return fmt.Sprintf("No data yet: %s has no rows.", e.Path)
}

// MissingDependencyError means no chart backend is available.
type MissingDependencyError struct {
	Name string
}

func (e *MissingDependencyError) Error() string {
	return fmt.Sprintf("%s is not loaded. Include %s on the page to render the treemap.", e.Name, e.Name)
}

// Charter is the "create chart" collaborator. Implementations mount or
// serialize the figure.
type Charter interface {
	NewPlot(fig *Figure) error
}

// Loader supplies the payload, typically over HTTP.
type Loader interface {
	Load(ctx context.Context) (*payload.Payload, error)
}

// Result is the outcome of one render: either a figure or exactly one
// explanatory message.
type Result struct {
	Figure  *Figure
	Message string
	Err     error
}

// OK reports whether the chart was drawn.
func (r Result) OK() bool { return r.Err == nil }

type Renderer struct {
	Options Options
	Chart   Charter
	// DataPath names the data file in the empty-state message.
	DataPath string
}

func NewRenderer(opts Options, chart Charter) *Renderer {
	return &Renderer{Options: opts, Chart: chart, DataPath: payload.DefaultPath}
}

// Render draws p with one chart call, or explains why it could not.
func (r *Renderer) Render(p *payload.Payload) Result {
	if p == nil || len(p.Rows) == 0 {
		path := r.DataPath
		if path == "" {
			path = payload.DefaultPath
		}
		return failed(&EmptyDataError{Path: path})
	}
	if r.Chart == nil {
		return failed(&MissingDependencyError{Name: "Plotly"})
	}

	fig := BuildFigure(p, r.Options)
	if err := r.Chart.NewPlot(fig); err != nil {
		return failed(fmt.Errorf("chart failed: %w", err))
	}
	return Result{Figure: fig}
}

// Run is the page-load sequence: one fetch, then render. A fetch error is
// reported as the message and no chart call is made.
func (r *Renderer) Run(ctx context.Context, l Loader) Result {
	p, err := l.Load(ctx)
	if err != nil {
		var fe *payload.FetchError
		if errors.As(err, &fe) {
			return failed(fe)
		}
		return failed(&payload.FetchError{Err: err})
	}
	return r.Render(p)
}

func failed(err error) Result {
	return Result{Message: err.Error(), Err: err}
}
