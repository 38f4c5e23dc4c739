package moex

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/Zachkp/bond-site/internal/payload"
)

// Builder regenerates the site's data file from live ISS data.
type Builder struct {
	Client  *Client
	Options FilterOptions
	OutPath string
	Now     func() time.Time
}

// Build fetches, filters and writes the data file. An empty result still
// produces a file, with no rows.
func (b *Builder) Build(ctx context.Context) (*payload.Payload, error) {
	now := time.Now()
	if b.Now != nil {
		now = b.Now()
	}

	bonds, err := b.Client.FetchTradedBonds(ctx)
	if err != nil {
		return nil, err
	}
	kept, err := Filter(bonds, now, b.Options)
	if err != nil {
		return nil, err
	}

	p := BuildPayload(kept, b.Options.TopN, now)
	if err := payload.WriteFile(b.OutPath, p); err != nil {
		return nil, fmt.Errorf("writing %s: %w", b.OutPath, err)
	}

	if len(p.Rows) == 0 {
		log.Printf("No rows. Wrote empty %s", b.OutPath)
	} else {
		log.Printf("Wrote %s (%d rows)", b.OutPath, len(p.Rows))
	}
	return p, nil
}
