package campaign

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/brand-ratings/internal/expand"
	"github.com/sells-group/brand-ratings/internal/snapshot"
	"github.com/sells-group/brand-ratings/internal/source"
)

// Build drains src through the expander into a fresh snapshot. The first
// malformed fact, unknown kind or feed error aborts the build; nothing is
// returned for a partial feed.
func Build(ctx context.Context, src source.Source, x *expand.Expander) (*snapshot.Builder, int, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	b := snapshot.New()
	records, errCh := src.Records(ctx)

	n := 0
	for rec := range records {
		n++
		if err := x.Expand(rec, b.Put); err != nil {
			return nil, n, eris.Wrapf(err, "campaign: %s: record %d", src.Name(), n)
		}
	}
	if err := <-errCh; err != nil {
		return nil, n, eris.Wrapf(err, "campaign: %s: read feed", src.Name())
	}
	if err := ctx.Err(); err != nil {
		return nil, n, eris.Wrapf(err, "campaign: %s", src.Name())
	}
	return b, n, nil
}
