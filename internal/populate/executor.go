package populate

import (
	"context"
	"sync"

	"go.mongodb.org/mongo-driver/bson"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/gogotex/gogotex/backend/odm/internal/bsonutil"
	"github.com/gogotex/gogotex/backend/odm/pkg/logger"
	"github.com/gogotex/gogotex/backend/odm/pkg/metrics"
)

// Populator issues the populate queries. Descriptors are processed in order;
// the groups of one descriptor are queried concurrently.
type Populator struct {
	Resolver Resolver
	// Concurrency bounds the in-flight queries per descriptor, 0 is unbounded.
	Concurrency int
	// Limiter, when set, paces the queries.
	Limiter *rate.Limiter
}

// Populate replaces the references of docs at every descriptor path with the
// referenced documents. docs may hold *document.Document values or plain
// bson.M values of source. The first query error is returned unchanged and no
// further results are assigned.
func (p *Populator) Populate(ctx context.Context, source Model, docs []any, ds ...Descriptor) error {
	for _, d := range Expand(ds...) {
		groups, err := Plan(p.Resolver, source, docs, d)
		if err != nil {
			return err
		}
		logger.Debugf("populate %s.%s: %d model group(s)", source.Name(), d.Path, len(groups))
		if err := p.execute(ctx, d, groups); err != nil {
			return err
		}
	}
	return nil
}

func (p *Populator) execute(ctx context.Context, d Descriptor, groups []*ModelGroup) error {
	var (
		mu     sync.Mutex
		failed bool
		eg     errgroup.Group
	)
	if p.Concurrency > 0 {
		eg.SetLimit(p.Concurrency)
	}
	for _, g := range groups {
		plan, ok := g.query()
		if !ok {
			continue
		}
		g := g
		eg.Go(func() error {
			if p.Limiter != nil {
				if err := p.Limiter.Wait(ctx); err != nil {
					return err
				}
			}
			metrics.PopulateQueries.WithLabelValues(g.Model.Name()).Inc()
			logger.Debugf("populate %s -> %s: %d id(s)", d.Path, g.Model.Name(), plan.ids)
			res, err := g.Model.Find(ctx, plan.filter, plan.query)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed = true
				return err
			}
			if failed {
				return nil
			}
			newAssembler(g, plan.assign).assign(d.Path, res)
			return nil
		})
	}
	return eg.Wait()
}

type groupQuery struct {
	filter bson.M
	query  Query
	ids    int
	assign assignOptions
}

type assignOptions struct {
	sort          bool
	excludeID     bool
	originalLimit int64
	lean          bool
	idField       string
}

// query builds the single find of a group. ok is false when the group holds
// no ids to look up.
func (g *ModelGroup) query() (groupQuery, bool) {
	seen := map[string]bool{}
	var ids []any
	for _, v := range g.IDs {
		for _, id := range v.Flatten() {
			k := bsonutil.Key(id)
			if seen[k] {
				continue
			}
			seen[k] = true
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return groupQuery{}, false
	}

	idField := g.Model.Schema().IDField
	filter := cloneMatch(g.Descriptor.Match)
	if _, has := filter[idField]; g.ForeignField != idField || !has {
		filter[g.ForeignField] = bson.M{"$in": ids}
	}

	// the identity is needed for matching; an excluded one is stripped after
	sel := g.Descriptor.Select.Clone()
	excludeID := sel.ExcludesField(idField)
	if excludeID {
		delete(sel, idField)
	}
	if g.ForeignField != "_id" && sel.Inclusive() && !sel.IncludesPath(g.ForeignField) {
		sel[g.ForeignField] = 1
	}
	if len(sel) == 0 {
		sel = nil
	}

	opts := g.Descriptor.Options
	originalLimit := opts.Limit
	if opts.Limit > 0 {
		opts.Limit *= int64(len(ids))
	}

	return groupQuery{
		filter: filter,
		query:  Query{Select: sel, Options: opts, Populate: g.Descriptor.Populate},
		ids:    len(ids),
		assign: assignOptions{
			sort:          len(opts.Sort) > 0,
			excludeID:     excludeID,
			originalLimit: originalLimit,
			lean:          opts.Lean,
			idField:       idField,
		},
	}, true
}
