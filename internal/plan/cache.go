package plan

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"sync"

	"github.com/rs/zerolog"

	"github.com/mickamy/sfreport/internal/model"
	"github.com/mickamy/sfreport/internal/query"
)

// ExpiredLabel is shown instead of a link when no plan is known for an execution.
const ExpiredLabel = "Execution plan expired"

// PlanSource fetches executions and their operator rows.
type PlanSource interface {
	// Executions returns at most limit executions of paramHash in window, newest first.
	Executions(ctx context.Context, paramHash string, window query.Window, limit int) ([]model.Execution, error)
	// OperatorRecords returns the plan rows of the given executions. Executions
	// whose plan telemetry aged out contribute no rows.
	OperatorRecords(ctx context.Context, queryIDs []string) ([]model.PlanOperatorRecord, error)
}

// Artifact is what a renderer receives for one distinct plan shape.
type Artifact struct {
	Name  string
	Shape model.PlanShape
	// Baseline is the first shape rendered for the same parameterized hash
	// in this run, nil when Shape is that first one.
	Baseline *model.PlanShape
}

// ArtifactRenderer turns a plan shape into an HTML document.
type ArtifactRenderer interface {
	RenderPlan(w io.Writer, artifact Artifact) error
}

// CacheOptions bounds the executions a cache looks at.
type CacheOptions struct {
	Window        query.Window
	RetentionDays int
	MaxExecutions int
}

// Stats counts cache activity over a run.
type Stats struct {
	// Registered executions associated with a plan hash.
	Registered int
	// Rendered artifacts.
	Rendered int
	// Reused shapes that were already rendered earlier in the run.
	Reused int
	// Expired executions that had no plan rows.
	Expired int
}

type entry struct {
	paramHash string
	hash      model.PlanHash
}

type pairKey struct {
	paramHash string
	hash      model.PlanHash
}

// Cache maps executions to rendered plan artifacts for the lifetime of one run.
type Cache struct {
	source   PlanSource
	renderer ArtifactRenderer
	store    ArtifactStore
	opts     CacheOptions
	logger   zerolog.Logger

	// register serializes RegisterAndRender.
	register sync.Mutex

	mu       sync.RWMutex
	byParam  map[string]map[string]model.PlanHash
	byQuery  map[string]entry
	rendered map[pairKey]string
	baseline map[string]*model.PlanShape
	stats    Stats
}

// NewCache builds an empty run-scoped cache.
func NewCache(source PlanSource, renderer ArtifactRenderer, store ArtifactStore, opts CacheOptions, logger zerolog.Logger) *Cache {
	if opts.RetentionDays <= 0 {
		opts.RetentionDays = 13
	}
	if opts.MaxExecutions <= 0 {
		opts.MaxExecutions = 1000
	}
	return &Cache{
		source:   source,
		renderer: renderer,
		store:    store,
		opts:     opts,
		logger:   logger.With().Str("component", "plan_cache").Logger(),
		byParam:  map[string]map[string]model.PlanHash{},
		byQuery:  map[string]entry{},
		rendered: map[pairKey]string{},
		baseline: map[string]*model.PlanShape{},
	}
}

// RegisterAndRender fetches the recent executions of paramHash and their
// plans, renders every plan shape not yet rendered in this run, and replaces
// the association for paramHash. The returned map holds only executions that
// still have plan rows.
func (c *Cache) RegisterAndRender(ctx context.Context, paramHash string) (map[string]model.PlanHash, error) {
	c.register.Lock()
	defer c.register.Unlock()

	window := c.opts.Window.Capped(c.opts.RetentionDays)
	executions, err := c.source.Executions(ctx, paramHash, window, c.opts.MaxExecutions)
	if err != nil {
		return nil, fmt.Errorf("plan cache: executions of %s: %w", paramHash, err)
	}
	if len(executions) == 0 {
		c.replace(paramHash, map[string]model.PlanHash{}, 0)
		return map[string]model.PlanHash{}, nil
	}

	ids := make([]string, 0, len(executions))
	for _, e := range executions {
		ids = append(ids, e.QueryID)
	}
	records, err := c.source.OperatorRecords(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("plan cache: operator stats of %s: %w", paramHash, err)
	}
	shapes, hashes := GroupShapes(paramHash, executions, records)

	rendered, reused := 0, 0
	for _, shape := range shapes {
		key := pairKey{paramHash: paramHash, hash: shape.Hash}
		if c.isRendered(key) {
			reused++
			continue
		}
		name, err := c.render(shape)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.rendered[key] = name
		if c.baseline[paramHash] == nil {
			c.baseline[paramHash] = shape
		}
		c.stats.Rendered++
		c.mu.Unlock()
		rendered++
	}

	expired := len(executions) - len(hashes)
	c.replace(paramHash, hashes, expired)
	c.mu.Lock()
	c.stats.Reused += reused
	c.mu.Unlock()

	c.logger.Debug().
		Str("param_hash", paramHash).
		Int("executions", len(executions)).
		Int("shapes", len(shapes)).
		Int("rendered", rendered).
		Int("expired", expired).
		Msg("plans registered")

	out := make(map[string]model.PlanHash, len(hashes))
	for k, v := range hashes {
		out[k] = v
	}
	return out, nil
}

func (c *Cache) render(shape *model.PlanShape) (string, error) {
	name := ArtifactName(shape.ParameterizedHash, shape.Hash)
	c.mu.RLock()
	baseline := c.baseline[shape.ParameterizedHash]
	c.mu.RUnlock()

	var buf bytes.Buffer
	artifact := Artifact{Name: name, Shape: *shape, Baseline: baseline}
	if err := c.renderer.RenderPlan(&buf, artifact); err != nil {
		return "", fmt.Errorf("plan cache: render %s: %w", name, err)
	}
	if err := c.store.Put(name, buf.Bytes()); err != nil {
		return "", fmt.Errorf("plan cache: store %s: %w", name, err)
	}
	return name, nil
}

func (c *Cache) isRendered(key pairKey) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.rendered[key]
	return ok
}

func (c *Cache) replace(paramHash string, hashes map[string]model.PlanHash, expired int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id := range c.byParam[paramHash] {
		delete(c.byQuery, id)
	}
	c.byParam[paramHash] = hashes
	for id, h := range hashes {
		c.byQuery[id] = entry{paramHash: paramHash, hash: h}
	}
	c.stats.Registered += len(hashes)
	c.stats.Expired += expired
}

// Lookup returns the plan hash of an execution registered by the most recent
// RegisterAndRender of its parameterized hash.
func (c *Cache) Lookup(queryID string) (model.PlanHash, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.byQuery[queryID]
	return e.hash, ok
}

// ArtifactName returns the artifact file name of an execution's plan.
func (c *Cache) ArtifactName(queryID string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.byQuery[queryID]
	if !ok {
		return "", false
	}
	name, ok := c.rendered[pairKey(e)]
	return name, ok
}

// Link returns the artifact path relative to the report root, or ExpiredLabel.
func (c *Cache) Link(queryID string) string {
	name, ok := c.ArtifactName(queryID)
	if !ok {
		return ExpiredLabel
	}
	return path.Join(PlansDir, name)
}

// Stats returns a snapshot of the counters.
func (c *Cache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stats
}
