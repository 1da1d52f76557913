package selection

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"hompare/internal/models"
)

// Fetcher loads the series for a complete filter set.
type Fetcher interface {
	FetchSeries(ctx context.Context, f Filters) ([]models.SeriesPoint, error)
}

// Controller serializes events for one chart and runs fetches in the background.
type Controller struct {
	mu       sync.Mutex
	state    State
	fetcher  Fetcher
	logger   *logrus.Logger
	onChange func(State)
	wg       sync.WaitGroup
}

func NewController(fetcher Fetcher, logger *logrus.Logger) *Controller {
	if logger == nil {
		logger = logrus.New()
	}
	return &Controller{fetcher: fetcher, logger: logger}
}

// OnChange registers a callback invoked with every new state, outside the lock.
func (c *Controller) OnChange(fn func(State)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onChange = fn
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Dispatch applies ev and returns the resulting state.
func (c *Controller) Dispatch(ev Event) State {
	c.mu.Lock()
	c.state = Reduce(c.state, ev)
	state, notify := c.state, c.onChange
	c.mu.Unlock()

	if notify != nil {
		notify(state)
	}
	return state
}

// Refresh starts a fetch for the current filters when they may be refreshed. It
// reports whether a fetch was started. A newer fetch supersedes older ones.
func (c *Controller) Refresh(ctx context.Context) bool {
	c.mu.Lock()
	before := c.state.InFlight
	c.state = Reduce(c.state, RequestRefresh{})
	started := c.state.InFlight != nil && c.state.InFlight != before
	var snapshot Filters
	if started {
		snapshot = *c.state.InFlight
	}
	state, notify := c.state, c.onChange
	c.mu.Unlock()

	if !started {
		return false
	}
	if notify != nil {
		notify(state)
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		series, err := c.fetcher.FetchSeries(ctx, snapshot)
		if err != nil {
			c.logger.WithError(err).WithField("city", snapshot.City).Warn("Series fetch failed")
			c.Dispatch(FetchFailed{Filters: snapshot, Err: err})
			return
		}
		c.Dispatch(FetchSucceeded{Filters: snapshot, Series: series})
	}()
	return true
}

// Wait blocks until every started fetch has completed.
func (c *Controller) Wait() {
	c.wg.Wait()
}
