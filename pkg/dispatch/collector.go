package dispatch

import (
	"slices"

	"golang.org/x/sync/errgroup"

	"github.com/rhuss/chorus/pkg/api"
)

// Collector is the wait-for-all join over the primary branches of a round.
// Outcome i belongs to participant i regardless of completion order.
type Collector struct {
	g        errgroup.Group
	outcomes []api.BranchOutcome
	done     chan struct{}
}

func newCollector(n int) *Collector {
	return &Collector{
		outcomes: make([]api.BranchOutcome, n),
		done:     make(chan struct{}),
	}
}

// start runs fn for slot i. All start calls happen before seal.
func (c *Collector) start(i int, fn func() api.BranchOutcome) {
	c.g.Go(func() error {
		c.outcomes[i] = fn()
		return nil
	})
}

// seal begins waiting for every started branch. Done closes once they have
// all returned.
func (c *Collector) seal() {
	go func() {
		c.g.Wait()
		close(c.done)
	}()
}

// Done is closed once every branch has settled.
func (c *Collector) Done() <-chan struct{} {
	return c.done
}

// Join blocks until every branch has settled and returns their outcomes in
// participant order. It may be called any number of times and always
// returns the same outcomes.
func (c *Collector) Join() []api.BranchOutcome {
	<-c.done
	return slices.Clone(c.outcomes)
}
