package pool

import (
	"context"
	"time"
)

// Start runs the maintenance loop until ctx is cancelled or the pool is
// closed: periodic recycling of every connection and periodic counter
// sampling. Neither task blocks Get.
func (p *Pool) Start(ctx context.Context) {
	if p.opts.RecycleInterval <= 0 && p.opts.StatsInterval <= 0 {
		return
	}

	var recycleC, statsC <-chan time.Time
	var tickers []*time.Ticker
	if p.opts.RecycleInterval > 0 {
		t := time.NewTicker(p.opts.RecycleInterval)
		tickers = append(tickers, t)
		recycleC = t.C
	}
	if p.opts.StatsInterval > 0 {
		t := time.NewTicker(p.opts.StatsInterval)
		tickers = append(tickers, t)
		statsC = t.C
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer func() {
			for _, t := range tickers {
				t.Stop()
			}
		}()

		for {
			select {
			case <-ctx.Done():
				return
			case <-p.stop:
				return
			case <-recycleC:
				p.RecycleAll()
			case <-statsC:
				p.ReportStats()
			}
		}
	}()
}
