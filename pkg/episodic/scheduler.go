package episodic

import (
	"context"
	"strconv"
	"strings"
	"time"
)

// Run drives the background jobs until the context is cancelled:
// episodization on the configured interval, instancization daily at the
// configured time. Failures are logged and retried on the next tick; an
// overloaded or failing run never queues behind itself.
func (p *Pipeline) Run(ctx context.Context) {
	episodize := time.NewTicker(p.cfg.Interval)
	defer episodize.Stop()

	instancize := time.NewTimer(p.untilInstancize())
	defer instancize.Stop()

	p.logger.Info("episodic pipeline started",
		"interval", p.cfg.Interval, "instancize_at", p.cfg.InstancizeAt)

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("episodic pipeline stopped")
			return
		case <-episodize.C:
			if n, err := p.EpisodizeOnce(ctx); err != nil {
				p.logger.Error("episodization run failed", "episodes", n, "error", err)
			} else if n > 0 {
				p.logger.Info("episodization run complete", "episodes", n)
			}
		case <-instancize.C:
			if n, err := p.InstancizeOnce(ctx); err != nil {
				p.logger.Error("instancization run failed", "instances", n, "error", err)
			} else if n > 0 {
				p.logger.Info("instancization run complete", "instances", n)
			}
			instancize.Reset(p.untilInstancize())
		}
	}
}

// untilInstancize computes the wait until the next daily run.
func (p *Pipeline) untilInstancize() time.Duration {
	hour, minute := parseClock(p.cfg.InstancizeAt)
	now := p.now()
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next.Sub(now)
}

func parseClock(s string) (hour, minute int) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) == 2 {
		hour, _ = strconv.Atoi(parts[0])
		minute, _ = strconv.Atoi(parts[1])
	}
	if hour < 0 || hour > 23 {
		hour = 3
	}
	if minute < 0 || minute > 59 {
		minute = 0
	}
	return hour, minute
}
