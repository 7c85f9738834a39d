package commands

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/netice/goice/internal/ice"
	"github.com/netice/goice/internal/transport"
)

// gatherSession bundles everything a one-shot harvest produces: the bound
// component, the dispatcher STUN traffic was wired through, the acceptors
// its UDP sockets were adopted into, and per-transport timing/outcome
// statistics. Close tears every bound socket back down once a subcommand
// is done with it.
type gatherSession struct {
	component  *ice.Component
	dispatcher *transport.EventDispatcher
	udpAcc     *transport.Acceptor
	tcpAcc     *transport.Acceptor
	stats      map[transport.Transport]*ice.HarvestStatistics
}

func (g *gatherSession) Close() error {
	return g.component.Close()
}

// transportsFor parses a --transport flag value ("udp", "tcp", "both", or
// "") into the transports to harvest.
func transportsFor(name string) ([]transport.Transport, error) {
	switch name {
	case "udp":
		return []transport.Transport{transport.UDP}, nil
	case "tcp":
		return []transport.Transport{transport.TCP}, nil
	case "both", "":
		return []transport.Transport{transport.UDP, transport.TCP}, nil
	default:
		return nil, fmt.Errorf("unrecognized --transport %q, want udp/tcp/both", name)
	}
}

// runGather harvests a single component (fixed at component ref 1; icectl
// has no full ICE agent control plane of its own, only the gathering and
// transport layers underneath one) across the requested transports. The
// process-wide filter and both acceptor singletons are initialized here if
// they have not been already -- each only takes effect once per process,
// matching their sync.Once-guarded contract, which is fine for icectl
// since it is itself a one-shot process per invocation.
func runGather(ctx context.Context, transports []transport.Transport, logger *slog.Logger) (*gatherSession, error) {
	filterCfg, err := cfg.Filter.ToTransportFilter()
	if err != nil {
		return nil, fmt.Errorf("build filter config: %w", err)
	}
	if err := transport.InitFilters(filterCfg); err != nil {
		return nil, fmt.Errorf("init filters: %w", err)
	}

	dispatcher := transport.NewEventDispatcher(logger)
	acceptorCfg := transport.AcceptorConfig{
		IOThreads:          cfg.IO.Threads,
		StaleSweepInterval: cfg.IO.StaleSweepInterval,
		StaleTimeout:       cfg.IO.StaleTimeout,
		Dispatcher:         dispatcher,
		QueueDepth:         cfg.IO.QueueDepth,
		Logger:             logger,
	}
	udpAcc := transport.InitUDPAcceptor(acceptorCfg)
	tcpAcc := transport.InitTCPAcceptor(acceptorCfg)

	comp := &ice.Component{Ref: 1}
	stats := make(map[transport.Transport]*ice.HarvestStatistics, len(transports))

	for _, tr := range transports {
		st := &ice.HarvestStatistics{}
		stats[tr] = st

		err := ice.Harvest(ctx, comp, ice.HarvestOptions{
			Component:     comp.Ref,
			PreferredPort: cfg.Gather.MinPort,
			MinPort:       cfg.Gather.MinPort,
			MaxPort:       cfg.Gather.MaxPort,
			Transport:     tr,
			BindRetries:   cfg.Gather.BindRetries,
			Dispatcher:    dispatcher,
			QueueDepth:    cfg.IO.QueueDepth,
			Logger:        logger,
		}, st)
		if err != nil {
			logger.Warn("harvest failed for transport",
				slog.String("transport", tr.String()), slog.Any("error", err))
		}
	}

	for _, cand := range comp.Candidates() {
		if cand.Transport == transport.UDP {
			udpAcc.AdoptSocket(ctx, cand.Socket)
		}
	}

	if len(comp.Candidates()) == 0 {
		return nil, fmt.Errorf("%w: no candidates bound on any requested transport", transport.ErrNoBoundCandidate)
	}

	return &gatherSession{
		component:  comp,
		dispatcher: dispatcher,
		udpAcc:     udpAcc,
		tcpAcc:     tcpAcc,
		stats:      stats,
	}, nil
}
