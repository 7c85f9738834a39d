package ice

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"strings"
	"time"

	"github.com/netice/goice/internal/transport"
)

// Component groups the HostCandidates harvested for one ICE component
// (e.g. RTP for component 1, RTCP for component 2).
type Component struct {
	Ref        ComponentRef
	candidates []*HostCandidate
}

// Add appends c to the component's candidate list.
func (comp *Component) Add(c *HostCandidate) {
	comp.candidates = append(comp.candidates, c)
}

// Candidates returns the component's harvested candidates.
func (comp *Component) Candidates() []*HostCandidate {
	return comp.candidates
}

// Close closes every candidate socket owned by the component.
func (comp *Component) Close() error {
	var firstErr error
	for _, c := range comp.candidates {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// HarvestOptions configures one harvest() call.
type HarvestOptions struct {
	Component     ComponentRef
	PreferredPort uint16
	MinPort       uint16
	MaxPort       uint16
	Transport     transport.Transport
	BindRetries   int

	Dispatcher *transport.EventDispatcher
	QueueDepth int
	Stack      transport.StunStack
	SockOpts   transport.SockOpts

	Logger *slog.Logger
}

func (o HarvestOptions) withDefaults() HarvestOptions {
	if o.BindRetries <= 0 {
		o.BindRetries = 10
	}
	if o.QueueDepth <= 0 {
		o.QueueDepth = 256
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Harvest binds sockets across every allowed interface/address within
// [MinPort, MaxPort], retrying bind failures, and adds the resulting
// HostCandidates to comp. It implements spec §4.6 steps 1-7 exactly.
func Harvest(ctx context.Context, comp *Component, opts HarvestOptions, stats *HarvestStatistics) error {
	opts = opts.withDefaults()
	if stats == nil {
		stats = &HarvestStatistics{}
	}
	stats.recordStart(time.Now())

	// Step 1: validate ports.
	if !(1024 <= opts.MinPort && opts.MinPort <= opts.MaxPort && opts.MaxPort <= 65535) {
		err := fmt.Errorf("%w: minPort/maxPort out of range", transport.ErrIllegalArgument)
		stats.recordFinish(time.Now(), err)
		return err
	}
	if !(opts.MinPort <= opts.PreferredPort && opts.PreferredPort <= opts.MaxPort) {
		err := fmt.Errorf("%w: preferredPort outside [minPort,maxPort]", transport.ErrIllegalArgument)
		stats.recordFinish(time.Now(), err)
		return err
	}

	// Step 2: enumerate interfaces, drop loopback/down/not-allowed.
	ifaces, err := net.Interfaces()
	if err != nil {
		wrapped := fmt.Errorf("%w: enumerate interfaces: %w", transport.ErrConfigError, err)
		stats.recordFinish(time.Now(), wrapped)
		return wrapped
	}

	bound := 0
	for _, ifc := range ifaces {
		if ifc.Flags&net.FlagLoopback != 0 {
			continue
		}
		if ifc.Flags&net.FlagUp == 0 {
			continue
		}
		if !transport.IsInterfaceAllowed(ifc.Name) {
			continue
		}

		addrs, err := ifc.Addrs()
		if err != nil {
			opts.Logger.Warn("failed to list interface addresses",
				slog.String("interface", ifc.Name), slog.Any("error", err))
			continue
		}

		virtual := isVirtualInterface(ifc.Name)

		for _, a := range addrs {
			ipAddr, ok := addrToNetip(a)
			if !ok {
				continue
			}

			// Step 3: address-level filtering.
			if !transport.IsAddressAllowed(ipAddr) {
				continue
			}
			if opts.Transport == transport.TCP && ipAddr.Is6() {
				continue
			}

			cand, err := bindCandidate(ctx, comp.Ref, ipAddr, virtual, opts, stats)
			if err != nil {
				opts.Logger.Warn("bind failed for candidate address",
					slog.String("interface", ifc.Name),
					slog.String("address", ipAddr.String()),
					slog.Any("error", err))
				continue
			}

			comp.Add(cand)
			stats.recordCandidate()
			bound++
		}
	}

	if bound == 0 {
		err := fmt.Errorf("%w: no address accepted a bind across all interfaces", transport.ErrNoBoundCandidate)
		stats.recordFinish(time.Now(), err)
		return err
	}

	stats.recordFinish(time.Now(), nil)
	return nil
}

// bindCandidate implements steps 4-6 for a single candidate address: the
// preferred-port-then-wrap retry loop, HostCandidate construction, and
// UDP STUN-stack registration (TCP registration is deferred to accept
// time per spec §4.6 step 6).
func bindCandidate(ctx context.Context, ref ComponentRef, ip netip.Addr, virtual bool, opts HarvestOptions, stats *HarvestStatistics) (*HostCandidate, error) {
	port := opts.PreferredPort
	span := int(opts.MaxPort) - int(opts.MinPort) + 1

	var lastErr error
	for attempt := 0; attempt < opts.BindRetries; attempt++ {
		stats.recordBindAttempt()

		local := transport.NewTransportAddress(netip.AddrPortFrom(ip, port), opts.Transport)

		sock, err := bindSocket(ctx, local, opts)
		if err == nil {
			cand := &HostCandidate{Socket: sock, Component: ref, Transport: opts.Transport, Virtual: virtual}

			if opts.Transport == transport.UDP && opts.Stack != nil {
				sock.AddFilter(func(buf []byte, _ transport.TransportAddress) bool {
					return transport.Classify(buf) != transport.KindTooShort
				})
				local := sock.LocalAddr()
				opts.Dispatcher.AddRequestListenerFor(local, opts.Stack.HandleMessage)
				opts.Dispatcher.AddIndicationListener(local, opts.Stack.HandleMessage)
			}

			return cand, nil
		}

		lastErr = err
		stats.recordBindFailure()

		offset := int(port-opts.MinPort) + 1
		port = opts.MinPort + uint16(offset%span)
	}

	return nil, fmt.Errorf("%w: exhausted %d bind attempts: %w", transport.ErrBindFailed, opts.BindRetries, lastErr)
}

func bindSocket(ctx context.Context, local transport.TransportAddress, opts HarvestOptions) (*transport.SocketWrapper, error) {
	switch opts.Transport {
	case transport.UDP:
		return transport.NewUDPSocketWrapperWithOpts(local, opts.Dispatcher, transport.NewRawMessageQueue(opts.QueueDepth), opts.SockOpts)
	case transport.TCP:
		return transport.ListenTCP(ctx, local, opts.Dispatcher, transport.NewRawMessageQueue(opts.QueueDepth))
	default:
		return nil, fmt.Errorf("%w: unrecognized transport", transport.ErrIllegalArgument)
	}
}

// addrToNetip extracts the IP from a net.Addr returned by
// net.Interface.Addrs, which always yields *net.IPNet values.
func addrToNetip(a net.Addr) (netip.Addr, bool) {
	ipNet, ok := a.(*net.IPNet)
	if !ok {
		return netip.Addr{}, false
	}
	addr, ok := netip.AddrFromSlice(ipNet.IP)
	if !ok {
		return netip.Addr{}, false
	}
	return addr.Unmap(), true
}

// virtualInterfacePrefixes lists the common Linux naming conventions for
// non-physical interfaces. This is a heuristic, not an authoritative
// kernel property: no portable syscall exposes "is this NIC virtual".
var virtualInterfacePrefixes = []string{
	"docker", "veth", "br-", "virbr", "tun", "tap", "wg", "vmnet", "utun",
}

func isVirtualInterface(name string) bool {
	for _, prefix := range virtualInterfacePrefixes {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}
