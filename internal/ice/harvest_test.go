package ice_test

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"testing"

	"github.com/netice/goice/internal/ice"
	"github.com/netice/goice/internal/transport"
)

// firstHarvestableAddress returns a non-loopback, non-link-local IPv4
// address bound to some up interface on the host, skipping the test if
// none exists (sandboxes vary in what interfaces they expose).
func firstHarvestableAddress(t *testing.T) netip.Addr {
	t.Helper()
	ifaces, err := net.Interfaces()
	if err != nil {
		t.Skipf("net.Interfaces(): %v", err)
	}
	for _, ifc := range ifaces {
		if ifc.Flags&net.FlagLoopback != 0 || ifc.Flags&net.FlagUp == 0 {
			continue
		}
		addrs, err := ifc.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			ipNet, ok := a.(*net.IPNet)
			if !ok {
				continue
			}
			addr, ok := netip.AddrFromSlice(ipNet.IP)
			if !ok {
				continue
			}
			addr = addr.Unmap()
			if !addr.Is4() || addr.IsLoopback() || addr.IsLinkLocalUnicast() {
				continue
			}
			return addr
		}
	}
	t.Skip("no non-loopback IPv4 interface address available to harvest from")
	return netip.Addr{}
}

func resetFilters(t *testing.T) {
	t.Helper()
	transport.ResetFiltersForTest()
	t.Cleanup(transport.ResetFiltersForTest)
}

// -------------------------------------------------------------------------
// Harvest — port validation (spec §4.6 step 1)
// -------------------------------------------------------------------------

func TestHarvest_RejectsOutOfRangePorts(t *testing.T) {
	resetFilters(t)
	if err := transport.InitFilters(transport.FilterConfig{}); err != nil {
		t.Fatalf("InitFilters: %v", err)
	}

	tests := []struct {
		name    string
		min     uint16
		max     uint16
		pref    uint16
	}{
		{"min below 1024", 100, 2000, 1500},
		{"min above max", 5000, 4000, 4500},
		{"preferred outside range", 5000, 6000, 9000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			comp := &ice.Component{Ref: 1}
			stats := &ice.HarvestStatistics{}
			err := ice.Harvest(context.Background(), comp, ice.HarvestOptions{
				MinPort:       tt.min,
				MaxPort:       tt.max,
				PreferredPort: tt.pref,
				Transport:     transport.UDP,
				Dispatcher:    transport.NewEventDispatcher(nil),
			}, stats)
			if err == nil {
				t.Fatalf("Harvest() with %s succeeded, want ErrIllegalArgument", tt.name)
			}
		})
	}
}

// -------------------------------------------------------------------------
// Harvest — scenario S1: harvest a UDP candidate at the preferred port
// -------------------------------------------------------------------------

func TestHarvest_BindsPreferredPortUDP(t *testing.T) {
	resetFilters(t)

	addr := firstHarvestableAddress(t)
	ln, err := net.ListenUDP("udp", &net.UDPAddr{IP: addr.AsSlice(), Port: 0})
	if err != nil {
		t.Skipf("cannot bind a UDP probe socket on %s: %v", addr, err)
	}
	preferred := uint16(ln.LocalAddr().(*net.UDPAddr).Port)
	ln.Close()

	if err := transport.InitFilters(transport.FilterConfig{}); err != nil {
		t.Fatalf("InitFilters: %v", err)
	}

	comp := &ice.Component{Ref: 1}
	stats := &ice.HarvestStatistics{}
	err = ice.Harvest(context.Background(), comp, ice.HarvestOptions{
		MinPort:       max(1024, preferred-20),
		MaxPort:       min(65535, preferred+20),
		PreferredPort: preferred,
		Transport:     transport.UDP,
		Dispatcher:    transport.NewEventDispatcher(nil),
	}, stats)
	if err != nil {
		t.Fatalf("Harvest(): %v", err)
	}
	defer comp.Close()

	if stats.CandidateCount != len(comp.Candidates()) {
		t.Fatalf("stats.CandidateCount = %d, want %d", stats.CandidateCount, len(comp.Candidates()))
	}
	if len(comp.Candidates()) == 0 {
		t.Fatal("Harvest() produced zero candidates")
	}

	found := false
	for _, c := range comp.Candidates() {
		if c.LocalAddr().IP == addr && c.LocalAddr().Port == preferred && c.Transport == transport.UDP {
			found = true
		}
	}
	if !found {
		t.Fatalf("no UDP candidate bound on %s port %d among %v", addr, preferred, comp.Candidates())
	}
}

// -------------------------------------------------------------------------
// Harvest — NO_BOUND_CANDIDATE when every interface is filtered out
// -------------------------------------------------------------------------

func TestHarvest_NoBoundCandidateWhenEverythingFiltered(t *testing.T) {
	resetFilters(t)

	// An address allow-list that matches no real interface address excludes
	// every candidate address without touching the interface-name filter.
	if err := transport.InitFilters(transport.FilterConfig{
		AllowedAddresses: []netip.Addr{netip.MustParseAddr("203.0.113.1")},
	}); err != nil {
		t.Fatalf("InitFilters: %v", err)
	}

	comp := &ice.Component{Ref: 1}
	stats := &ice.HarvestStatistics{}
	err := ice.Harvest(context.Background(), comp, ice.HarvestOptions{
		MinPort:       49152,
		MaxPort:       49200,
		PreferredPort: 49160,
		Transport:     transport.UDP,
		Dispatcher:    transport.NewEventDispatcher(nil),
	}, stats)

	if !errors.Is(err, transport.ErrNoBoundCandidate) {
		t.Fatalf("Harvest() = %v, want ErrNoBoundCandidate", err)
	}
	if stats.CandidateCount != 0 {
		t.Fatalf("stats.CandidateCount = %d, want 0", stats.CandidateCount)
	}
}
