package transport_test

import (
	"net"
	"net/netip"
	"testing"

	"github.com/netice/goice/internal/transport"
)

// firstInterfaceName returns the name of some interface on the host, for
// tests that need a name known to resolve.
func firstInterfaceName(t *testing.T) string {
	t.Helper()
	ifaces, err := net.Interfaces()
	if err != nil || len(ifaces) == 0 {
		t.Skipf("no interfaces available to test against: %v", err)
	}
	return ifaces[0].Name
}

// -------------------------------------------------------------------------
// Interface filter — allow/block precedence (testable property 4)
// -------------------------------------------------------------------------

func TestIsInterfaceAllowed_AllowListWinsOverBlockList(t *testing.T) {
	transport.ResetFiltersForTest()
	t.Cleanup(transport.ResetFiltersForTest)

	name := firstInterfaceName(t)

	err := transport.InitFilters(transport.FilterConfig{
		AllowedInterfaces: []string{name},
		BlockedInterfaces: []string{name},
	})
	if err != nil {
		t.Fatalf("InitFilters() unexpected error: %v", err)
	}

	if !transport.IsInterfaceAllowed(name) {
		t.Fatalf("IsInterfaceAllowed(%q) = false, want true (allow-list membership decides regardless of block-list)", name)
	}
}

func TestIsInterfaceAllowed_NoListsAllowsEverything(t *testing.T) {
	transport.ResetFiltersForTest()
	t.Cleanup(transport.ResetFiltersForTest)

	if err := transport.InitFilters(transport.FilterConfig{}); err != nil {
		t.Fatalf("InitFilters() unexpected error: %v", err)
	}

	if !transport.IsInterfaceAllowed("anything-not-blocked") {
		t.Fatalf("IsInterfaceAllowed() = false with no configured lists, want true")
	}
}

func TestInitFilters_UnknownAllowedInterfaceFails(t *testing.T) {
	transport.ResetFiltersForTest()
	t.Cleanup(transport.ResetFiltersForTest)

	err := transport.InitFilters(transport.FilterConfig{
		AllowedInterfaces: []string{"definitely-not-a-real-interface-xyz"},
	})
	if err == nil {
		t.Fatalf("InitFilters() with unknown interface name should fail")
	}
}

// TestInitFilters_AllInterfacesBlocked covers scenario S6: blocking every
// interface on the host must fail initialization with
// ErrAllInterfacesBlocked (testable property 6 adjacent / spec §4.1).
func TestInitFilters_AllInterfacesBlocked(t *testing.T) {
	transport.ResetFiltersForTest()
	t.Cleanup(transport.ResetFiltersForTest)

	ifaces, err := net.Interfaces()
	if err != nil || len(ifaces) == 0 {
		t.Skipf("no interfaces available: %v", err)
	}
	names := make([]string, 0, len(ifaces))
	for _, ifc := range ifaces {
		names = append(names, ifc.Name)
	}

	err = transport.InitFilters(transport.FilterConfig{BlockedInterfaces: names})
	if err == nil {
		t.Fatalf("InitFilters() blocking every interface should fail")
	}
}

// -------------------------------------------------------------------------
// Address filter — loopback exclusion (testable property 5) and
// IPv6/link-local gating
// -------------------------------------------------------------------------

func TestIsAddressAllowed_LoopbackAlwaysExcluded(t *testing.T) {
	transport.ResetFiltersForTest()
	t.Cleanup(transport.ResetFiltersForTest)

	if err := transport.InitFilters(transport.FilterConfig{
		AllowedAddresses: []netip.Addr{netip.MustParseAddr("127.0.0.1")},
	}); err != nil {
		t.Fatalf("InitFilters() unexpected error: %v", err)
	}

	if transport.IsAddressAllowed(netip.MustParseAddr("127.0.0.1")) {
		t.Fatalf("IsAddressAllowed(loopback) = true, want false unconditionally")
	}
	if transport.IsAddressAllowed(netip.MustParseAddr("::1")) {
		t.Fatalf("IsAddressAllowed(::1) = true, want false unconditionally")
	}
}

func TestIsAddressAllowed_BlockListExcludes(t *testing.T) {
	transport.ResetFiltersForTest()
	t.Cleanup(transport.ResetFiltersForTest)

	blocked := netip.MustParseAddr("192.0.2.1")
	if err := transport.InitFilters(transport.FilterConfig{
		BlockedAddresses: []netip.Addr{blocked},
	}); err != nil {
		t.Fatalf("InitFilters() unexpected error: %v", err)
	}

	if transport.IsAddressAllowed(blocked) {
		t.Fatalf("IsAddressAllowed(blocked address) = true, want false")
	}
	if !transport.IsAddressAllowed(netip.MustParseAddr("192.0.2.2")) {
		t.Fatalf("IsAddressAllowed(unrelated address) = false, want true")
	}
}

func TestIsAddressAllowed_AllowListRestricts(t *testing.T) {
	transport.ResetFiltersForTest()
	t.Cleanup(transport.ResetFiltersForTest)

	allowed := netip.MustParseAddr("192.0.2.10")
	if err := transport.InitFilters(transport.FilterConfig{
		AllowedAddresses: []netip.Addr{allowed},
	}); err != nil {
		t.Fatalf("InitFilters() unexpected error: %v", err)
	}

	if !transport.IsAddressAllowed(allowed) {
		t.Fatalf("IsAddressAllowed(allow-listed address) = false, want true")
	}
	if transport.IsAddressAllowed(netip.MustParseAddr("192.0.2.11")) {
		t.Fatalf("IsAddressAllowed(not allow-listed address) = true, want false")
	}
}

func TestIsAddressAllowed_DisableIPv6(t *testing.T) {
	transport.ResetFiltersForTest()
	t.Cleanup(transport.ResetFiltersForTest)

	if err := transport.InitFilters(transport.FilterConfig{DisableIPv6: true}); err != nil {
		t.Fatalf("InitFilters() unexpected error: %v", err)
	}

	if transport.IsAddressAllowed(netip.MustParseAddr("2001:db8::1")) {
		t.Fatalf("IsAddressAllowed(ipv6) = true with DisableIPv6, want false")
	}
	if !transport.IsAddressAllowed(netip.MustParseAddr("192.0.2.1")) {
		t.Fatalf("IsAddressAllowed(ipv4) = false with DisableIPv6, want true")
	}
}

func TestIsAddressAllowed_DisableLinkLocal(t *testing.T) {
	transport.ResetFiltersForTest()
	t.Cleanup(transport.ResetFiltersForTest)

	if err := transport.InitFilters(transport.FilterConfig{DisableLinkLocal: true}); err != nil {
		t.Fatalf("InitFilters() unexpected error: %v", err)
	}

	if transport.IsAddressAllowed(netip.MustParseAddr("fe80::1")) {
		t.Fatalf("IsAddressAllowed(link-local ipv6) = true with DisableLinkLocal, want false")
	}
	if !transport.IsAddressAllowed(netip.MustParseAddr("2001:db8::1")) {
		t.Fatalf("IsAddressAllowed(global ipv6) = false with DisableLinkLocal, want true")
	}
}
