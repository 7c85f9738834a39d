package transport

import (
	"fmt"
	"net"
	"net/netip"
	"sync"
)

// -------------------------------------------------------------------------
// FilterConfig — C1 Address & Interface Filter configuration
// -------------------------------------------------------------------------

// FilterConfig holds the allow/block policy recognized at startup (spec §6
// configuration surface: ALLOWED_INTERFACES, BLOCKED_INTERFACES,
// ALLOWED_ADDRESSES, BLOCKED_ADDRESSES, DISABLE_IPV6,
// DISABLE_LINK_LOCAL_ADDRESSES).
type FilterConfig struct {
	AllowedInterfaces []string
	BlockedInterfaces []string
	AllowedAddresses  []netip.Addr
	BlockedAddresses  []netip.Addr
	DisableIPv6       bool
	DisableLinkLocal  bool
}

// filterState is the process-wide, lazily-initialized singleton backing
// IsInterfaceAllowed/IsAddressAllowed. Modeled on the teacher's "global
// acceptor singletons -> process-wide state" idiom, generalized here to the
// filter layer: initialized once, reset only for tests.
type filterState struct {
	mu       sync.RWMutex
	cfg      FilterConfig
	allowSet map[string]struct{}
	blockSet map[string]struct{}
	initErr  error
	once     sync.Once
}

var globalFilter filterState

// InitFilters performs the once-only validation and initialization of the
// process-wide interface/address filter. Returns ErrConfigError if any
// allow/block-listed interface name does not resolve to a real interface,
// or if every interface on the system is blocked.
func InitFilters(cfg FilterConfig) error {
	var err error
	globalFilter.once.Do(func() {
		err = globalFilter.init(cfg)
	})
	if err != nil {
		return err
	}
	return globalFilter.initErr
}

// ResetFiltersForTest clears the filter singleton so tests can reinitialize
// it with a different configuration. Production code must never call this.
func ResetFiltersForTest() {
	globalFilter = filterState{}
}

func (f *filterState) init(cfg FilterConfig) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.cfg = cfg

	names, err := interfaceNames()
	if err != nil {
		f.initErr = fmt.Errorf("%w: enumerate interfaces: %w", ErrConfigError, err)
		return nil
	}

	if len(cfg.AllowedInterfaces) > 0 {
		f.allowSet = toSet(cfg.AllowedInterfaces)
		for name := range f.allowSet {
			if _, ok := names[name]; !ok {
				f.initErr = fmt.Errorf("%w: %w %q", ErrConfigError, ErrUnknownInterface, name)
				return nil
			}
		}
		for _, name := range cfg.BlockedInterfaces {
			if _, ok := names[name]; !ok {
				f.initErr = fmt.Errorf("%w: %w %q", ErrConfigError, ErrUnknownInterface, name)
				return nil
			}
		}
		return nil
	}

	if len(cfg.BlockedInterfaces) > 0 {
		f.blockSet = toSet(cfg.BlockedInterfaces)
		for name := range f.blockSet {
			if _, ok := names[name]; !ok {
				f.initErr = fmt.Errorf("%w: %w %q", ErrConfigError, ErrUnknownInterface, name)
				return nil
			}
		}

		allBlocked := len(names) > 0
		for name := range names {
			if _, blocked := f.blockSet[name]; !blocked {
				allBlocked = false
				break
			}
		}
		if allBlocked {
			f.initErr = fmt.Errorf("%w: %w", ErrConfigError, ErrAllInterfacesBlocked)
			return nil
		}
	}

	return nil
}

func toSet(names []string) map[string]struct{} {
	s := make(map[string]struct{}, len(names))
	for _, n := range names {
		s[n] = struct{}{}
	}
	return s
}

// interfaceNames returns the kernel-facing names of every interface on the
// host. On non-Windows platforms this is net.Interface.Name, the same
// "kernel name elsewhere" source spec §4.1 calls for.
func interfaceNames() (map[string]struct{}, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}
	out := make(map[string]struct{}, len(ifaces))
	for _, ifc := range ifaces {
		out[ifc.Name] = struct{}{}
	}
	return out, nil
}

// IsInterfaceAllowed reports whether the named interface passes the
// allow/block policy. If ALLOWED_INTERFACES is non-empty, membership
// decides; else if BLOCKED_INTERFACES is non-empty, non-membership
// decides; else allow.
func IsInterfaceAllowed(name string) bool {
	globalFilter.mu.RLock()
	defer globalFilter.mu.RUnlock()

	if globalFilter.allowSet != nil {
		_, ok := globalFilter.allowSet[name]
		return ok
	}
	if globalFilter.blockSet != nil {
		_, blocked := globalFilter.blockSet[name]
		return !blocked
	}
	return true
}

// IsAddressAllowed reports whether addr is allowed: non-loopback AND
// (ALLOWED_ADDRESSES empty OR contains it) AND not in BLOCKED_ADDRESSES.
// IPv6 is suppressed wholesale if DisableIPv6; IPv6 link-local is
// suppressed if DisableLinkLocal.
func IsAddressAllowed(addr netip.Addr) bool {
	if addr.IsLoopback() {
		return false
	}

	globalFilter.mu.RLock()
	defer globalFilter.mu.RUnlock()

	if addr.Is6() && !addr.Is4In6() {
		if globalFilter.cfg.DisableIPv6 {
			return false
		}
		if globalFilter.cfg.DisableLinkLocal && addr.IsLinkLocalUnicast() {
			return false
		}
	}

	if len(globalFilter.cfg.AllowedAddresses) > 0 {
		found := false
		for _, a := range globalFilter.cfg.AllowedAddresses {
			if a == addr {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	for _, a := range globalFilter.cfg.BlockedAddresses {
		if a == addr {
			return false
		}
	}

	return true
}
