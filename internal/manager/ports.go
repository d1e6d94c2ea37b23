package manager

import (
	"fmt"
	"net"
)

// allocatePort returns the lowest port at or above base, within a window of
// size window, that is in neither used nor reserved. Allocation only consults
// bookkeeping; callers re-check with portFree immediately before spawning
// because another process may have bound the port in the meantime.
func allocatePort(base, window int, used, reserved map[int]bool) (int, error) {
	for p := base; p < base+window; p++ {
		if used[p] || reserved[p] {
			continue
		}
		return p, nil
	}
	return 0, &portExhaustedError{base: base, window: window}
}

// portFree reports whether the port can currently be bound on host.
func portFree(host string, port int) bool {
	ln, err := net.Listen("tcp", net.JoinHostPort(host, fmt.Sprintf("%d", port)))
	if err != nil {
		return false
	}
	ln.Close()
	return true
}

// usedPortsLocked collects ports held by every non-stopped instance.
// Callers must hold m.mu.
func (m *Manager) usedPortsLocked() map[int]bool {
	used := make(map[int]bool, len(m.instances))
	for _, inst := range m.instances {
		if inst.Status != StatusStopped && inst.Port != 0 {
			used[inst.Port] = true
		}
	}
	for p := range m.inflightPorts {
		used[p] = true
	}
	return used
}

// claimPort allocates a port and marks it in flight so concurrent launches
// cannot pick the same one. releasePort must be called once the instance
// either owns the port through the registry or the launch failed.
func (m *Manager) claimPort(requested int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	base := m.cfg.BasePort
	window := m.cfg.PortWindow
	if requested >= base && requested < base+window {
		base = requested
		window = m.cfg.BasePort + m.cfg.PortWindow - requested
	}
	port, err := allocatePort(base, window, m.usedPortsLocked(), m.reserved)
	if err != nil {
		return 0, err
	}
	m.inflightPorts[port] = true
	return port, nil
}

func (m *Manager) releasePort(port int) {
	m.mu.Lock()
	delete(m.inflightPorts, port)
	m.mu.Unlock()
}
