package topologycons

import (
	"fmt"
	"hash/fnv"
	"net"
	"strconv"
	"time"

	"github.com/replset/topology/pkg/topology"
)

// memberID derives a stable int member ID from an opaque node ID
// string, matching a numeric id verbatim and hashing anything else.
func memberID(id string) int {
	if n, err := strconv.Atoi(id); err == nil {
		return n
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return int(h.Sum32() & 0x7fffffff)
}

// AddVoter implements consensus.Reconfigurer: it installs a new
// configuration with addr added as a voting member, bumping Version.
func (n *Node) AddVoter(id, addr string, timeout time.Duration) error {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("topologycons: invalid address %q: %w", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return fmt.Errorf("topologycons: invalid port in %q: %w", addr, err)
	}
	hp := topology.HostPort{Host: host, Port: port}
	mid := memberID(id)

	cfg := n.coord.Config()
	if _, ok := cfg.FindMemberByHost(hp); ok {
		return nil
	}
	newMembers := append(append([]topology.Member{}, cfg.Members...), topology.Member{
		ID:           mid,
		Host:         hp,
		Priority:     1,
		Votes:        1,
		BuildIndexes: true,
	})
	cfg.Members = newMembers
	cfg.Version++
	return n.coord.UpdateConfig(cfg, time.Now())
}

// RemoveServer implements consensus.Reconfigurer: it installs a new
// configuration with the member identified by id removed.
func (n *Node) RemoveServer(id string, timeout time.Duration) error {
	mid := memberID(id)
	cfg := n.coord.Config()
	idx, ok := cfg.FindMemberByID(mid)
	if !ok {
		return nil
	}
	newMembers := make([]topology.Member, 0, len(cfg.Members)-1)
	newMembers = append(newMembers, cfg.Members[:idx]...)
	newMembers = append(newMembers, cfg.Members[idx+1:]...)
	cfg.Members = newMembers
	cfg.Version++
	if cfg.SelfIndex == idx {
		cfg.SelfIndex = -1
	} else if cfg.SelfIndex > idx {
		cfg.SelfIndex--
	}
	return n.coord.UpdateConfig(cfg, time.Now())
}
