package topology

import "fmt"

// ProtocolVersion distinguishes the legacy fresh/elect handshake (PV0)
// from the term-based, vote-persisting protocol (PV1).
type ProtocolVersion int

const (
	ProtocolVersion0 ProtocolVersion = 0
	ProtocolVersion1 ProtocolVersion = 1
)

// Settings holds the tunables carried on the wire as part of a config
// (distinct from the process-local Options, which are never part of the
// installed configuration).
type Settings struct {
	ChainingAllowed bool
}

// Config is the installed cluster configuration (spec §3 "Config view").
type Config struct {
	Version                          int64
	Term                             uint64
	ProtocolVersion                  ProtocolVersion
	Members                          []Member
	SelfIndex                        int // -1 if this node was removed
	WriteConcernMajorityShouldJournal bool
	Settings                         Settings
	SetName                          string
}

// FindMemberByHost returns the config index of the member at host, if any.
func (c *Config) FindMemberByHost(host HostPort) (int, bool) {
	for i, m := range c.Members {
		if m.Host == host {
			return i, true
		}
	}
	return -1, false
}

// FindMemberByID returns the config index of the member with id, if any.
func (c *Config) FindMemberByID(id int) (int, bool) {
	for i, m := range c.Members {
		if m.ID == id {
			return i, true
		}
	}
	return -1, false
}

// VotingMembers returns the indices of members with Votes >= 1.
func (c *Config) VotingMembers() []int {
	out := make([]int, 0, len(c.Members))
	for i, m := range c.Members {
		if m.IsVoter() {
			out = append(out, i)
		}
	}
	return out
}

// DataBearingVotingMembers returns voting members that are not
// arbiter-only (used for commit/majority arithmetic over op-times).
func (c *Config) DataBearingVotingMembers() []int {
	out := make([]int, 0, len(c.Members))
	for i, m := range c.Members {
		if m.IsVoter() && !m.ArbiterOnly {
			out = append(out, i)
		}
	}
	return out
}

// MajoritySize returns floor(votingMembers/2)+1 (spec §4.2). When dataOnly
// is true, arbiters are excluded from the voting population first, per
// "excluding arbiters where the operation concerns data".
func (c *Config) MajoritySize(dataOnly bool) int {
	n := 0
	for _, m := range c.Members {
		if !m.IsVoter() {
			continue
		}
		if dataOnly && m.ArbiterOnly {
			continue
		}
		n++
	}
	if n == 0 {
		return 1
	}
	return n/2 + 1
}

// Self returns the Member entry for SelfIndex, or nil if this node was
// removed from the configuration.
func (c *Config) Self() *Member {
	if c.SelfIndex < 0 || c.SelfIndex >= len(c.Members) {
		return nil
	}
	return &c.Members[c.SelfIndex]
}

// Validate performs the structural checks installation requires: a valid
// self index (or -1), no duplicate ids/hosts, and a non-negative version.
func (c *Config) Validate() error {
	if c.Version < 0 {
		return newStatus(CodeInvalidReplicaSetConfig, "negative version %d", c.Version)
	}
	if c.SelfIndex < -1 || c.SelfIndex >= len(c.Members) {
		return newStatus(CodeInvalidReplicaSetConfig, "selfIndex %d out of range", c.SelfIndex)
	}
	seenID := make(map[int]bool, len(c.Members))
	seenHost := make(map[HostPort]bool, len(c.Members))
	for _, m := range c.Members {
		if seenID[m.ID] {
			return newStatus(CodeInvalidReplicaSetConfig, "duplicate member id %d", m.ID)
		}
		seenID[m.ID] = true
		if seenHost[m.Host] {
			return newStatus(CodeInvalidReplicaSetConfig, "duplicate member host %v", m.Host)
		}
		seenHost[m.Host] = true
	}
	return nil
}

// opTimeGetter selects either the applied or durable op-time, per the
// durablyWritten flag used by haveTaggedNodesReachedOpTime.
func opTimeGetter(durablyWritten bool) func(MemberData) OpTime {
	if durablyWritten {
		return func(d MemberData) OpTime { return d.LastDurableOpTime }
	}
	return func(d MemberData) OpTime { return d.LastAppliedOpTime }
}

// HaveTaggedNodesReachedOpTime evaluates a tag write-concern pattern over
// the member table: every constraint must be satisfied by at least
// MinCount members carrying that tag key whose reported op-time is at
// or past target (spec §4.2).
func (c *Config) HaveTaggedNodesReachedOpTime(table *MemberTable, pattern TagPattern, target OpTime, durablyWritten bool) bool {
	get := opTimeGetter(durablyWritten)
	for _, constraint := range pattern {
		count := 0
		for i, m := range c.Members {
			if _, ok := m.TagValue(constraint.Key); !ok {
				continue
			}
			d := table.At(i)
			if d == nil {
				continue
			}
			if target.LessEq(get(*d)) {
				count++
			}
		}
		if count < constraint.MinCount {
			return false
		}
	}
	return true
}

func (c *Config) String() string {
	return fmt.Sprintf("Config{set=%s version=%d term=%d pv=%d members=%d self=%d}",
		c.SetName, c.Version, c.Term, c.ProtocolVersion, len(c.Members), c.SelfIndex)
}
