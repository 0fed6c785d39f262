package topology

import (
	"sort"
	"time"
)

// LastVote is the durably persisted record of the most recent term and
// candidate this node voted for (spec §3). VoteStorage is the narrow
// collaborator interface the executor must satisfy: a vote grant is
// acknowledged on the wire only after Persist returns successfully
// (spec §6 "Storage collaborator").
type LastVote struct {
	Term          uint64
	CandidateIndex int
}

// VoteStorage is implemented by the executor's storage collaborator.
type VoteStorage interface {
	Persist(v LastVote) error
}

// Coordinator is the aggregate pure-logic value type wiring Member
// Table (A), Configuration View (B), Role/LeaderMode state machine (C),
// Heartbeat engine (D) and Election/Commit engine (E). It holds no
// locks, performs no I/O and reads no clock (spec §5); the executor
// owns the instance and passes it as a mutable receiver, invoking every
// entry point non-blockingly and in order.
type Coordinator struct {
	opts Options

	config Config
	table  *MemberTable
	sm     *stateMachine

	lastVote LastVote
	hasVoted bool

	lastCommittedOpTime OpTime
	firstOpTimeOfTerm   OpTime
	hasFirstOpTimeOfTerm bool

	electionID      [16]byte
	hasElectionID   bool
	electionOpTime  OpTime
	electionTime    time.Time

	inFlightHeartbeats map[HostPort]bool

	forceSyncSourceIndex int // -1 when unset

	freezeUntil time.Time

	stepDownAttemptInProgress bool

	lastElectionAt time.Time
}

// NewCoordinator constructs an empty Coordinator in Role=follower with
// no installed configuration. Call UpdateConfig before driving it.
func NewCoordinator(opts Options) *Coordinator {
	return &Coordinator{
		opts:                 opts,
		table:                NewMemberTable(),
		sm:                   newStateMachine(),
		inFlightHeartbeats:   make(map[HostPort]bool),
		forceSyncSourceIndex: -1,
	}
}

// Role and LeaderMode expose the current state-machine position.
func (c *Coordinator) Role() Role             { return c.sm.Role() }
func (c *Coordinator) LeaderMode() LeaderMode { return c.sm.LeaderMode() }
func (c *Coordinator) CurrentTerm() uint64    { return c.sm.CurrentTerm() }
func (c *Coordinator) CanAcceptWrites() bool  { return c.sm.CanAcceptWrites() }
func (c *Coordinator) IsSteppingDown() bool   { return c.sm.IsSteppingDown() }
func (c *Coordinator) Config() Config         { return c.config }
func (c *Coordinator) LastCommittedOpTime() OpTime { return c.lastCommittedOpTime }

// Opts returns the tuning knobs this Coordinator was constructed with.
func (c *Coordinator) Opts() Options { return c.opts }

// SelfIndex returns self's index into Config().Members, or -1 if this
// node is not present in the installed configuration.
func (c *Coordinator) SelfIndex() int { return c.table.SelfIndex() }

// LoadLastVote installs a LastVote read from storage at startup (spec §6).
func (c *Coordinator) LoadLastVote(v LastVote) {
	c.lastVote = v
	c.hasVoted = true
}

// UpdateConfig atomically installs newConfig (spec §4.2). It reconciles
// MemberData, resets to follower if selfIndex=-1 or the incoming config
// carries a higher term (which ends any election or stepdown in
// progress), and clears a pinned sync source. In every other case Role
// and LeaderMode are left unchanged, so a candidacy or an attempted
// stepdown carries on across the new config.
func (c *Coordinator) UpdateConfig(newConfig Config, now time.Time) error {
	if err := newConfig.Validate(); err != nil {
		return err
	}
	adoptHigherTerm := newConfig.Term > c.sm.CurrentTerm()
	removed := newConfig.SelfIndex < 0

	c.table.Reconcile(newConfig.Members, newConfig.SelfIndex, now)
	c.config = newConfig

	if removed || adoptHigherTerm {
		if adoptHigherTerm {
			c.sm.bumpTerm(newConfig.Term)
		}
		c.sm.resetToFollower()
	}
	c.stepDownAttemptInProgress = false
	c.forceSyncSourceIndex = -1
	return nil
}

// self is a convenience accessor for this node's MemberData; nil if this
// node is not (yet) in the installed config.
func (c *Coordinator) self() *MemberData { return c.table.Self() }

// votingMajorityUp reports whether self plus the non-stale/non-down
// voting members form a majority of the voting population.
func (c *Coordinator) votingMajorityUp(data []MemberData) bool {
	voters := c.config.VotingMembers()
	if len(voters) == 0 {
		return true
	}
	need := c.config.MajoritySize(false)
	up := 0
	for _, idx := range voters {
		if idx == c.table.SelfIndex() {
			up++
			continue
		}
		if idx < 0 || idx >= len(data) {
			continue
		}
		d := data[idx]
		if d.Health == HealthUp && !d.LastUpdateStale {
			up++
		}
	}
	return up >= need
}

// SetMemberAsDown marks a peer down (spec §4.1). The returned bool
// mirrors the "no longer observe a majority" signal the caller uses to
// decide whether to also check for stepdown.
func (c *Coordinator) SetMemberAsDown(now time.Time, index int) bool {
	return c.table.setMemberAsDown(now, index, c.votingMajorityUp)
}

// CheckMemberTimeouts scans liveness and, if self is primary and the
// heartbeat-observed voting majority is lost, emits ActionStepDownSelf.
func (c *Coordinator) CheckMemberTimeouts(now time.Time) Action {
	return c.table.checkMemberTimeouts(now, c.opts.ElectionTimeout, c.sm.IsPrimary(), c.votingMajorityUp)
}

// AdvanceSelfAppliedOpTime records a new local write, monotonically
// advancing self's applied (and durable) op-time. Called by the
// executor once a write has been appended to this node's own log; the
// majority-commit scan in UpdateLastCommittedOpTime picks it up on the
// next heartbeat round like any other member's progress.
func (c *Coordinator) AdvanceSelfAppliedOpTime(op OpTime) {
	self := c.table.Self()
	if self == nil {
		return
	}
	if self.LastAppliedOpTime.Less(op) {
		self.LastAppliedOpTime = op
	}
	if self.LastDurableOpTime.Less(op) {
		self.LastDurableOpTime = op
	}
}

// SelfAppliedOpTime returns self's last-applied op-time, or the zero
// value if this node is not present in the installed configuration.
func (c *Coordinator) SelfAppliedOpTime() OpTime {
	self := c.table.Self()
	if self == nil {
		return OpTime{}
	}
	return self.LastAppliedOpTime
}

// ResetAllMemberTimeouts clears staleness for every peer but self.
func (c *Coordinator) ResetAllMemberTimeouts(now time.Time) { c.table.resetAllMemberTimeouts(now) }

// ResetMemberTimeouts clears staleness for the given member ids.
func (c *Coordinator) ResetMemberTimeouts(now time.Time, ids []int) {
	c.table.resetMemberTimeouts(now, ids)
}

// GetStalestLiveMember returns the index and LastUpdate of the peer with
// the oldest liveness evidence, for diagnostics.
func (c *Coordinator) GetStalestLiveMember() (int, time.Time) { return c.table.getStalestLiveMember() }

// Blacklist, Unblacklist and ClearBlacklist manage the sync-source
// blacklist (spec §4.1).
func (c *Coordinator) Blacklist(host HostPort, until time.Time) { c.table.blacklistHost(host, until) }
func (c *Coordinator) Unblacklist(host HostPort, now time.Time) { c.table.unblacklistHost(host, now) }
func (c *Coordinator) ClearBlacklist()                          { c.table.clearBlacklist() }

// findPrimaryIndex returns the config index currently believed to be
// primary, based on the member table's reported states, or -1.
// PrimaryIndex returns the index of the member this node currently
// believes is primary, or -1 if none is known.
func (c *Coordinator) PrimaryIndex() int { return c.findPrimaryIndex() }

func (c *Coordinator) findPrimaryIndex() int {
	if c.sm.IsPrimary() {
		return c.table.SelfIndex()
	}
	for i, d := range c.table.All() {
		if d.State == StatePrimary {
			return i
		}
	}
	return -1
}

// electableMembersByOpTime returns voting, data-bearing members at or
// above minOpTime, sorted by descending applied op-time; used by the
// stepdown readiness check in AttemptStepDown.
func (c *Coordinator) electableMembersByOpTime(minOpTime OpTime) []int {
	idxs := c.config.DataBearingVotingMembers()
	out := make([]int, 0, len(idxs))
	for _, i := range idxs {
		d := c.table.At(i)
		if d == nil {
			continue
		}
		if minOpTime.LessEq(d.LastAppliedOpTime) {
			out = append(out, i)
		}
	}
	sort.Slice(out, func(a, b int) bool {
		return c.table.At(out[b]).LastAppliedOpTime.Less(c.table.At(out[a]).LastAppliedOpTime)
	})
	return out
}
