package topology

import "time"

// MemberData is the mutable per-peer liveness record described in spec
// §3. One entry exists per configured member, indexed in parallel with
// Config.Members (spec §9 "MemberData indexing").
type MemberData struct {
	MemberID int
	Host     HostPort

	LastHeartbeat     time.Time // zero if never received
	HasLastHeartbeat  bool
	LastHeartbeatRecv time.Time
	HasHeartbeatRecv  bool

	LastUpdate      time.Time
	LastUpdateStale bool

	LastAppliedOpTime OpTime
	LastDurableOpTime OpTime

	Health     MemberHealth
	AuthIssue  bool
	State      MemberState
	ConfigVersion int64
	ConfigTerm    uint64
	SetName       string
	SyncSource    HostPort
}

// markUpdated records fresh liveness evidence at now.
func (d *MemberData) markUpdated(now time.Time) {
	d.LastUpdate = now
	d.LastUpdateStale = false
	if d.Health != HealthUp {
		d.Health = HealthUp
	}
}

// MemberTable is component A: per-peer bookkeeping indexed by config
// index (primary), memberId and legacy replication-id.
type MemberTable struct {
	selfIndex int
	data      []MemberData // parallel to config.Members
	byID      map[int]int  // memberId -> index
	byRid     map[string]int

	blacklist map[HostPort]time.Time
}

// NewMemberTable builds an empty table; Reconcile populates it from a
// config.
func NewMemberTable() *MemberTable {
	return &MemberTable{
		selfIndex: -1,
		byID:      make(map[int]int),
		byRid:     make(map[string]int),
		blacklist: make(map[HostPort]time.Time),
	}
}

// Reconcile installs MemberData for newMembers, keeping data for members
// that persist across the reconfiguration (matched by memberId), creating
// fresh entries for new members, and dropping entries for removed ones.
// Self's MemberData (matched by selfIndex in the old table via memberId,
// when known) persists across config changes, per spec §3 "Lifecycle".
func (t *MemberTable) Reconcile(newMembers []Member, selfIndex int, now time.Time) {
	oldByID := make(map[int]MemberData, len(t.data))
	for _, d := range t.data {
		oldByID[d.MemberID] = d
	}

	next := make([]MemberData, len(newMembers))
	byID := make(map[int]int, len(newMembers))
	for i, m := range newMembers {
		if prev, ok := oldByID[m.ID]; ok {
			next[i] = prev
			next[i].Host = m.Host
		} else {
			next[i] = MemberData{
				MemberID: m.ID,
				Host:     m.Host,
				Health:   HealthUnknown,
				State:    StateUnknown,
				LastUpdate: now,
			}
		}
		byID[m.ID] = i
	}
	t.data = next
	t.byID = byID
	t.selfIndex = selfIndex
}

// SelfIndex returns the configured index of this node, or -1.
func (t *MemberTable) SelfIndex() int { return t.selfIndex }

// Self returns this node's MemberData, if any.
func (t *MemberTable) Self() *MemberData {
	if t.selfIndex < 0 || t.selfIndex >= len(t.data) {
		return nil
	}
	return &t.data[t.selfIndex]
}

// At returns the MemberData for config index i.
func (t *MemberTable) At(i int) *MemberData {
	if i < 0 || i >= len(t.data) {
		return nil
	}
	return &t.data[i]
}

// ByID returns the MemberData for a configured member id.
func (t *MemberTable) ByID(id int) (*MemberData, bool) {
	i, ok := t.byID[id]
	if !ok {
		return nil, false
	}
	return &t.data[i], true
}

// IndexByID returns the config index for a configured member id.
func (t *MemberTable) IndexByID(id int) (int, bool) {
	i, ok := t.byID[id]
	return i, ok
}

// Len returns the number of tracked members, including self.
func (t *MemberTable) Len() int { return len(t.data) }

// All returns the underlying slice; callers must not retain mutable
// references across a Reconcile.
func (t *MemberTable) All() []MemberData { return t.data }

// setMemberAsDown marks index i down at now. Returns true iff self plus
// the remaining non-down voting members no longer form a majority
// (spec §4.1).
func (t *MemberTable) setMemberAsDown(now time.Time, i int, votingMajority func([]MemberData) bool) bool {
	d := t.At(i)
	if d == nil {
		return false
	}
	d.Health = HealthDown
	d.LastUpdate = now
	d.LastUpdateStale = true
	return !votingMajority(t.data)
}

// checkMemberTimeouts scans every peer for staleness and, when self is
// primary and the surviving voting majority is lost, emits
// ActionStepDownSelf (spec §4.1).
func (t *MemberTable) checkMemberTimeouts(now time.Time, electionTimeout time.Duration, isPrimary bool, votingMajority func([]MemberData) bool) Action {
	for i := range t.data {
		if i == t.selfIndex {
			continue
		}
		d := &t.data[i]
		if d.LastUpdate.IsZero() {
			continue
		}
		if now.Sub(d.LastUpdate) > electionTimeout {
			d.LastUpdateStale = true
			d.Health = HealthDown
		}
	}
	if isPrimary && !votingMajority(t.data) {
		return Action{Kind: ActionStepDownSelf, Reason: "lost heartbeat majority"}
	}
	return noAction
}

// resetAllMemberTimeouts clears staleness for every peer except self.
func (t *MemberTable) resetAllMemberTimeouts(now time.Time) {
	for i := range t.data {
		if i == t.selfIndex {
			continue
		}
		t.data[i].LastUpdate = now
		t.data[i].LastUpdateStale = false
	}
}

// resetMemberTimeouts clears staleness for the given member ids only.
func (t *MemberTable) resetMemberTimeouts(now time.Time, ids []int) {
	for _, id := range ids {
		if i, ok := t.byID[id]; ok && i != t.selfIndex {
			t.data[i].LastUpdate = now
			t.data[i].LastUpdateStale = false
		}
	}
}

// getStalestLiveMember returns the index and LastUpdate of the peer with
// the oldest liveness evidence among members currently marked Up.
func (t *MemberTable) getStalestLiveMember() (int, time.Time) {
	stalestIdx := -1
	var stalestAt time.Time
	for i := range t.data {
		if i == t.selfIndex || t.data[i].Health != HealthUp {
			continue
		}
		if stalestIdx == -1 || t.data[i].LastUpdate.Before(stalestAt) {
			stalestIdx = i
			stalestAt = t.data[i].LastUpdate
		}
	}
	return stalestIdx, stalestAt
}

// blacklistHost marks host unusable as a sync source until the given time.
func (t *MemberTable) blacklistHost(host HostPort, until time.Time) {
	t.blacklist[host] = until
}

// unblacklistHost lazily prunes and clears a single host's blacklist entry.
func (t *MemberTable) unblacklistHost(host HostPort, now time.Time) {
	delete(t.blacklist, host)
}

// clearBlacklist drops every blacklist entry.
func (t *MemberTable) clearBlacklist() {
	t.blacklist = make(map[HostPort]time.Time)
}

// isBlacklisted reports whether host is currently excluded from
// sync-source selection, lazily pruning the entry if it has expired.
func (t *MemberTable) isBlacklisted(host HostPort, now time.Time) bool {
	until, ok := t.blacklist[host]
	if !ok {
		return false
	}
	if !until.After(now) {
		delete(t.blacklist, host)
		return false
	}
	return true
}
