package topology

import "time"

// IsMasterResult is the reply to the isMaster/hello command (spec §6):
// a point-in-time summary of this node's role and config a driver uses
// to route reads and writes.
type IsMasterResult struct {
	IsMaster    bool
	Secondary   bool
	SetName     string
	SetVersion  int64
	Primary     HostPort
	Me          HostPort
	Hosts       []HostPort
	Arbiters    []HostPort
	ElectionID  [16]byte
	HasElection bool
}

// IsMaster implements the isMaster command: a read-only snapshot, safe
// to call at any point in the coordinator's lifecycle.
func (c *Coordinator) IsMaster() IsMasterResult {
	self := c.config.Self()
	result := IsMasterResult{
		IsMaster:  c.sm.CanAcceptWrites(),
		Secondary: c.sm.Role() == RoleFollower,
		SetName:   c.config.SetName,
		SetVersion: c.config.Version,
	}
	if self != nil {
		result.Me = self.Host
	}
	if idx := c.findPrimaryIndex(); idx >= 0 {
		result.Primary = c.config.Members[idx].Host
	}
	for _, m := range c.config.Members {
		if m.ArbiterOnly {
			result.Arbiters = append(result.Arbiters, m.Host)
		} else {
			result.Hosts = append(result.Hosts, m.Host)
		}
	}
	if c.hasElectionID {
		result.ElectionID = c.electionID
		result.HasElection = true
	}
	return result
}

// MemberStatus is one row of a replSetGetStatus reply.
type MemberStatus struct {
	ID                int
	Host              HostPort
	State             MemberState
	Health            MemberHealth
	LastHeartbeat     time.Time
	LastAppliedOpTime OpTime
	LastDurableOpTime OpTime
	SyncSource        HostPort
}

// ReplSetStatusResult is the reply to replSetGetStatus (spec §6).
type ReplSetStatusResult struct {
	SetName             string
	Term                uint64
	MyState             MemberState
	LastCommittedOpTime OpTime
	Members             []MemberStatus
}

// ReplSetGetStatus implements replSetGetStatus: a read-only snapshot of
// the member table, state machine, and commit point.
func (c *Coordinator) ReplSetGetStatus() ReplSetStatusResult {
	result := ReplSetStatusResult{
		SetName:             c.config.SetName,
		Term:                c.sm.CurrentTerm(),
		LastCommittedOpTime: c.lastCommittedOpTime,
	}
	if self := c.self(); self != nil {
		result.MyState = self.State
	}
	for i, m := range c.config.Members {
		d := c.table.At(i)
		if d == nil {
			continue
		}
		result.Members = append(result.Members, MemberStatus{
			ID:                m.ID,
			Host:              m.Host,
			State:             d.State,
			Health:            d.Health,
			LastHeartbeat:     d.LastHeartbeat,
			LastAppliedOpTime: d.LastAppliedOpTime,
			LastDurableOpTime: d.LastDurableOpTime,
			SyncSource:        d.SyncSource,
		})
	}
	return result
}

// ReplSetStepDownArgs is the replSetStepDown command request (spec §6).
type ReplSetStepDownArgs struct {
	StepDownSecs       time.Duration
	SecondaryCatchUpPeriodSecs time.Duration
	Force              bool
}

// ReplSetStepDown implements the conditional-stepdown command entry
// point: it begins the attempt and returns the deadlines the executor
// must drive AttemptStepDown against on each subsequent heartbeat tick
// until it returns true or an error; AttemptStepDown fails once
// stepDownUntil has passed, and waitUntil only gates a forced stepdown.
func (c *Coordinator) ReplSetStepDown(now time.Time, args ReplSetStepDownArgs) (waitUntil, stepDownUntil time.Time, err error) {
	if err := c.PrepareForStepDownAttempt(); err != nil {
		return time.Time{}, time.Time{}, err
	}
	waitUntil = now.Add(args.SecondaryCatchUpPeriodSecs)
	stepDownUntil = now.Add(args.StepDownSecs)
	return waitUntil, stepDownUntil, nil
}

// ReplSetFreeze implements replSetFreeze(secs): secs<=0 clears any
// existing freeze, otherwise candidacy is disabled for that long.
func (c *Coordinator) ReplSetFreeze(now time.Time, secs time.Duration) {
	c.Freeze(now, secs)
}

// ReplSetSyncFrom implements replSetSyncFrom(host): pins the next
// ChooseNewSyncSource call to host, failing if host is not a live,
// non-hidden, data-bearing member of the current config.
func (c *Coordinator) ReplSetSyncFrom(host HostPort) error {
	idx, ok := c.config.FindMemberByHost(host)
	if !ok {
		return newStatus(CodeNodeNotFound, "%v is not a member of the current configuration", host)
	}
	m := c.config.Members[idx]
	if m.Hidden || !m.BuildIndexes {
		return newStatus(CodeInvalidReplicaSetConfig, "%v is hidden or does not build indexes, cannot be a sync source", host)
	}
	d := c.table.At(idx)
	if d == nil || d.Health != HealthUp {
		return newStatus(CodeNodeNotFound, "%v is not currently reachable", host)
	}
	c.SetForceSyncSource(idx)
	return nil
}
