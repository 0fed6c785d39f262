package topology

import "time"

// HeartbeatArgs is the outgoing heartbeat request (spec §6, bit-exact
// wire shape): "{ term, configVersion, setName, from, lastAppliedOpTime }".
// Term is only meaningful under PV1; PV0 senders leave it zero.
type HeartbeatArgs struct {
	ProtocolVersion   ProtocolVersion
	Term              uint64
	ConfigVersion     int64
	SetName           string
	From              HostPort
	LastAppliedOpTime OpTime
}

// HeartbeatResult is the incoming heartbeat response (spec §6):
// "{ ok, term, state, setName, configVersion, durableOpTime,
// appliedOpTime, primaryIndex, electionTime, syncSourceIndex }".
type HeartbeatResult struct {
	OK              bool
	Term            uint64
	State           MemberState
	SetName         string
	ConfigVersion   int64
	DurableOpTime   OpTime
	AppliedOpTime   OpTime
	PrimaryIndex    int // -1 if unknown
	ElectionTime    time.Time
	SyncSourceIndex int // -1 if none
	ErrorMessage    string
}

// PrepareHeartbeatRequest builds the outgoing request for target and the
// per-heartbeat deadline (spec §4.4). It marks the target as having an
// in-flight heartbeat to avoid duplicate concurrent sends.
func (c *Coordinator) PrepareHeartbeatRequest(now time.Time, target HostPort) (HeartbeatArgs, time.Duration, error) {
	if c.inFlightHeartbeats[target] {
		return HeartbeatArgs{}, 0, newStatus(CodeConflictingOperationInProgress, "heartbeat already in flight to %v", target)
	}
	c.inFlightHeartbeats[target] = true

	self := c.self()
	args := HeartbeatArgs{
		ProtocolVersion: c.config.ProtocolVersion,
		ConfigVersion:   c.config.Version,
		SetName:         c.config.SetName,
	}
	if m := c.config.Self(); m != nil {
		args.From = m.Host
	}
	if self != nil {
		args.LastAppliedOpTime = self.LastAppliedOpTime
	}
	if c.config.ProtocolVersion == ProtocolVersion1 {
		args.Term = c.sm.CurrentTerm()
	}
	return args, c.opts.HeartbeatTimeout(), nil
}

// clearInFlight releases the in-flight marker for target; called once a
// response (or a timeout) has been reconciled.
func (c *Coordinator) clearInFlight(target HostPort) { delete(c.inFlightHeartbeats, target) }

// ProcessHeartbeatResponse ingests a heartbeat reply, updates the
// target's MemberData and computes exactly one Action per spec §4.4's
// decision table.
func (c *Coordinator) ProcessHeartbeatResponse(now time.Time, rtt time.Duration, target HostPort, result HeartbeatResult) Action {
	c.clearInFlight(target)

	idx, ok := c.config.FindMemberByHost(target)
	if !ok {
		return noAction
	}
	d := c.table.At(idx)
	if d == nil {
		return noAction
	}

	if !result.OK {
		d.Health = HealthUnknown
		return noAction
	}

	d.markUpdated(now)
	d.LastHeartbeat = now
	d.HasLastHeartbeat = true
	d.State = result.State
	d.ConfigTerm = result.Term
	d.SetName = result.SetName
	d.ConfigVersion = result.ConfigVersion
	d.LastDurableOpTime = result.DurableOpTime
	d.LastAppliedOpTime = result.AppliedOpTime
	if result.SyncSourceIndex >= 0 {
		if sd := c.table.At(result.SyncSourceIndex); sd != nil {
			d.SyncSource = sd.Host
		}
	} else {
		d.SyncSource = HostPort{}
	}

	// Reply carries a higher term: adopt it (spec §4.4 row 1). A primary
	// must step down; a follower or candidate just advances its term and
	// keeps evaluating the rest of this table, rather than campaigning
	// off the mere observation of a newer term.
	if result.Term > c.sm.CurrentTerm() {
		upd := c.UpdateTerm(result.Term, now)
		if upd.TriggerStepDown {
			return Action{Kind: ActionStepDownSelf, Target: target, Reason: "higher term observed in heartbeat"}
		}
	}

	// Reply claims primary with a newer config than ours: ask executor to
	// reconfigure (spec §4.4 row 2).
	if result.State == StatePrimary && result.ConfigVersion > c.config.Version {
		return Action{Kind: ActionReconfig, Target: target}
	}

	if result.State == StatePrimary {
		if result.Term >= c.sm.CurrentTerm() && c.sm.IsPrimary() {
			// Reply's sender is primary in a term >= ours and we are
			// primary too: exactly one of us must step down (row 3).
			c.sm.beginUnconditionalStepDown()
			return Action{Kind: ActionStepDownSelf, Target: target, Reason: "another primary observed at term >= ours"}
		}
		if result.Term < c.sm.CurrentTerm() && c.sm.IsPrimary() {
			// Remote claims primary at a stale term while we are primary
			// at a newer term: tell it to step down (row 4).
			return Action{Kind: ActionStepDownRemotePrimary, Target: target, Reason: "remote primary at stale term"}
		}
	}

	if c.sm.Role() == RoleFollower && c.findPrimaryIndex() < 0 {
		if now.Sub(d.LastUpdate) <= c.opts.ElectionTimeout && c.electionTimeoutElapsedSince(now) {
			if self := c.self(); self != nil {
				m := c.config.Members[c.table.SelfIndex()]
				if m.IsElectable() && !c.isFrozen(now) {
					return Action{Kind: ActionStartElection, Reason: "no primary observed, election timeout elapsed"}
				}
			}
		}
	}

	next := now.Add(c.opts.HeartbeatInterval - rtt)
	if next.Before(now) {
		next = now
	}
	return Action{Kind: ActionNoAction, Target: target, NextHeartbeatTime: next}
}

// electionTimeoutElapsedSince reports whether at least ElectionTimeout
// has passed since the LastUpdate of the stalest live peer (true when no
// peer is marked up). Only ProcessHeartbeatResponse uses it;
// BecomeCandidateIfElectable does not check this threshold.
func (c *Coordinator) electionTimeoutElapsedSince(now time.Time) bool {
	_, stalestAt := c.table.getStalestLiveMember()
	if stalestAt.IsZero() {
		return true
	}
	return now.Sub(stalestAt) >= c.opts.ElectionTimeout
}

// PrepareHeartbeatResponseV1 builds the PV1 reply to an incoming request,
// validating set name and protocol version (spec §4.4).
func (c *Coordinator) PrepareHeartbeatResponseV1(now time.Time, args HeartbeatArgs) (HeartbeatResult, error) {
	if args.ProtocolVersion != ProtocolVersion1 {
		return HeartbeatResult{}, newStatus(CodeIncompatibleProtocolVersion, "request is PV%d, this node runs PV1", args.ProtocolVersion)
	}
	if err := c.validateHeartbeatSetName(args); err != nil {
		return HeartbeatResult{}, err
	}
	if idx, ok := c.config.FindMemberByHost(args.From); ok {
		d := c.table.At(idx)
		if d != nil {
			d.LastHeartbeatRecv = now
			d.HasHeartbeatRecv = true
		}
	}
	return c.buildHeartbeatResult(), nil
}

// PrepareHeartbeatResponseV0 builds the PV0 reply (no term field used).
func (c *Coordinator) PrepareHeartbeatResponseV0(now time.Time, args HeartbeatArgs) (HeartbeatResult, error) {
	if args.ProtocolVersion != ProtocolVersion0 {
		return HeartbeatResult{}, newStatus(CodeIncompatibleProtocolVersion, "request is PV%d, this node runs PV0", args.ProtocolVersion)
	}
	if err := c.validateHeartbeatSetName(args); err != nil {
		return HeartbeatResult{}, err
	}
	result := c.buildHeartbeatResult()
	result.Term = 0
	return result, nil
}

func (c *Coordinator) validateHeartbeatSetName(args HeartbeatArgs) error {
	if c.config.SetName != "" && args.SetName != "" && args.SetName != c.config.SetName {
		return newStatus(CodeInconsistentReplicaSetNames, "request set name %q != ours %q", args.SetName, c.config.SetName)
	}
	return nil
}

func (c *Coordinator) buildHeartbeatResult() HeartbeatResult {
	self := c.self()
	result := HeartbeatResult{
		OK:            true,
		Term:          c.sm.CurrentTerm(),
		SetName:       c.config.SetName,
		ConfigVersion: c.config.Version,
		PrimaryIndex:  c.findPrimaryIndex(),
		SyncSourceIndex: -1,
	}
	if self != nil {
		result.State = self.State
		result.AppliedOpTime = self.LastAppliedOpTime
		result.DurableOpTime = self.LastDurableOpTime
		if !self.SyncSource.IsEmpty() {
			if idx, ok := c.config.FindMemberByHost(self.SyncSource); ok {
				result.SyncSourceIndex = idx
			}
		}
	}
	if c.sm.Role() == RoleLeader {
		switch c.sm.LeaderMode() {
		case LeaderModeMaster, LeaderModeAttemptingStepDown, LeaderModeSteppingDown, LeaderModeLeaderElect:
			result.State = StatePrimary
		}
		result.ElectionTime = c.electionTime
	}
	return result
}
