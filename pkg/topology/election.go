package topology

import "time"

// ElectionReason identifies why a node is standing for election, used to
// gate the unconditional-takeover variants (spec §4.5).
type ElectionReason int

const (
	ElectionReasonTimeout ElectionReason = iota
	ElectionReasonStepUpRequest
	ElectionReasonPriorityTakeover
	ElectionReasonCatchupTakeover
)

// TermUpdateResult is returned by UpdateTerm (spec §4.5).
type TermUpdateResult struct {
	AlreadyUpToDate bool
	TriggerStepDown bool
	UpdatedTerm     uint64
}

// UpdateTerm implements spec §4.5 "Term update". A term strictly greater
// than currentTerm is adopted; any vote cast at a lower term is
// discarded, and a leader is told to step down.
func (c *Coordinator) UpdateTerm(term uint64, now time.Time) TermUpdateResult {
	if term <= c.sm.CurrentTerm() {
		return TermUpdateResult{AlreadyUpToDate: true, UpdatedTerm: c.sm.CurrentTerm()}
	}
	wasLeader := c.sm.Role() == RoleLeader
	if c.hasVoted && c.lastVote.Term < term {
		c.hasVoted = false
	}
	c.sm.bumpTerm(term)
	result := TermUpdateResult{UpdatedTerm: term}
	if wasLeader {
		c.sm.beginUnconditionalStepDown()
		result.TriggerStepDown = true
	}
	return result
}

// RequestVotesArgs is the replSetRequestVotes request (spec §6).
type RequestVotesArgs struct {
	SetName         string
	DryRun          bool
	Term            uint64
	CandidateIndex  int
	ConfigVersion   int64
	LastCommittedOp OpTime
}

// RequestVotesResponse is the replSetRequestVotes response (spec §6).
type RequestVotesResponse struct {
	Term        uint64
	VoteGranted bool
	Reason      string
}

// ProcessReplSetRequestVotes implements the PV1 vote-grant ladder of
// spec §4.5. A granted, non-dry-run vote is persisted through storage
// before this method returns, so the caller may acknowledge the wire
// reply only after Persist succeeds (spec §6).
func (c *Coordinator) ProcessReplSetRequestVotes(args RequestVotesArgs, now time.Time, storage VoteStorage) (RequestVotesResponse, error) {
	resp := RequestVotesResponse{Term: c.sm.CurrentTerm()}

	if args.Term < c.sm.CurrentTerm() {
		resp.Reason = "candidate's term is lower"
		return resp, nil
	}
	if c.config.SetName != "" && args.SetName != "" && args.SetName != c.config.SetName {
		resp.Reason = "replica set names do not match"
		return resp, nil
	}
	if args.ConfigVersion < c.config.Version {
		resp.Reason = "candidate's config version is stale"
		return resp, nil
	}
	if c.hasVoted && c.lastVote.Term == args.Term && c.lastVote.CandidateIndex != args.CandidateIndex {
		resp.Reason = "already voted for another candidate this term"
		return resp, nil
	}
	if self := c.self(); self != nil && args.LastCommittedOp.Less(self.LastAppliedOpTime) {
		resp.Reason = "candidate's data is staler than ours"
		return resp, nil
	}

	if !args.DryRun {
		v := LastVote{Term: args.Term, CandidateIndex: args.CandidateIndex}
		if storage != nil {
			if err := storage.Persist(v); err != nil {
				return RequestVotesResponse{Term: c.sm.CurrentTerm()}, err
			}
		}
		c.lastVote = v
		c.hasVoted = true
	}
	resp.VoteGranted = true
	resp.Term = args.Term
	return resp, nil
}

// ReplSetFreshArgs is the PV0 replSetFresh request (spec §6): a would-be
// candidate polls every member for the highest opTime and round in
// circulation before committing to an actual vote request.
type ReplSetFreshArgs struct {
	SetName        string
	ConfigVersion  int64
	CandidateIndex int
	OpTime         OpTime
}

// ReplSetFreshResponse is the replSetFresh reply. Fresher reports
// whether the responder's own data is ahead of the candidate's, the PV0
// signal a candidate uses to withdraw before ever asking for votes.
type ReplSetFreshResponse struct {
	OpTime      OpTime
	Fresher     bool
	VoteGranted bool
	Reason      string
}

// ReplSetFresh implements the PV0 freshness check (spec §2, §6) as a
// dry-run pass through the PV1 grant ladder: same refusal reasons, no
// vote persisted, no term bumped. The round is carried through
// ProcessReplSetRequestVotes as a term so both protocols share one
// ladder, per PV0/PV1 coexistence (spec §6).
func (c *Coordinator) ReplSetFresh(args ReplSetFreshArgs, round uint64, now time.Time) ReplSetFreshResponse {
	resp, _ := c.ProcessReplSetRequestVotes(RequestVotesArgs{
		SetName:         args.SetName,
		DryRun:          true,
		Term:            round,
		CandidateIndex:  args.CandidateIndex,
		ConfigVersion:   args.ConfigVersion,
		LastCommittedOp: args.OpTime,
	}, now, nil)

	var ourOpTime OpTime
	if self := c.self(); self != nil {
		ourOpTime = self.LastAppliedOpTime
	}
	return ReplSetFreshResponse{
		OpTime:      ourOpTime,
		Fresher:     args.OpTime.Less(ourOpTime),
		VoteGranted: resp.VoteGranted,
		Reason:      resp.Reason,
	}
}

// ReplSetElectArgs is the PV0 replSetElect request (spec §6): cast only
// after replSetFresh has come back clean for every member. Round takes
// the place of PV1's term in the shared grant ladder.
type ReplSetElectArgs struct {
	SetName        string
	ConfigVersion  int64
	CandidateIndex int
	Round          uint64
	OpTime         OpTime
}

// ReplSetElectResponse is the replSetElect reply.
type ReplSetElectResponse struct {
	VoteGranted bool
	Reason      string
}

// ReplSetElect implements the PV0 election vote (spec §2, §6): a thin
// wrapper over ProcessReplSetRequestVotes that persists the vote under
// Round exactly as PV1 persists one under Term.
func (c *Coordinator) ReplSetElect(args ReplSetElectArgs, now time.Time, storage VoteStorage) (ReplSetElectResponse, error) {
	resp, err := c.ProcessReplSetRequestVotes(RequestVotesArgs{
		SetName:         args.SetName,
		Term:            args.Round,
		CandidateIndex:  args.CandidateIndex,
		ConfigVersion:   args.ConfigVersion,
		LastCommittedOp: args.OpTime,
	}, now, storage)
	if err != nil {
		return ReplSetElectResponse{}, err
	}
	return ReplSetElectResponse{VoteGranted: resp.VoteGranted, Reason: resp.Reason}, nil
}

// isFrozen reports whether replSetFreeze has disabled candidacy.
func (c *Coordinator) isFrozen(now time.Time) bool {
	return c.freezeUntil.After(now)
}

// Freeze implements replSetFreeze(seconds): disables candidacy for the
// given duration. A duration <= 0 clears any existing freeze.
func (c *Coordinator) Freeze(now time.Time, d time.Duration) {
	if d <= 0 {
		c.freezeUntil = time.Time{}
		return
	}
	c.freezeUntil = now.Add(d)
}

// BecomeCandidateIfElectable implements spec §4.5 "Standing for
// election". On success, Role transitions to candidate.
func (c *Coordinator) BecomeCandidateIfElectable(now time.Time, reason ElectionReason) error {
	if c.sm.Role() != RoleFollower {
		return newStatus(CodeNotYetInitialized, "not a follower")
	}
	m := c.config.Self()
	if m == nil {
		return newStatus(CodeNodeNotFound, "self not present in configuration")
	}
	if !m.IsElectable() {
		return newStatus(CodeNotYetInitialized, "self is not electable (priority<=0 or arbiter)")
	}
	if c.isFrozen(now) {
		return newStatus(CodeNotYetInitialized, "node is frozen")
	}
	if !c.lastElectionAt.IsZero() && now.Sub(c.lastElectionAt) < c.opts.ElectionSleepDuration {
		return newStatus(CodeNotYetInitialized, "election sleep window has not elapsed")
	}

	primaryIdx := c.findPrimaryIndex()
	switch reason {
	case ElectionReasonPriorityTakeover, ElectionReasonCatchupTakeover:
		if primaryIdx < 0 {
			break
		}
		primaryData := c.table.At(primaryIdx)
		if primaryData == nil {
			break
		}
		if reason == ElectionReasonPriorityTakeover {
			primaryMember, ok := c.config.FindMemberByHost(primaryData.Host)
			if ok && c.config.Members[primaryMember].Priority >= m.Priority {
				return newStatus(CodeNotYetInitialized, "priority takeover requires a higher priority than the current primary")
			}
		}
	default:
		if primaryIdx >= 0 {
			return newStatus(CodeNotYetInitialized, "a primary is already present")
		}
	}

	c.sm.becomeCandidate()
	c.lastElectionAt = now
	return nil
}

// ProcessWinElection implements spec §4.5: Role->leader,
// LeaderMode->leaderElect, records election identifiers, resets
// sync-source to none.
func (c *Coordinator) ProcessWinElection(electionID [16]byte, electionOpTime OpTime, now time.Time) {
	c.sm.winElection()
	c.electionID = electionID
	c.hasElectionID = true
	c.electionOpTime = electionOpTime
	c.electionTime = now
	c.hasFirstOpTimeOfTerm = false
	if self := c.self(); self != nil {
		self.SyncSource = HostPort{}
	}
}

// ProcessLoseElection implements spec §4.5: Role->follower.
func (c *Coordinator) ProcessLoseElection() {
	c.sm.loseElection()
}

// CompleteTransitionToPrimary implements spec §4.5: leaderElect->master,
// recording the commit-advancement floor for invariant 5.
func (c *Coordinator) CompleteTransitionToPrimary(firstOpTimeOfTerm OpTime) {
	c.sm.completeTransitionToPrimary()
	c.firstOpTimeOfTerm = firstOpTimeOfTerm
	c.hasFirstOpTimeOfTerm = true
}

// PrepareForStepDownAttempt implements the conditional-stepdown entry
// point of spec §4.5.
func (c *Coordinator) PrepareForStepDownAttempt() error {
	return c.sm.beginAttemptedStepDown()
}

// AttemptStepDown implements spec §4.5's attemptStepDown: true iff
// (force && now > waitUntil) || (majority of voting members applied >=
// our lastAppliedOpTime && at least one such majority member is
// electable). On success it completes the attempted-stepdown transition.
func (c *Coordinator) AttemptStepDown(termAtStart uint64, now, waitUntil, stepDownUntil time.Time, force bool) (bool, error) {
	if c.sm.CurrentTerm() != termAtStart {
		return false, newStatus(CodeStaleTerm, "term changed since the stepdown attempt began")
	}
	if c.sm.LeaderMode() != LeaderModeAttemptingStepDown {
		return false, newStatus(CodeNotPrimary, "not attempting a stepdown")
	}

	if force && now.After(waitUntil) {
		c.sm.finishAttemptedStepDown()
		c.lastElectionAt = now
		return true, nil
	}

	self := c.self()
	if self == nil {
		return false, newStatus(CodeNotPrimary, "self not present in configuration")
	}
	caughtUp := c.electableMembersByOpTime(self.LastAppliedOpTime)
	hasElectableCaughtUpPeer := false
	for _, idx := range caughtUp {
		if idx == c.table.SelfIndex() {
			continue
		}
		if c.config.Members[idx].IsElectable() {
			hasElectableCaughtUpPeer = true
			break
		}
	}
	majorityCaughtUp := len(caughtUp) >= c.config.MajoritySize(true)

	if majorityCaughtUp && hasElectableCaughtUpPeer {
		c.sm.finishAttemptedStepDown()
		c.lastElectionAt = now
		return true, nil
	}

	if now.After(stepDownUntil) {
		return false, newStatus(CodeExceededTimeLimit, "stepdown wait deadline exceeded")
	}
	return false, nil
}

// AbortAttemptedStepDownIfNeeded reverts attemptingStepDown->master if
// that transition is still legal (spec §4.5).
func (c *Coordinator) AbortAttemptedStepDownIfNeeded() {
	c.sm.abortAttemptedStepDown()
}

// PrepareForUnconditionalStepDown implements the heartbeat-driven
// stepdown path, superseding any attempted stepdown in progress.
func (c *Coordinator) PrepareForUnconditionalStepDown() {
	c.sm.beginUnconditionalStepDown()
}

// FinishUnconditionalStepDown completes steppingDown->notLeader. Called
// by the executor under its own exclusive lock (spec §4.5).
func (c *Coordinator) FinishUnconditionalStepDown(now time.Time) {
	c.sm.finishUnconditionalStepDown()
	c.lastElectionAt = now
}

// UpdateLastCommittedOpTime implements spec §4.5's commit-advancement
// scan: the majority-applied (or majority-durable, when
// WriteConcernMajorityShouldJournal) op-time among voting data-bearing
// members. Advancement is rejected unless the candidate's term equals
// currentTerm and, once a firstOpTimeOfTerm floor is recorded, unless
// the candidate is at or past that floor (invariant 5).
func (c *Coordinator) UpdateLastCommittedOpTime(now time.Time) bool {
	idxs := c.config.DataBearingVotingMembers()
	if len(idxs) == 0 {
		return false
	}
	times := make([]OpTime, 0, len(idxs))
	for _, i := range idxs {
		d := c.table.At(i)
		if d == nil {
			continue
		}
		if c.config.WriteConcernMajorityShouldJournal {
			times = append(times, d.LastDurableOpTime)
		} else {
			times = append(times, d.LastAppliedOpTime)
		}
	}
	if len(times) == 0 {
		return false
	}
	sortOpTimesDesc(times)
	majority := c.config.MajoritySize(true)
	if majority > len(times) {
		majority = len(times)
	}
	candidate := times[majority-1]

	if candidate.Term != c.sm.CurrentTerm() {
		return false
	}
	if c.hasFirstOpTimeOfTerm && candidate.Less(c.firstOpTimeOfTerm) {
		return false
	}
	if !c.lastCommittedOpTime.Less(candidate) {
		return false
	}
	c.lastCommittedOpTime = candidate
	return true
}

func sortOpTimesDesc(times []OpTime) {
	for i := 1; i < len(times); i++ {
		for j := i; j > 0 && times[j-1].Less(times[j]); j-- {
			times[j-1], times[j] = times[j], times[j-1]
		}
	}
}

// AdvanceLastCommittedOpTime monotonically sets
// lastCommittedOpTime := max(current, op) (spec §4.5).
func (c *Coordinator) AdvanceLastCommittedOpTime(op OpTime) {
	c.lastCommittedOpTime = c.lastCommittedOpTime.Max(op)
}

// ChainingPreference tunes ChooseNewSyncSource's handling of
// non-primary sync sources (spec §4.5).
type ChainingPreference int

const (
	ChainingAllowedByConfig ChainingPreference = iota
	ChainingDisallowed
)

// SetForceSyncSource pins the next ChooseNewSyncSource call to idx; the
// pin is consumed (cleared) on use.
func (c *Coordinator) SetForceSyncSource(idx int) { c.forceSyncSourceIndex = idx }

// ChooseNewSyncSource implements spec §4.5's sync-source ranking.
func (c *Coordinator) ChooseNewSyncSource(now time.Time, lastOpTimeFetched OpTime, pref ChainingPreference) HostPort {
	if c.forceSyncSourceIndex >= 0 {
		idx := c.forceSyncSourceIndex
		c.forceSyncSourceIndex = -1
		if d := c.table.At(idx); d != nil {
			return d.Host
		}
	}

	primaryIdx := c.findPrimaryIndex()
	chainingDisabled := pref == ChainingDisallowed || !c.config.Settings.ChainingAllowed
	if chainingDisabled && primaryIdx >= 0 && primaryIdx != c.table.SelfIndex() {
		return c.table.At(primaryIdx).Host
	}

	var candidates []syncSourceCandidate
	for i, m := range c.config.Members {
		if i == c.table.SelfIndex() || m.Hidden || !m.BuildIndexes {
			continue
		}
		d := c.table.At(i)
		if d == nil || d.Health != HealthUp {
			continue
		}
		if c.table.isBlacklisted(m.Host, now) {
			continue
		}
		lead := int64(d.LastAppliedOpTime.Timestamp) - int64(lastOpTimeFetched.Timestamp)
		if lead < 0 {
			continue
		}
		candidates = append(candidates, syncSourceCandidate{idx: i, isPrimary: i == primaryIdx, lead: lead})
	}
	if len(candidates) == 0 {
		return HostPort{}
	}
	best := candidates[0]
	for _, cand := range candidates[1:] {
		if cand.betterThan(best) {
			best = cand
		}
	}
	return c.config.Members[best.idx].Host
}

// syncSourceCandidate ranks a live, non-blacklisted peer during
// ChooseNewSyncSource: the current primary is preferred, then the peer
// furthest ahead of our fetch point.
type syncSourceCandidate struct {
	idx       int
	isPrimary bool
	lead      int64
}

func (a syncSourceCandidate) betterThan(b syncSourceCandidate) bool {
	if a.isPrimary != b.isPrimary {
		return a.isPrimary
	}
	return a.lead > b.lead
}

// ShouldChangeSyncSource implements spec §4.5.
func (c *Coordinator) ShouldChangeSyncSource(now time.Time, currentSource HostPort, currentSourceOpTime OpTime, currentSourceIsPrimary, currentSourceHasSyncSource bool, lastOpTimeFetched OpTime, maxLagSecs int64) bool {
	if currentSource.IsEmpty() {
		return true
	}
	if c.table.isBlacklisted(currentSource, now) {
		return true
	}
	idx, ok := c.config.FindMemberByHost(currentSource)
	if !ok {
		return true
	}
	d := c.table.At(idx)
	if d == nil || d.Health != HealthUp {
		return true
	}
	for i, m := range c.config.Members {
		if i == idx || i == c.table.SelfIndex() || m.Hidden {
			continue
		}
		cd := c.table.At(i)
		if cd == nil || cd.Health != HealthUp {
			continue
		}
		lead := int64(cd.LastAppliedOpTime.Timestamp) - int64(currentSourceOpTime.Timestamp)
		if lead > maxLagSecs {
			return true
		}
	}
	if c.config.ProtocolVersion == ProtocolVersion1 && !currentSourceIsPrimary && !currentSourceHasSyncSource {
		if self := c.self(); self != nil && d.LastAppliedOpTime.Less(self.LastAppliedOpTime) {
			return true
		}
	}
	return false
}
