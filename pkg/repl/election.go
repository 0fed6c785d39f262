package repl

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/replset/topology/pkg/consensus"
	"github.com/replset/topology/pkg/internal/logutil"
	obsmetrics "github.com/replset/topology/pkg/observability/metrics"
	"github.com/replset/topology/pkg/repl/transport"
	"github.com/replset/topology/pkg/topology"
)

// runElection stands this node as a candidate, self-votes, canvasses
// every other voting member and, on a majority, completes the
// transition to primary.
func (e *Executor) runElection(ctx context.Context, reason topology.ElectionReason) {
	e.mu.Lock()
	now := time.Now()
	if err := e.coord.BecomeCandidateIfElectable(now, reason); err != nil {
		e.mu.Unlock()
		return
	}
	newTerm := e.coord.CurrentTerm() + 1
	e.coord.UpdateTerm(newTerm, now)
	cfg := e.coord.Config()
	selfIdx := e.coord.SelfIndex()
	selfApplied := e.coord.SelfAppliedOpTime()
	e.mu.Unlock()

	if e.opts.OnElectionStart != nil {
		e.opts.OnElectionStart()
	}
	obsmetrics.TopologyElectionsStarted.Inc()
	logutil.Infof(e.opts.Logger, "standing for election at term %d (reason=%v)", newTerm, reason)

	voteArgs := topology.RequestVotesArgs{
		SetName:         cfg.SetName,
		Term:            newTerm,
		CandidateIndex:  selfIdx,
		ConfigVersion:   cfg.Version,
		LastCommittedOp: selfApplied,
	}

	e.mu.Lock()
	selfVote, err := e.coord.ProcessReplSetRequestVotes(voteArgs, now, e.store)
	e.mu.Unlock()
	granted := err == nil && selfVote.VoteGranted
	if !granted {
		e.endElection(ctx, false)
		return
	}

	var mu sync.Mutex
	votes := 1
	var wg sync.WaitGroup
	for i, m := range cfg.Members {
		if i == selfIdx || !m.IsVoter() {
			continue
		}
		target := m.Host
		wg.Add(1)
		go func() {
			defer wg.Done()
			rpcCtx, cancel := context.WithTimeout(ctx, e.coord.Opts().HeartbeatTimeout())
			defer cancel()
			reply, err := e.opts.Client.RequestVote(rpcCtx, target.String(), transport.FromVoteArgs(voteArgs))
			if err != nil || !reply.VoteGranted {
				return
			}
			mu.Lock()
			votes++
			mu.Unlock()
		}()
	}
	wg.Wait()

	e.mu.Lock()
	latestCfg := e.coord.Config()
	majority := latestCfg.MajoritySize(false)
	e.mu.Unlock()

	won := votes >= majority
	e.endElection(ctx, won)
}

func (e *Executor) endElection(ctx context.Context, won bool) {
	e.mu.Lock()
	now := time.Now()
	if won {
		id := [16]byte(uuid.New())
		self := e.coord.SelfAppliedOpTime()
		e.coord.ProcessWinElection(id, self, now)
		e.coord.CompleteTransitionToPrimary(self)
	} else {
		e.coord.ProcessLoseElection()
	}
	e.mu.Unlock()

	if won {
		obsmetrics.TopologyElectionsWon.Inc()
		logutil.Infof(e.opts.Logger, "won election, now primary")
	} else {
		logutil.Infof(e.opts.Logger, "lost election")
	}
	if e.opts.OnElectionEnd != nil {
		e.opts.OnElectionEnd()
	}
	if won {
		e.notifyLeaderChange()
	}
}

// notifyLeaderChange pushes the current leader onto LeaderCh and
// invokes the configured callback, if any.
func (e *Executor) notifyLeaderChange() {
	id, addr, ok := e.Leader()
	if !ok {
		return
	}
	li := consensus.LeaderInfo{ID: id, Addr: addr, Term: e.Term()}
	select {
	case e.lch <- li:
	default:
	}
	if e.opts.OnLeaderChange != nil {
		e.opts.OnLeaderChange(li)
	}
}
