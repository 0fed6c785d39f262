package repl

import (
	"context"
	"sync"
	"time"

	"github.com/replset/topology/pkg/internal/logutil"
	obsmetrics "github.com/replset/topology/pkg/observability/metrics"
	"github.com/replset/topology/pkg/repl/transport"
	"github.com/replset/topology/pkg/topology"
)

// heartbeatLoop drives one heartbeat round per Coordinator.Opts().HeartbeatInterval
// until ctx is canceled.
func (e *Executor) heartbeatLoop(ctx context.Context) {
	e.mu.Lock()
	interval := e.coord.Opts().HeartbeatInterval
	e.mu.Unlock()
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.heartbeatRound(ctx)
		}
	}
}

// heartbeatRound fans a heartbeat out to every configured peer but
// self, then runs the post-round bookkeeping (timeout detection,
// commit-point advancement) once every reply is in.
func (e *Executor) heartbeatRound(ctx context.Context) {
	e.mu.Lock()
	cfg := e.coord.Config()
	selfIdx := e.coord.SelfIndex()
	e.mu.Unlock()
	if selfIdx < 0 {
		return
	}

	var wg sync.WaitGroup
	for i, m := range cfg.Members {
		if i == selfIdx {
			continue
		}
		target := m.Host
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.sendHeartbeat(ctx, target)
		}()
	}
	wg.Wait()
	e.afterHeartbeatRound(ctx)
}

func (e *Executor) sendHeartbeat(ctx context.Context, target topology.HostPort) {
	now := time.Now()
	e.mu.Lock()
	args, timeout, err := e.coord.PrepareHeartbeatRequest(now, target)
	e.mu.Unlock()
	if err != nil {
		// a heartbeat to this peer is already in flight
		return
	}

	rpcCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	start := time.Now()
	reply, rpcErr := e.opts.Client.Heartbeat(rpcCtx, target.String(), transport.FromArgs(args))
	rtt := time.Since(start)
	obsmetrics.TopologyHeartbeatRTT.WithLabelValues(target.String()).Set(rtt.Seconds())

	var result topology.HeartbeatResult
	if rpcErr != nil {
		result = topology.HeartbeatResult{OK: false}
	} else {
		result = reply.ToResult()
	}

	e.mu.Lock()
	now = time.Now()
	action := e.coord.ProcessHeartbeatResponse(now, rtt, target, result)
	e.mu.Unlock()
	e.executeAction(ctx, action, now)
}

// afterHeartbeatRound runs the per-round checks that do not depend on
// any single reply: liveness-driven stepdown and majority-commit
// advancement.
func (e *Executor) afterHeartbeatRound(ctx context.Context) {
	e.mu.Lock()
	now := time.Now()
	action := e.coord.CheckMemberTimeouts(now)
	advanced := e.coord.UpdateLastCommittedOpTime(now)
	role := e.coord.Role()
	term := e.coord.CurrentTerm()
	commit := e.coord.LastCommittedOpTime()
	e.mu.Unlock()

	obsmetrics.TopologyRole.Set(float64(role))
	obsmetrics.TopologyTerm.Set(float64(term))
	if advanced {
		obsmetrics.TopologyLastCommittedOpTime.Set(float64(commit.Timestamp))
	}
	e.executeAction(ctx, action, now)
	e.drivePendingStepDown(ctx)
}

// executeAction turns a topology.Action into the side effect it names.
func (e *Executor) executeAction(ctx context.Context, action topology.Action, now time.Time) {
	switch action.Kind {
	case topology.ActionNoAction:
		return
	case topology.ActionStartElection:
		go e.runElection(ctx, topology.ElectionReasonTimeout)
	case topology.ActionPriorityTakeover:
		go e.runElection(ctx, topology.ElectionReasonPriorityTakeover)
	case topology.ActionCatchupTakeover:
		go e.runElection(ctx, topology.ElectionReasonCatchupTakeover)
	case topology.ActionStepUpSelf:
		go e.runElection(ctx, topology.ElectionReasonStepUpRequest)
	case topology.ActionStepDownSelf:
		e.mu.Lock()
		e.coord.FinishUnconditionalStepDown(now)
		e.mu.Unlock()
		obsmetrics.TopologyStepDowns.WithLabelValues(action.Kind.String()).Inc()
		logutil.Warnf(e.opts.Logger, "stepping down: %s", action.Reason)
		e.notifyLeaderChange()
	case topology.ActionStepDownRemotePrimary:
		logutil.Warnf(e.opts.Logger, "remote primary %v should step down: %s", action.Target, action.Reason)
	case topology.ActionReconfig:
		logutil.Warnf(e.opts.Logger, "peer %v reports a newer configuration than ours", action.Target)
	}
}
