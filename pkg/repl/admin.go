package repl

import (
	"context"
	"time"

	"github.com/replset/topology/pkg/internal/logutil"
	"github.com/replset/topology/pkg/repl/transport"
	"github.com/replset/topology/pkg/topology"
)

// handleStepDown implements the replSetStepDown admin command: it
// begins the conditional stepdown attempt and records the deadlines
// so the next heartbeat rounds can drive AttemptStepDown to
// completion without blocking this RPC.
func (e *Executor) handleStepDown(ctx context.Context, req transport.StepDownRequest) (transport.StepDownReply, error) {
	now := time.Now()
	e.mu.Lock()
	termAtStart := e.coord.CurrentTerm()
	waitUntil, stepDownUntil, err := e.coord.ReplSetStepDown(now, topology.ReplSetStepDownArgs{
		StepDownSecs:               time.Duration(req.StepDownSecs) * time.Second,
		SecondaryCatchUpPeriodSecs: time.Duration(req.SecondaryCatchUpPeriodSecs) * time.Second,
		Force:                      req.Force,
	})
	if err == nil {
		e.stepDown = pendingStepDown{active: true, termAtStart: termAtStart, waitUntil: waitUntil, stepDownUntil: stepDownUntil, force: req.Force}
	}
	e.mu.Unlock()
	if err != nil {
		return transport.StepDownReply{OK: false, ErrorMessage: err.Error()}, err
	}
	logutil.Infof(e.opts.Logger, "replSetStepDown requested, force=%v", req.Force)
	return transport.StepDownReply{OK: true}, nil
}

// handleFreeze implements the replSetFreeze admin command.
func (e *Executor) handleFreeze(ctx context.Context, req transport.FreezeRequest) (transport.FreezeReply, error) {
	now := time.Now()
	e.mu.Lock()
	e.coord.ReplSetFreeze(now, time.Duration(req.Secs)*time.Second)
	e.mu.Unlock()
	return transport.FreezeReply{OK: true}, nil
}

// handleSyncFrom implements the replSetSyncFrom admin command.
func (e *Executor) handleSyncFrom(ctx context.Context, req transport.SyncFromRequest) (transport.SyncFromReply, error) {
	e.mu.Lock()
	err := e.coord.ReplSetSyncFrom(topology.HostPort{Host: req.Host, Port: req.Port})
	e.mu.Unlock()
	if err != nil {
		return transport.SyncFromReply{OK: false, ErrorMessage: err.Error()}, err
	}
	return transport.SyncFromReply{OK: true}, nil
}

// drivePendingStepDown retries AttemptStepDown against the deadlines
// handleStepDown recorded, called once per heartbeat round. It is a
// no-op when no stepdown is outstanding.
func (e *Executor) drivePendingStepDown(ctx context.Context) {
	e.mu.Lock()
	sd := e.stepDown
	e.mu.Unlock()
	if !sd.active {
		return
	}

	now := time.Now()
	e.mu.Lock()
	done, err := e.coord.AttemptStepDown(sd.termAtStart, now, sd.waitUntil, sd.stepDownUntil, sd.force)
	e.mu.Unlock()

	if err != nil {
		logutil.Warnf(e.opts.Logger, "replSetStepDown aborted: %v", err)
		e.mu.Lock()
		e.stepDown = pendingStepDown{}
		e.mu.Unlock()
		return
	}
	if done {
		logutil.Infof(e.opts.Logger, "replSetStepDown completed")
		e.mu.Lock()
		e.stepDown = pendingStepDown{}
		e.mu.Unlock()
		e.notifyLeaderChange()
		return
	}
	if now.After(sd.stepDownUntil) {
		e.mu.Lock()
		e.coord.AbortAttemptedStepDownIfNeeded()
		e.stepDown = pendingStepDown{}
		e.mu.Unlock()
		logutil.Warnf(e.opts.Logger, "replSetStepDown timed out without reaching a caught-up secondary")
	}
}
