package repl

import (
	"context"
	"time"

	"github.com/replset/topology/pkg/repl/transport"
	"github.com/replset/topology/pkg/topology"
)

// handleHeartbeat answers an incoming heartbeat request from a peer.
func (e *Executor) handleHeartbeat(ctx context.Context, req transport.HeartbeatRequest) (transport.HeartbeatReply, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	args := req.ToArgs()
	now := time.Now()

	var result topology.HeartbeatResult
	var err error
	if args.ProtocolVersion == topology.ProtocolVersion1 {
		result, err = e.coord.PrepareHeartbeatResponseV1(now, args)
	} else {
		result, err = e.coord.PrepareHeartbeatResponseV0(now, args)
	}
	if err != nil {
		return transport.HeartbeatReply{ErrorMessage: err.Error()}, nil
	}
	return transport.FromResult(result), nil
}

// handleVote answers an incoming replSetRequestVotes request. A term
// strictly ahead of ours is adopted before the vote is evaluated, so a
// fresher candidate's request is judged against our up-to-date state.
func (e *Executor) handleVote(ctx context.Context, req transport.VoteRequest) (transport.VoteReply, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := time.Now()
	if req.Term > e.coord.CurrentTerm() {
		e.coord.UpdateTerm(req.Term, now)
	}
	resp, err := e.coord.ProcessReplSetRequestVotes(req.ToArgs(), now, e.store)
	if err != nil {
		return transport.VoteReply{}, err
	}
	return transport.FromResponse(resp), nil
}
