// Package transport defines the wire shapes and client/server
// interfaces the replication executor uses to exchange heartbeats and
// votes with peers, mirroring pkg/transport's management RPC split.
package transport

import (
	"context"
	"time"

	"github.com/replset/topology/pkg/topology"
)

// HeartbeatRequest is the JSON wire form of topology.HeartbeatArgs.
type HeartbeatRequest struct {
	ProtocolVersion   int       `json:"protocolVersion"`
	Term              uint64    `json:"term"`
	ConfigVersion     int64     `json:"configVersion"`
	SetName           string    `json:"setName"`
	FromHost          string    `json:"fromHost"`
	FromPort          int       `json:"fromPort"`
	LastAppliedTs     uint64    `json:"lastAppliedTs"`
	LastAppliedTerm   uint64    `json:"lastAppliedTerm"`
}

// HeartbeatReply is the JSON wire form of topology.HeartbeatResult.
type HeartbeatReply struct {
	OK              bool      `json:"ok"`
	Term            uint64    `json:"term"`
	State           int       `json:"state"`
	SetName         string    `json:"setName"`
	ConfigVersion   int64     `json:"configVersion"`
	DurableTs       uint64    `json:"durableTs"`
	DurableTerm     uint64    `json:"durableTerm"`
	AppliedTs       uint64    `json:"appliedTs"`
	AppliedTerm     uint64    `json:"appliedTerm"`
	PrimaryIndex    int       `json:"primaryIndex"`
	ElectionTime    time.Time `json:"electionTime"`
	SyncSourceIndex int       `json:"syncSourceIndex"`
	ErrorMessage    string    `json:"errorMessage,omitempty"`
}

// VoteRequest is the JSON wire form of topology.RequestVotesArgs.
type VoteRequest struct {
	SetName            string `json:"setName"`
	DryRun             bool   `json:"dryRun"`
	Term               uint64 `json:"term"`
	CandidateIndex     int    `json:"candidateIndex"`
	ConfigVersion      int64  `json:"configVersion"`
	LastCommittedTs    uint64 `json:"lastCommittedTs"`
	LastCommittedTerm  uint64 `json:"lastCommittedTerm"`
}

// VoteReply is the JSON wire form of topology.RequestVotesResponse.
type VoteReply struct {
	Term        uint64 `json:"term"`
	VoteGranted bool   `json:"voteGranted"`
	Reason      string `json:"reason,omitempty"`
}

// ToArgs converts a wire HeartbeatRequest back into topology.HeartbeatArgs.
func (r HeartbeatRequest) ToArgs() topology.HeartbeatArgs {
	return topology.HeartbeatArgs{
		ProtocolVersion: topology.ProtocolVersion(r.ProtocolVersion),
		Term:            r.Term,
		ConfigVersion:   r.ConfigVersion,
		SetName:         r.SetName,
		From:            topology.HostPort{Host: r.FromHost, Port: r.FromPort},
		LastAppliedOpTime: topology.OpTime{Timestamp: r.LastAppliedTs, Term: r.LastAppliedTerm},
	}
}

// FromArgs builds a wire HeartbeatRequest from topology.HeartbeatArgs.
func FromArgs(a topology.HeartbeatArgs) HeartbeatRequest {
	return HeartbeatRequest{
		ProtocolVersion: int(a.ProtocolVersion),
		Term:            a.Term,
		ConfigVersion:   a.ConfigVersion,
		SetName:         a.SetName,
		FromHost:        a.From.Host,
		FromPort:        a.From.Port,
		LastAppliedTs:   a.LastAppliedOpTime.Timestamp,
		LastAppliedTerm: a.LastAppliedOpTime.Term,
	}
}

// ToResult converts a wire HeartbeatReply back into topology.HeartbeatResult.
func (r HeartbeatReply) ToResult() topology.HeartbeatResult {
	return topology.HeartbeatResult{
		OK:              r.OK,
		Term:            r.Term,
		State:           topology.MemberState(r.State),
		SetName:         r.SetName,
		ConfigVersion:   r.ConfigVersion,
		DurableOpTime:   topology.OpTime{Timestamp: r.DurableTs, Term: r.DurableTerm},
		AppliedOpTime:   topology.OpTime{Timestamp: r.AppliedTs, Term: r.AppliedTerm},
		PrimaryIndex:    r.PrimaryIndex,
		ElectionTime:    r.ElectionTime,
		SyncSourceIndex: r.SyncSourceIndex,
		ErrorMessage:    r.ErrorMessage,
	}
}

// FromResult builds a wire HeartbeatReply from topology.HeartbeatResult.
func FromResult(res topology.HeartbeatResult) HeartbeatReply {
	return HeartbeatReply{
		OK:              res.OK,
		Term:            res.Term,
		State:           int(res.State),
		SetName:         res.SetName,
		ConfigVersion:   res.ConfigVersion,
		DurableTs:       res.DurableOpTime.Timestamp,
		DurableTerm:     res.DurableOpTime.Term,
		AppliedTs:       res.AppliedOpTime.Timestamp,
		AppliedTerm:     res.AppliedOpTime.Term,
		PrimaryIndex:    res.PrimaryIndex,
		ElectionTime:    res.ElectionTime,
		SyncSourceIndex: res.SyncSourceIndex,
		ErrorMessage:    res.ErrorMessage,
	}
}

// ToArgs converts a wire VoteRequest back into topology.RequestVotesArgs.
func (r VoteRequest) ToArgs() topology.RequestVotesArgs {
	return topology.RequestVotesArgs{
		SetName:         r.SetName,
		DryRun:          r.DryRun,
		Term:            r.Term,
		CandidateIndex:  r.CandidateIndex,
		ConfigVersion:   r.ConfigVersion,
		LastCommittedOp: topology.OpTime{Timestamp: r.LastCommittedTs, Term: r.LastCommittedTerm},
	}
}

// FromVoteArgs builds a wire VoteRequest from topology.RequestVotesArgs.
func FromVoteArgs(a topology.RequestVotesArgs) VoteRequest {
	return VoteRequest{
		SetName:           a.SetName,
		DryRun:            a.DryRun,
		Term:              a.Term,
		CandidateIndex:    a.CandidateIndex,
		ConfigVersion:     a.ConfigVersion,
		LastCommittedTs:   a.LastCommittedOp.Timestamp,
		LastCommittedTerm: a.LastCommittedOp.Term,
	}
}

// ToResponse converts a wire VoteReply back into topology.RequestVotesResponse.
func (r VoteReply) ToResponse() topology.RequestVotesResponse {
	return topology.RequestVotesResponse{Term: r.Term, VoteGranted: r.VoteGranted, Reason: r.Reason}
}

// FromResponse builds a wire VoteReply from topology.RequestVotesResponse.
func FromResponse(res topology.RequestVotesResponse) VoteReply {
	return VoteReply{Term: res.Term, VoteGranted: res.VoteGranted, Reason: res.Reason}
}

// StepDownRequest is the wire form of a replSetStepDown invocation.
type StepDownRequest struct {
	StepDownSecs               int64 `json:"stepDownSecs"`
	SecondaryCatchUpPeriodSecs int64 `json:"secondaryCatchUpPeriodSecs"`
	Force                      bool  `json:"force"`
}

// StepDownReply reports whether the stepdown was accepted.
type StepDownReply struct {
	OK           bool   `json:"ok"`
	ErrorMessage string `json:"errorMessage,omitempty"`
}

// FreezeRequest is the wire form of a replSetFreeze invocation.
type FreezeRequest struct {
	Secs int64 `json:"secs"`
}

// FreezeReply reports whether the freeze was applied.
type FreezeReply struct {
	OK           bool   `json:"ok"`
	ErrorMessage string `json:"errorMessage,omitempty"`
}

// SyncFromRequest is the wire form of a replSetSyncFrom invocation.
type SyncFromRequest struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// SyncFromReply reports whether the sync source was pinned.
type SyncFromReply struct {
	OK           bool   `json:"ok"`
	ErrorMessage string `json:"errorMessage,omitempty"`
}

// HeartbeatFunc handles an incoming heartbeat request.
type HeartbeatFunc func(ctx context.Context, req HeartbeatRequest) (HeartbeatReply, error)

// VoteFunc handles an incoming vote request.
type VoteFunc func(ctx context.Context, req VoteRequest) (VoteReply, error)

// StepDownFunc handles an incoming replSetStepDown request.
type StepDownFunc func(ctx context.Context, req StepDownRequest) (StepDownReply, error)

// FreezeFunc handles an incoming replSetFreeze request.
type FreezeFunc func(ctx context.Context, req FreezeRequest) (FreezeReply, error)

// SyncFromFunc handles an incoming replSetSyncFrom request.
type SyncFromFunc func(ctx context.Context, req SyncFromRequest) (SyncFromReply, error)

// AdminFuncs bundles the three command-style admin endpoints a Server
// exposes alongside the heartbeat/vote RPCs.
type AdminFuncs struct {
	StepDown StepDownFunc
	Freeze   FreezeFunc
	SyncFrom SyncFromFunc
}

// Server exposes the heartbeat/vote endpoints peers call into and the
// admin endpoints an operator's CLI calls into.
type Server interface {
	Start(ctx context.Context, heartbeat HeartbeatFunc, vote VoteFunc, admin AdminFuncs) error
	Addr() string
	Stop(ctx context.Context) error
}

// Client issues heartbeat/vote RPCs to a peer and admin commands to a
// node directly.
type Client interface {
	Heartbeat(ctx context.Context, addr string, req HeartbeatRequest) (HeartbeatReply, error)
	RequestVote(ctx context.Context, addr string, req VoteRequest) (VoteReply, error)
	StepDown(ctx context.Context, addr string, req StepDownRequest) (StepDownReply, error)
	Freeze(ctx context.Context, addr string, req FreezeRequest) (FreezeReply, error)
	SyncFrom(ctx context.Context, addr string, req SyncFromRequest) (SyncFromReply, error)
}
