package repl

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/replset/topology/pkg/repl/transport"
	"github.com/replset/topology/pkg/topology"
)

// fakeServer satisfies transport.Server without opening a socket; tests
// never call Start, they invoke an Executor's handlers directly.
type fakeServer struct{ addr string }

func (s *fakeServer) Start(ctx context.Context, h transport.HeartbeatFunc, v transport.VoteFunc, a transport.AdminFuncs) error {
	return nil
}
func (s *fakeServer) Addr() string            { return s.addr }
func (s *fakeServer) Stop(ctx context.Context) error { return nil }

// fakeClient dispatches RPCs straight into the Executor registered under
// the target address, skipping the network entirely.
type fakeClient struct {
	registry map[string]*Executor
}

func (c *fakeClient) peer(addr string) (*Executor, error) {
	e, ok := c.registry[addr]
	if !ok {
		return nil, fmt.Errorf("fakeClient: no peer at %s", addr)
	}
	return e, nil
}

func (c *fakeClient) Heartbeat(ctx context.Context, addr string, req transport.HeartbeatRequest) (transport.HeartbeatReply, error) {
	e, err := c.peer(addr)
	if err != nil {
		return transport.HeartbeatReply{}, err
	}
	return e.handleHeartbeat(ctx, req)
}

func (c *fakeClient) RequestVote(ctx context.Context, addr string, req transport.VoteRequest) (transport.VoteReply, error) {
	e, err := c.peer(addr)
	if err != nil {
		return transport.VoteReply{}, err
	}
	return e.handleVote(ctx, req)
}

func (c *fakeClient) StepDown(ctx context.Context, addr string, req transport.StepDownRequest) (transport.StepDownReply, error) {
	e, err := c.peer(addr)
	if err != nil {
		return transport.StepDownReply{}, err
	}
	return e.handleStepDown(ctx, req)
}

func (c *fakeClient) Freeze(ctx context.Context, addr string, req transport.FreezeRequest) (transport.FreezeReply, error) {
	e, err := c.peer(addr)
	if err != nil {
		return transport.FreezeReply{}, err
	}
	return e.handleFreeze(ctx, req)
}

func (c *fakeClient) SyncFrom(ctx context.Context, addr string, req transport.SyncFromRequest) (transport.SyncFromReply, error) {
	e, err := c.peer(addr)
	if err != nil {
		return transport.SyncFromReply{}, err
	}
	return e.handleSyncFrom(ctx, req)
}

var _ transport.Client = (*fakeClient)(nil)
var _ transport.Server = (*fakeServer)(nil)

// threeNodeCluster builds three Executors sharing one three-member
// config, each driving its own Coordinator, wired together through a
// fakeClient so RequestVote/Heartbeat calls stay in-process.
func threeNodeCluster(t *testing.T) []*Executor {
	t.Helper()

	members := []topology.Member{
		{ID: 1, Host: topology.HostPort{Host: "n1", Port: 27017}, Priority: 1, Votes: 1, BuildIndexes: true},
		{ID: 2, Host: topology.HostPort{Host: "n2", Port: 27017}, Priority: 1, Votes: 1, BuildIndexes: true},
		{ID: 3, Host: topology.HostPort{Host: "n3", Port: 27017}, Priority: 1, Votes: 1, BuildIndexes: true},
	}

	client := &fakeClient{registry: make(map[string]*Executor)}
	now := time.Unix(1000, 0)

	executors := make([]*Executor, len(members))
	for i, m := range members {
		cfg := topology.Config{
			Version:         1,
			ProtocolVersion: topology.ProtocolVersion1,
			SetName:         "rs0",
			Members:         members,
			SelfIndex:       i,
		}
		coord := topology.NewCoordinator(topology.DefaultOptions())
		if err := coord.UpdateConfig(cfg, now); err != nil {
			t.Fatalf("UpdateConfig(%d): %v", i, err)
		}
		e, err := New(Options{
			NodeID:      fmt.Sprintf("n%d", m.ID),
			Coordinator: coord,
			Server:      &fakeServer{addr: m.Host.String()},
			Client:      client,
		})
		if err != nil {
			t.Fatalf("New(%d): %v", i, err)
		}
		executors[i] = e
	}
	for i, m := range members {
		client.registry[m.Host.String()] = executors[i]
	}
	return executors
}

func TestRunElection_WinsWithMajority(t *testing.T) {
	nodes := threeNodeCluster(t)
	candidate := nodes[0]

	candidate.runElection(context.Background(), topology.ElectionReasonTimeout)

	if !candidate.IsLeader() {
		t.Fatalf("candidate did not become primary")
	}
	if got := candidate.Term(); got != 1 {
		t.Fatalf("term = %d, want 1", got)
	}
	id, addr, ok := candidate.Leader()
	if !ok {
		t.Fatalf("Leader() not ok after winning election")
	}
	if id != "1" || addr != "n1:27017" {
		t.Fatalf("Leader() = (%s, %s), want (1, n1:27017)", id, addr)
	}
}

func TestRunElection_PeersAdoptHigherTerm(t *testing.T) {
	nodes := threeNodeCluster(t)
	candidate := nodes[0]

	candidate.runElection(context.Background(), topology.ElectionReasonTimeout)

	if !candidate.IsLeader() {
		t.Fatalf("candidate did not become primary")
	}
	for _, peer := range nodes[1:] {
		if got := peer.Term(); got != 1 {
			t.Fatalf("peer term = %d, want 1 (vote should have adopted the candidate's term)", got)
		}
		if peer.IsLeader() {
			t.Fatalf("peer incorrectly believes itself primary")
		}
	}
}

// TestRunElection_HigherTermCandidateSupersedesIncumbent exercises a
// consequence of votes carrying no primary information: a voter grants
// or refuses purely on term and data freshness, so a second candidate
// that never heartbeat the first primary is free to campaign at a
// higher term and will collect every vote, forcing the old primary
// into a step-down the moment it processes that vote.
func TestRunElection_HigherTermCandidateSupersedesIncumbent(t *testing.T) {
	nodes := threeNodeCluster(t)
	nodes[0].runElection(context.Background(), topology.ElectionReasonTimeout)
	if !nodes[0].IsLeader() {
		t.Fatalf("first candidate did not win")
	}

	nodes[1].runElection(context.Background(), topology.ElectionReasonTimeout)

	if !nodes[1].IsLeader() {
		t.Fatalf("second candidate did not win despite a higher term and unanimous votes")
	}
	if nodes[0].IsLeader() {
		t.Fatalf("original primary should have stepped down on adopting the higher term")
	}
	if got := nodes[1].Term(); got != 2 {
		t.Fatalf("second candidate term = %d, want 2", got)
	}
}
