// Package topologycons adapts a topology.Coordinator, driven by a
// repl.Executor, behind the consensus.Consensus interface so
// pkg/cluster can run on it exactly as it would on the raft backend.
package topologycons

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/replset/topology/pkg/consensus"
	"github.com/replset/topology/pkg/repl"
	"github.com/replset/topology/pkg/repl/transport/httpjson"
	"github.com/replset/topology/pkg/repl/votestore"
	"github.com/replset/topology/pkg/topology"
)

// Options configures a Node.
type Options struct {
	NodeID string
	Logger *log.Logger

	// BindAddr is the address the heartbeat/vote server listens on.
	BindAddr string

	// DataDir selects disk-backed vote persistence when non-empty.
	DataDir string

	// Config is the initial replica-set configuration to install.
	Config topology.Config

	// TopoOptions tunes heartbeat/election timing; DefaultOptions() if zero.
	TopoOptions topology.Options

	OnLeaderChange  func(consensus.LeaderInfo)
	OnElectionStart func()
	OnElectionEnd   func()
}

// Node wires a topology.Coordinator and a repl.Executor together
// behind consensus.Consensus, and additionally supports dynamic
// membership changes via Reconfigurer.
type Node struct {
	opts  Options
	coord *topology.Coordinator
	exec  *repl.Executor
	store votestore.Store
}

// New constructs a Node. Start must be called before use.
func New(opts Options) (*Node, error) {
	if opts.NodeID == "" {
		return nil, fmt.Errorf("topologycons: empty NodeID")
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	topoOpts := opts.TopoOptions
	if topoOpts.HeartbeatInterval == 0 {
		topoOpts = topology.DefaultOptions()
	}

	coord := topology.NewCoordinator(topoOpts)
	if err := coord.UpdateConfig(opts.Config, time.Now()); err != nil {
		return nil, fmt.Errorf("topologycons: install config: %w", err)
	}

	store, err := votestore.Open(opts.DataDir)
	if err != nil {
		return nil, err
	}

	server := httpjson.NewServer(opts.BindAddr, opts.Logger)
	client := httpjson.NewClient(topoOpts.HeartbeatTimeout())

	exec, err := repl.New(repl.Options{
		NodeID:          opts.NodeID,
		Logger:          opts.Logger,
		Coordinator:     coord,
		VoteStore:       store,
		Server:          server,
		Client:          client,
		OnLeaderChange:  opts.OnLeaderChange,
		OnElectionStart: opts.OnElectionStart,
		OnElectionEnd:   opts.OnElectionEnd,
	})
	if err != nil {
		return nil, err
	}

	return &Node{opts: opts, coord: coord, exec: exec, store: store}, nil
}

func (n *Node) Start(ctx context.Context) error { return n.exec.Start(ctx) }
func (n *Node) Stop() error {
	err := n.exec.Stop()
	if cerr := n.store.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

func (n *Node) Apply(cmd consensus.Command, timeout time.Duration) error { return n.exec.Apply(cmd, timeout) }
func (n *Node) IsLeader() bool                                           { return n.exec.IsLeader() }
func (n *Node) Leader() (id, addr string, ok bool)                       { return n.exec.Leader() }
func (n *Node) Term() uint64                                             { return n.exec.Term() }
func (n *Node) LeaderCh() <-chan consensus.LeaderInfo                    { return n.exec.LeaderCh() }

// Coordinator exposes the underlying state machine for status reporting
// (replSetGetStatus, isMaster and friends).
func (n *Node) Coordinator() *topology.Coordinator { return n.coord }

var _ consensus.Consensus = (*Node)(nil)
var _ consensus.LeaderNotifier = (*Node)(nil)
var _ consensus.Reconfigurer = (*Node)(nil)
