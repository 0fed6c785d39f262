package repl

import (
	"fmt"
	"log"

	"github.com/replset/topology/pkg/consensus"
	"github.com/replset/topology/pkg/repl/transport"
	"github.com/replset/topology/pkg/repl/votestore"
	"github.com/replset/topology/pkg/topology"
)

// Options configures an Executor.
type Options struct {
	// NodeID is this node's stable identifier, echoed in LeaderInfo.
	NodeID string

	Logger *log.Logger

	// Coordinator is the pure-logic state machine this executor drives.
	// Its configuration must already be installed via UpdateConfig.
	Coordinator *topology.Coordinator

	// VoteStore persists cast votes across restarts. If nil, an
	// in-memory store is used (votes do not survive a restart).
	VoteStore votestore.Store

	// Server and Client carry heartbeat/vote RPCs to and from peers.
	Server transport.Server
	Client transport.Client

	// OnLeaderChange, when set, is invoked whenever this node observes a
	// (possibly remote) leadership change.
	OnLeaderChange func(consensus.LeaderInfo)

	// OnElectionStart and OnElectionEnd bracket this node's own
	// candidacies.
	OnElectionStart func()
	OnElectionEnd   func()
}

func (o Options) Validate() error {
	if o.NodeID == "" {
		return fmt.Errorf("repl: empty NodeID")
	}
	if o.Coordinator == nil {
		return fmt.Errorf("repl: nil Coordinator")
	}
	if o.Server == nil {
		return fmt.Errorf("repl: nil Server")
	}
	if o.Client == nil {
		return fmt.Errorf("repl: nil Client")
	}
	return nil
}
