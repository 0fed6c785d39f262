// Package repl drives a topology.Coordinator: it owns the clock, the
// network and the persistence the coordinator is deliberately kept
// free of, turning the Actions the coordinator returns into heartbeat
// RPCs, election campaigns and leadership notifications.
package repl

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/replset/topology/pkg/consensus"
	"github.com/replset/topology/pkg/internal/logutil"
	obsmetrics "github.com/replset/topology/pkg/observability/metrics"
	"github.com/replset/topology/pkg/repl/transport"
	"github.com/replset/topology/pkg/repl/votestore"
	"github.com/replset/topology/pkg/topology"
)

// Executor drives one topology.Coordinator to completion: it is the
// single-threaded owner of the coordinator (every access is taken
// under mu, so the coordinator itself never needs its own lock) and
// the only component in this module that reads the wall clock or
// touches the network.
type Executor struct {
	opts   Options
	mu     sync.Mutex
	coord  *topology.Coordinator
	store  votestore.Store
	lch    chan consensus.LeaderInfo
	appliedSeq uint64

	run struct {
		started bool
		closed  bool
	}
	cancel context.CancelFunc

	stepDown pendingStepDown
}

// pendingStepDown tracks an in-flight conditional replSetStepDown
// across heartbeat rounds; termAtStart is zero when no stepdown is
// outstanding.
type pendingStepDown struct {
	active        bool
	termAtStart   uint64
	waitUntil     time.Time
	stepDownUntil time.Time
	force         bool
}

// New constructs an Executor from validated options.
func New(opts Options) (*Executor, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	store := opts.VoteStore
	if store == nil {
		s, err := votestore.Open("")
		if err != nil {
			return nil, err
		}
		store = s
	}
	return &Executor{opts: opts, coord: opts.Coordinator, store: store, lch: make(chan consensus.LeaderInfo, 8)}, nil
}

// Start launches the RPC server, restores any persisted vote and
// begins the heartbeat loop. It returns once the server is listening;
// the heartbeat loop runs in the background until ctx is canceled.
func (e *Executor) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.run.started {
		e.mu.Unlock()
		return nil
	}
	e.run.started = true
	e.mu.Unlock()

	obsmetrics.Register()

	if v, ok, err := e.store.Load(); err != nil {
		return fmt.Errorf("repl: load last vote: %w", err)
	} else if ok {
		e.mu.Lock()
		e.coord.LoadLastVote(v)
		e.mu.Unlock()
	}

	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel

	admin := transport.AdminFuncs{StepDown: e.handleStepDown, Freeze: e.handleFreeze, SyncFrom: e.handleSyncFrom}
	if err := e.opts.Server.Start(ctx, e.handleHeartbeat, e.handleVote, admin); err != nil {
		return err
	}
	logutil.Infof(e.opts.Logger, "repl executor listening at %s", e.opts.Server.Addr())

	go e.heartbeatLoop(ctx)
	return nil
}

// Stop shuts down the RPC server and the heartbeat loop.
func (e *Executor) Stop() error {
	e.mu.Lock()
	if e.run.closed {
		e.mu.Unlock()
		return nil
	}
	e.run.closed = true
	e.mu.Unlock()

	if e.cancel != nil {
		e.cancel()
	}
	return e.opts.Server.Stop(context.Background())
}

// IsLeader, Leader and Term let an Executor stand in for
// consensus.Consensus alongside (or instead of) the raft backend.
func (e *Executor) IsLeader() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.coord.CanAcceptWrites()
}

func (e *Executor) Leader() (id, addr string, ok bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	idx := e.coord.PrimaryIndex()
	if idx < 0 {
		return "", "", false
	}
	m := e.coord.Config().Members[idx]
	return fmt.Sprintf("%d", m.ID), m.Host.String(), true
}

func (e *Executor) Term() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.coord.CurrentTerm()
}

// LeaderCh implements consensus.LeaderNotifier.
func (e *Executor) LeaderCh() <-chan consensus.LeaderInfo { return e.lch }

// Apply simulates appending a local write: it advances this node's own
// applied op-time, which the heartbeat loop's majority-commit scan
// picks up once peers acknowledge it. It is a stand-in for the real
// oplog this module does not implement.
func (e *Executor) Apply(cmd consensus.Command, timeout time.Duration) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.coord.CanAcceptWrites() {
		return fmt.Errorf("repl: not primary")
	}
	e.appliedSeq++
	op := topology.OpTime{Timestamp: e.appliedSeq, Term: e.coord.CurrentTerm()}
	e.coord.AdvanceSelfAppliedOpTime(op)
	return nil
}

var _ consensus.Consensus = (*Executor)(nil)
var _ consensus.LeaderNotifier = (*Executor)(nil)
