package topology

import "testing"

func TestStateMachine_ElectionLifecycle(t *testing.T) {
	s := newStateMachine()
	if s.Role() != RoleFollower {
		t.Fatalf("new state machine should start as follower, got %v", s.Role())
	}

	s.becomeCandidate()
	if s.Role() != RoleCandidate {
		t.Fatalf("becomeCandidate: got %v", s.Role())
	}

	s.winElection()
	if s.Role() != RoleLeader || s.LeaderMode() != LeaderModeLeaderElect {
		t.Fatalf("winElection: got role=%v mode=%v", s.Role(), s.LeaderMode())
	}

	s.completeTransitionToPrimary()
	if !s.CanAcceptWrites() {
		t.Fatalf("expected CanAcceptWrites after completeTransitionToPrimary")
	}
}

func TestStateMachine_LoseElectionReturnsToFollower(t *testing.T) {
	s := newStateMachine()
	s.becomeCandidate()
	s.loseElection()
	if s.Role() != RoleFollower {
		t.Fatalf("loseElection: got %v", s.Role())
	}
}

func TestStateMachine_AttemptedStepDownRequiresPrimary(t *testing.T) {
	s := newStateMachine()
	if err := s.beginAttemptedStepDown(); err == nil {
		t.Fatalf("expected error beginning stepdown from a non-primary state")
	}
}

func TestStateMachine_UnconditionalStepDownSupersedesAttempt(t *testing.T) {
	s := newStateMachine()
	s.becomeCandidate()
	s.winElection()
	s.completeTransitionToPrimary()

	if err := s.beginAttemptedStepDown(); err != nil {
		t.Fatalf("beginAttemptedStepDown: %v", err)
	}
	if s.LeaderMode() != LeaderModeAttemptingStepDown {
		t.Fatalf("expected attemptingStepDown, got %v", s.LeaderMode())
	}

	s.beginUnconditionalStepDown()
	if s.LeaderMode() != LeaderModeSteppingDown {
		t.Fatalf("beginUnconditionalStepDown should supersede the attempt, got %v", s.LeaderMode())
	}

	s.finishUnconditionalStepDown()
	if s.Role() != RoleFollower || s.IsPrimary() {
		t.Fatalf("finishUnconditionalStepDown left role=%v isPrimary=%v", s.Role(), s.IsPrimary())
	}
}

func TestStateMachine_BumpTermRejectsOlderTerm(t *testing.T) {
	s := newStateMachine()
	s.bumpTerm(5)
	defer func() {
		if recover() == nil {
			t.Fatalf("expected a panic bumping to an older term")
		}
	}()
	s.bumpTerm(3)
}
