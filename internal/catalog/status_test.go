package catalog

import "testing"

func TestCanTransitionTo(t *testing.T) {
	tests := []struct {
		name string
		from State
		to   State
		want bool
	}{
		{"snatched to seeding", StateSnatched, StateSeeding, true},
		{"snatched to processed", StateSnatched, StateProcessed, true},
		{"snatched to failed", StateSnatched, StateFailed, true},
		{"snatched to aborted", StateSnatched, StateAborted, true},
		{"seeding to processed", StateSeeding, StateProcessed, true},
		{"seeding to failed", StateSeeding, StateFailed, false},
		{"seeding to snatched", StateSeeding, StateSnatched, false},
		{"aborted to failed", StateAborted, StateFailed, true},
		{"aborted to processed", StateAborted, StateProcessed, false},
		{"processed is terminal", StateProcessed, StateFailed, false},
		{"failed is terminal", StateFailed, StateSnatched, false},
		{"unknown state", State("bogus"), StateFailed, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.from.CanTransitionTo(tt.to); got != tt.want {
				t.Errorf("CanTransitionTo(%s -> %s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestStateTerminal(t *testing.T) {
	for _, st := range []State{StateSnatched, StateSeeding, StateAborted} {
		if st.Terminal() {
			t.Errorf("Terminal(%s) = true, want false", st)
		}
		if !st.Outstanding() {
			t.Errorf("Outstanding(%s) = false, want true", st)
		}
	}
	for _, st := range []State{StateProcessed, StateFailed} {
		if !st.Terminal() {
			t.Errorf("Terminal(%s) = false, want true", st)
		}
		if st.Outstanding() {
			t.Errorf("Outstanding(%s) = true, want false", st)
		}
	}
}
