package models

import "testing"

func TestJobStatusAssigned(t *testing.T) {
	cases := []struct {
		status JobStatus
		want   bool
	}{
		{JobPending, false},
		{JobAssigned, true},
		{JobRunning, true},
		{JobCompleted, true},
		{JobFailed, true},
	}
	for _, c := range cases {
		if got := c.status.Assigned(); got != c.want {
			t.Errorf("%s.Assigned() = %t, want %t", c.status, got, c.want)
		}
	}
}

func TestJobStatusTerminal(t *testing.T) {
	for _, s := range []JobStatus{JobPending, JobAssigned, JobRunning} {
		if s.Terminal() {
			t.Errorf("%s must not be terminal", s)
		}
	}
	for _, s := range []JobStatus{JobCompleted, JobFailed} {
		if !s.Terminal() {
			t.Errorf("%s must be terminal", s)
		}
	}
}
