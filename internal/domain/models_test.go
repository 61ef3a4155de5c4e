package domain

import "testing"

func TestTableNames(t *testing.T) {
	if got := (PhoneNumber{}).TableName(); got != "phone_numbers" {
		t.Fatalf("PhoneNumber table = %q", got)
	}
	if got := (Worker{}).TableName(); got != "workers" {
		t.Fatalf("Worker table = %q", got)
	}
	if got := (Run{}).TableName(); got != "runs" {
		t.Fatalf("Run table = %q", got)
	}
}

func TestPhoneNumber_Terminal(t *testing.T) {
	cases := []struct {
		status string
		want   bool
	}{
		{PhonePending, false},
		{PhoneAdded, true},
		{PhoneInvited, true},
		{PhoneBlacklisted, true},
		{PhoneFailed, false},
	}
	for _, tc := range cases {
		p := PhoneNumber{Status: tc.status}
		if got := p.Terminal(); got != tc.want {
			t.Fatalf("Terminal(%q) = %v, want %v", tc.status, got, tc.want)
		}
	}
}

func TestRun_Active(t *testing.T) {
	cases := []struct {
		status string
		want   bool
	}{
		{RunRunning, true},
		{RunPaused, true},
		{RunStopped, false},
		{RunCompleted, false},
	}
	for _, tc := range cases {
		r := Run{Status: tc.status}
		if got := r.Active(); got != tc.want {
			t.Fatalf("Active(%q) = %v, want %v", tc.status, got, tc.want)
		}
	}
}
