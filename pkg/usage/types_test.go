package usage

import (
	"errors"
	"testing"
	"time"

	"mercator-hq/turnstile/pkg/limits"
)

var testTime = time.Date(2026, 3, 14, 10, 30, 0, 0, time.FixedZone("CET", 3600))

func TestNewEvent(t *testing.T) {
	admitted := NewEvent("org-1", "key-1", limits.ResourceAPICall, 2, testTime, limits.Admit())
	if admitted.ID == "" {
		t.Error("Expected an event ID")
	}
	if admitted.Outcome != OutcomeAdmitted || admitted.DenialReason != "" {
		t.Errorf("Expected admitted without reason, got %s/%s", admitted.Outcome, admitted.DenialReason)
	}
	if admitted.Timestamp.Location() != time.UTC || !admitted.Timestamp.Equal(testTime) {
		t.Errorf("Expected UTC timestamp equal to input, got %v", admitted.Timestamp)
	}

	denied := NewEvent("org-1", "key-1", limits.ResourceAPICall, 1, testTime, limits.Deny(limits.ReasonRateLimited))
	if denied.Outcome != OutcomeDenied || denied.DenialReason != limits.ReasonRateLimited {
		t.Errorf("Expected denied rate_limited, got %s/%s", denied.Outcome, denied.DenialReason)
	}
	if denied.ID == admitted.ID {
		t.Error("Expected unique event IDs")
	}

	overage := limits.Admit()
	overage.Overage = true
	if e := NewEvent("org-1", "key-1", limits.ResourceAPICall, 1, testTime, overage); !e.Overage {
		t.Error("Expected overage flag carried to the event")
	}
}

func TestEvent_Validate(t *testing.T) {
	valid := func() *Event {
		return NewEvent("org-1", "key-1", limits.ResourceAPICall, 1, testTime, limits.Admit())
	}

	tests := []struct {
		name   string
		mutate func(e *Event)
		field  string
	}{
		{"valid", func(e *Event) {}, ""},
		{"missing id", func(e *Event) { e.ID = "" }, "id"},
		{"missing tenant", func(e *Event) { e.TenantID = "" }, "tenant_id"},
		{"zero timestamp", func(e *Event) { e.Timestamp = time.Time{} }, "timestamp"},
		{"bad outcome", func(e *Event) { e.Outcome = "maybe" }, "outcome"},
		{"denied without reason", func(e *Event) { e.Outcome = OutcomeDenied }, "denial_reason"},
		{"admitted with reason", func(e *Event) { e.DenialReason = limits.ReasonQuotaExceeded }, "denial_reason"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := valid()
			tt.mutate(e)
			err := e.Validate()
			if tt.field == "" {
				if err != nil {
					t.Fatalf("Expected valid event, got %v", err)
				}
				return
			}
			var validationErr *ValidationError
			if !errors.As(err, &validationErr) {
				t.Fatalf("Expected ValidationError, got %v", err)
			}
			if validationErr.Field != tt.field {
				t.Errorf("Expected field %s, got %s", tt.field, validationErr.Field)
			}
		})
	}
}

func TestSummarize(t *testing.T) {
	overage := limits.Admit()
	overage.Overage = true

	events := []*Event{
		NewEvent("org-2", "k", limits.ResourceAPICall, 1, testTime, limits.Admit()),
		NewEvent("org-1", "k", limits.ResourceContractAnalysis, 3, testTime, limits.Admit()),
		NewEvent("org-1", "k", limits.ResourceContractAnalysis, 2, testTime, overage),
		NewEvent("org-1", "k", limits.ResourceContractAnalysis, 5, testTime, limits.Deny(limits.ReasonQuotaExceeded)),
		NewEvent("org-1", "k", limits.ResourceAPICall, 1, testTime, limits.Deny(limits.ReasonRateLimited)),
	}

	got := Summarize(events)
	want := []Summary{
		{TenantID: "org-1", Resource: limits.ResourceAPICall, Denied: 1},
		{TenantID: "org-1", Resource: limits.ResourceContractAnalysis, Admitted: 2, Denied: 1, Amount: 5, Overage: 2},
		{TenantID: "org-2", Resource: limits.ResourceAPICall, Admitted: 1, Amount: 1},
	}

	if len(got) != len(want) {
		t.Fatalf("Expected %d summaries, got %d: %+v", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Summary %d: expected %+v, got %+v", i, want[i], got[i])
		}
	}
}
