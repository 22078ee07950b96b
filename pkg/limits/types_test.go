package limits

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestResourceType_Valid(t *testing.T) {
	for _, r := range ResourceTypes {
		if !r.Valid() {
			t.Errorf("%q should be valid", r)
		}
	}
	if ResourceType("tokens").Valid() {
		t.Error("tokens should not be valid")
	}
}

func TestAPIKey_Usable(t *testing.T) {
	now := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		key  *APIKey
		want bool
	}{
		{"nil", nil, false},
		{"active no expiry", &APIKey{Active: true}, true},
		{"inactive", &APIKey{Active: false}, false},
		{"expired", &APIKey{Active: true, ExpiresAt: now.Add(-time.Second)}, false},
		{"expires at now", &APIKey{Active: true, ExpiresAt: now}, false},
		{"expires later", &APIKey{Active: true, ExpiresAt: now.Add(time.Hour)}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.key.Usable(now); got != tt.want {
				t.Errorf("Usable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAPIKey_Ceiling(t *testing.T) {
	k := &APIKey{PerMinute: 1, PerHour: 2, PerDay: 3}

	if k.Ceiling(WindowMinute) != 1 || k.Ceiling(WindowHour) != 2 || k.Ceiling(WindowDay) != 3 {
		t.Errorf("unexpected ceilings: %+v", k)
	}
	if k.Ceiling(WindowMonth) != Unlimited {
		t.Error("month has no key ceiling")
	}
}

func TestDecision_RetryAfterSeconds(t *testing.T) {
	tests := []struct {
		after time.Duration
		want  int64
	}{
		{0, 0},
		{-time.Second, 0},
		{time.Second, 1},
		{1500 * time.Millisecond, 2},
		{time.Nanosecond, 1},
		{45 * time.Second, 45},
	}

	for _, tt := range tests {
		t.Run(tt.after.String(), func(t *testing.T) {
			d := Deny(ReasonRateLimited)
			d.RetryAfter = tt.after
			if got := d.RetryAfterSeconds(); got != tt.want {
				t.Errorf("RetryAfterSeconds() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestDecision_Err(t *testing.T) {
	if err := Admit().Err(); err != nil {
		t.Errorf("admitted decision Err() = %v, want nil", err)
	}

	err := Deny(ReasonQuotaExceeded).WithUsage(1000, 1000).Err()
	if !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("Err() = %v, want ErrQuotaExceeded", err)
	}

	var le *LimitError
	if !errors.As(err, &le) {
		t.Fatalf("Err() is not a *LimitError: %T", err)
	}
	if le.Limit != 1000 || le.Current != 1000 {
		t.Errorf("LimitError = %+v", le)
	}
	if !strings.Contains(err.Error(), "current=1000, limit=1000") {
		t.Errorf("Error() = %q", err.Error())
	}
}

func TestDecision_String(t *testing.T) {
	overage := Admit()
	overage.Overage = true

	tests := []struct {
		d    Decision
		want string
	}{
		{Admit(), "admitted"},
		{overage, "admitted (overage)"},
		{Deny(ReasonKeyInvalid), "denied (key_invalid)"},
	}
	for _, tt := range tests {
		if got := tt.d.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}

func TestReasonError(t *testing.T) {
	tests := []struct {
		reason Reason
		want   error
	}{
		{ReasonNone, nil},
		{ReasonRateLimited, ErrRateLimited},
		{ReasonQuotaExceeded, ErrQuotaExceeded},
		{ReasonKeyInvalid, ErrKeyInvalid},
		{ReasonInternalError, ErrInternal},
		{Reason("mystery"), ErrInternal},
	}
	for _, tt := range tests {
		if got := ReasonError(tt.reason); got != tt.want {
			t.Errorf("ReasonError(%q) = %v, want %v", tt.reason, got, tt.want)
		}
	}
}

func TestStoreErrorClassification(t *testing.T) {
	cause := errors.New("connection refused")

	outage := NewStoreError("redis", "increment", "rate:acme:k1:minute:1", Unavailable(cause))
	if !IsStoreUnavailable(outage) {
		t.Error("wrapped outage should be classified unavailable")
	}
	if !errors.Is(outage, cause) {
		t.Error("outage should still unwrap to its cause")
	}
	if !strings.Contains(outage.Error(), "key=rate:acme:k1:minute:1") {
		t.Errorf("Error() = %q", outage.Error())
	}

	internal := NewStoreError("sqlite", "peek", "", errors.New("malformed row"))
	if IsStoreUnavailable(internal) {
		t.Error("unclassified store error must not count as an outage")
	}

	twice := Unavailable(Unavailable(cause))
	if strings.Count(twice.Error(), ErrStoreUnavailable.Error()) != 1 {
		t.Errorf("Unavailable should not wrap twice: %q", twice.Error())
	}
	if Unavailable(nil) != nil {
		t.Error("Unavailable(nil) should be nil")
	}
}

func TestIsNotFound(t *testing.T) {
	if !IsNotFound(fmt.Errorf("tenant %q: %w", "acme", ErrNotFound)) {
		t.Error("wrapped ErrNotFound should match")
	}
	if IsNotFound(ErrKeyInvalid) {
		t.Error("ErrKeyInvalid is not a lookup miss")
	}
}
