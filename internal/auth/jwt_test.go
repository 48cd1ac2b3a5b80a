package auth

import (
	"testing"
	"time"
)

func TestIssueParseRoundtrip(t *testing.T) {
	pair, err := Issue("teacher-1", "teacher", "school-a", "leavetrack", "test-key", time.Minute, time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	claims, err := Parse(pair.AccessToken, "test-key", "leavetrack")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if claims.Subject != "teacher-1" || claims.Role != "teacher" || claims.SchoolID != "school-a" {
		t.Errorf("unexpected claims: %+v", claims)
	}
}

func TestParseRejectsBadKeyAndIssuer(t *testing.T) {
	pair, err := Issue("student-1", "student", "school-a", "leavetrack", "test-key", time.Minute, time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	if _, err := Parse(pair.AccessToken, "other-key", "leavetrack"); err == nil {
		t.Error("expected error for wrong signing key")
	}
	if _, err := Parse(pair.AccessToken, "test-key", "other-issuer"); err == nil {
		t.Error("expected error for issuer mismatch")
	}
}

func TestParseRejectsExpired(t *testing.T) {
	pair, err := Issue("student-1", "student", "", "leavetrack", "test-key", -time.Minute, time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := Parse(pair.AccessToken, "test-key", "leavetrack"); err == nil {
		t.Error("expected error for expired token")
	}
}
