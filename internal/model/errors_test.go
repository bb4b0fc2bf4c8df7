package model

import (
	"strings"
	"testing"
	"time"
)

func TestRateLimitErrorMessage(t *testing.T) {
	err := &RateLimitError{RetryAfter: 35 * time.Second}
	if !strings.Contains(err.Error(), "35s") {
		t.Errorf("RateLimitError message %q does not mention the wait", err.Error())
	}
}

func TestSizeLimitErrorMessage(t *testing.T) {
	err := &SizeLimitError{Observed: 2048, Limit: 1024}
	msg := err.Error()
	if !strings.Contains(msg, "2048") || !strings.Contains(msg, "1024") {
		t.Errorf("SizeLimitError message %q should carry observed and limit sizes", msg)
	}
}

func TestExtractErrorMessage(t *testing.T) {
	err := &ExtractError{Diagnostic: "video is unavailable"}
	if !strings.Contains(err.Error(), "video is unavailable") {
		t.Errorf("ExtractError message %q should carry the diagnostic", err.Error())
	}
}

func TestQuotaErrorMessage(t *testing.T) {
	err := &QuotaError{RemainingMB: 12}
	if !strings.Contains(err.Error(), "12 MB") {
		t.Errorf("QuotaError message %q should carry the remaining budget", err.Error())
	}
}
