package security

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newAlerter(t *testing.T) *AuditAlerter {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	alerter := NewAuditAlerter(client, "test:alerts")
	if alerter == nil {
		t.Fatalf("expected alerter")
	}
	return alerter
}

func TestAuditAlerterObserveTriggers(t *testing.T) {
	alerter := newAlerter(t)
	var lastTriggered bool
	for i := 0; i < 10; i++ {
		result, err := alerter.Observe(context.Background(), EventLogin, OutcomeFail, "127.0.0.1")
		if err != nil {
			t.Fatalf("observe: %v", err)
		}
		if i < 9 && result.Triggered {
			t.Fatalf("triggered early at attempt %d", i+1)
		}
		lastTriggered = result.Triggered
	}
	if !lastTriggered {
		t.Fatalf("expected alert threshold to trigger")
	}
}

func TestAuditAlerterLinkRedeemHasTighterThreshold(t *testing.T) {
	alerter := newAlerter(t)
	var result AlertResult
	var err error
	for i := 0; i < 5; i++ {
		result, err = alerter.Observe(context.Background(), EventLinkRedeem, OutcomeFail, "doctor:9")
		if err != nil {
			t.Fatalf("observe: %v", err)
		}
	}
	if !result.Triggered || result.Threshold != 5 {
		t.Fatalf("expected trigger at 5 misses, got %+v", result)
	}
}

func TestAuditAlerterObserveIgnoresUnknownRule(t *testing.T) {
	alerter := newAlerter(t)
	result, err := alerter.Observe(context.Background(), "auth.custom", OutcomeSuccess, "127.0.0.1")
	if err != nil {
		t.Fatalf("observe: %v", err)
	}
	if result.Triggered || result.Count != 0 {
		t.Fatalf("unexpected trigger for unknown rule")
	}
}

func TestNilAlerterObservesNothing(t *testing.T) {
	var alerter *AuditAlerter
	if NewAuditAlerter(nil, "") != nil {
		t.Fatalf("expected nil alerter without client")
	}
	if _, err := alerter.Observe(context.Background(), EventLogin, OutcomeFail, "x"); err != nil {
		t.Fatalf("nil alerter: %v", err)
	}
}
