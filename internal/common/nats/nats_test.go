package nats

import (
	"strings"
	"testing"

	"paygate/internal/common/events"
)

func TestSubject(t *testing.T) {
	if got := Subject(events.EventDepositCreated); got != "paygate."+events.EventDepositCreated {
		t.Fatalf("unexpected subject %q", got)
	}
}

func TestDefaultStreamConfigCoversPaymentEvents(t *testing.T) {
	cfg := DefaultStreamConfig("PAYGATE")
	if cfg.Name != "PAYGATE" || len(cfg.Subjects) != 1 || cfg.Description == "" {
		t.Fatalf("unexpected config %+v", cfg)
	}

	wildcard := strings.TrimSuffix(cfg.Subjects[0], ">")
	for _, eventType := range []string{
		events.EventDepositCreated,
		events.EventWithdrawCreated,
		events.EventWebhookReceived,
		events.EventTransactionCompleted,
		events.EventTransactionFailed,
		events.EventCallbackForwarded,
		events.EventCallbackFailed,
	} {
		if !strings.HasPrefix(Subject(eventType), wildcard) {
			t.Fatalf("subject %q not captured by stream subjects %v", Subject(eventType), cfg.Subjects)
		}
	}
}
