package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"paygate/internal/common/events"
	"paygate/internal/common/metrics"
	"paygate/internal/gateway"
)

// HeaderTokenID carries the originating token on forwarded callbacks.
const HeaderTokenID = "X-Token-ID"

// forward posts payload to the transaction's callback URL in the background.
// Delivery is attempted once and never blocks the webhook acknowledgement.
func (e *Engine) forward(tx *Transaction, payload *CallbackPayload) {
	body, err := json.Marshal(payload)
	if err != nil {
		e.logger.Error("failed to encode callback payload", "ref_code", tx.RefCode, "error", err)
		return
	}

	e.forwards.Add(1)
	go func() {
		defer e.forwards.Done()

		ctx, cancel := context.WithTimeout(context.Background(), e.config.CallbackTimeout)
		defer cancel()

		started := time.Now()
		status, err := e.deliver(ctx, tx.CallbackURL, tx.TokenID, body)

		data := events.CallbackData{
			RefCode:     tx.RefCode,
			Kind:        string(tx.Kind),
			CallbackURL: tx.CallbackURL,
			StatusCode:  status,
		}
		if err != nil {
			metrics.CallbacksTotal.WithLabelValues(tx.GatewayType, "failed").Inc()
			e.logger.Warn("callback delivery failed",
				"ref_code", tx.RefCode,
				"callback_url", tx.CallbackURL,
				"duration_ms", time.Since(started).Milliseconds(),
				"error", err,
			)
			data.Error = err.Error()
			e.publish(context.Background(), events.EventCallbackFailed, tx.TokenID, events.AggregateTransaction, tx.ID, data)
			return
		}

		metrics.CallbacksTotal.WithLabelValues(tx.GatewayType, "delivered").Inc()
		e.logger.Info("callback delivered",
			"ref_code", tx.RefCode,
			"callback_url", tx.CallbackURL,
			"status", status,
			"duration_ms", time.Since(started).Milliseconds(),
		)
		e.publish(context.Background(), events.EventCallbackForwarded, tx.TokenID, events.AggregateTransaction, tx.ID, data)
	}()
}

func (e *Engine) deliver(ctx context.Context, url, tokenID string, body []byte) (int, error) {
	header := http.Header{}
	header.Set(HeaderTokenID, tokenID)

	resp, err := gateway.DoJSON(ctx, e.callbacks, http.MethodPost, url, header, body)
	if err != nil {
		return 0, err
	}
	if !resp.OK() {
		return resp.StatusCode, fmt.Errorf("callback returned HTTP %d", resp.StatusCode)
	}
	return resp.StatusCode, nil
}

// Drain waits for in-flight callback deliveries or until ctx is done.
func (e *Engine) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		e.forwards.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
