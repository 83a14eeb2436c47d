package payment

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"paygate/internal/gateway"
)

// ErrInvalidWebhook is returned for webhook bodies that cannot be normalized.
var ErrInvalidWebhook = errors.New("invalid webhook payload")

type bibpayWebhook struct {
	RefCode       string          `json:"ref_code"`
	TransactionID string          `json:"transaction_id"`
	Status        string          `json:"status"`
	Message       string          `json:"message"`
	Amount        decimal.Decimal `json:"amount"`
	BankCode      string          `json:"bank_code"`
	AccountNumber string          `json:"account_number"`
	AccountName   string          `json:"account_name"`
}

type payonexWebhook struct {
	Type    string `json:"type"`
	Status  string `json:"status"`
	Message string `json:"message"`
	Data    struct {
		ReferenceID   string          `json:"referenceId"`
		TransactionID string          `json:"transactionId"`
		Amount        decimal.Decimal `json:"amount"`
		Customer      struct {
			Name      string `json:"name"`
			BankCode  string `json:"bankCode"`
			AccountNo string `json:"accountNo"`
		} `json:"customer"`
	} `json:"data"`
}

// Normalize converts a provider webhook body into the callback shape. It is the
// one place that switches on the provider; Bank.Code is still in the provider's
// dialect. TransactionType is set only when the provider states it.
func Normalize(gatewayType string, raw []byte) (*CallbackPayload, error) {
	var p CallbackPayload

	switch strings.ToLower(gatewayType) {
	case gateway.BibPay:
		var w bibpayWebhook
		if err := json.Unmarshal(raw, &w); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidWebhook, err)
		}
		p = CallbackPayload{
			Status:        bibpayStatus(w.Status),
			Message:       w.Message,
			TransactionID: w.TransactionID,
			RefCode:       w.RefCode,
			Amount:        w.Amount,
			Bank:          CallbackBank{Code: w.BankCode},
			BankNumber:    w.AccountNumber,
			AccountName:   w.AccountName,
		}

	case gateway.PayOneX:
		var w payonexWebhook
		if err := json.Unmarshal(raw, &w); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidWebhook, err)
		}
		p = CallbackPayload{
			Status:          payonexStatus(w.Status),
			Message:         w.Message,
			TransactionType: payonexKind(w.Type),
			TransactionID:   w.Data.TransactionID,
			RefCode:         w.Data.ReferenceID,
			Amount:          w.Data.Amount,
			Bank:            CallbackBank{Code: w.Data.Customer.BankCode},
			BankNumber:      w.Data.Customer.AccountNo,
			AccountName:     w.Data.Customer.Name,
		}

	default:
		return nil, fmt.Errorf("%w: %s", gateway.ErrUnsupportedGateway, gatewayType)
	}

	p.RefCode = strings.TrimSpace(p.RefCode)
	if p.RefCode == "" {
		return nil, fmt.Errorf("%w: missing reference code", ErrInvalidWebhook)
	}
	if p.Message == "" {
		p.Message = string(p.Status)
	}
	return &p, nil
}

// BibPay marks success with the literal "success".
func bibpayStatus(s string) Status {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "success":
		return StatusCompleted
	case "failed", "fail", "cancelled", "canceled", "expired", "rejected":
		return StatusFail
	default:
		return StatusPending
	}
}

func payonexStatus(s string) Status {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "SUCCESS":
		return StatusCompleted
	case "FAILED", "REJECTED", "CANCELLED", "EXPIRED":
		return StatusFail
	default:
		return StatusPending
	}
}

func payonexKind(s string) Kind {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEPOSIT":
		return KindDeposit
	case "WITHDRAW", "WITHDRAWAL":
		return KindWithdraw
	default:
		return ""
	}
}
