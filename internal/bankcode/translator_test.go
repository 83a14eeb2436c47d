package bankcode

import (
	"context"
	"errors"
	"testing"
)

func testTable() *StaticStore {
	return NewStaticStore([]Bank{
		{Code: "004", Name: "Kasikorn Bank", ProviderCodes: map[string]string{"bibpay": "KBANK", "PayOneX": "KBNK"}},
		{Code: "014", Name: "Siam Commercial Bank", ProviderCodes: map[string]string{"bibpay": "SCB", "payonex": "SCB"}},
		{Code: "030", Name: "Government Savings Bank", ProviderCodes: map[string]string{"bibpay": "GSB"}},
	})
}

func TestTranslator_Translate(t *testing.T) {
	tr := NewTranslator(testTable())
	ctx := context.Background()

	tests := []struct {
		name     string
		code     string
		provider string
		want     string
	}{
		{name: "canonical to bibpay", code: "004", provider: "bibpay", want: "KBANK"},
		{name: "canonical to payonex", code: "004", provider: "payonex", want: "KBNK"},
		{name: "provider id is case insensitive", code: "014", provider: "BibPay", want: "SCB"},
		{name: "native code passes through", code: "KBANK", provider: "bibpay", want: "KBANK"},
		{name: "native code of other dialect", code: "KBNK", provider: "payonex", want: "KBNK"},
		{name: "surrounding whitespace trimmed", code: " 004 ", provider: "bibpay", want: "KBANK"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tr.Translate(ctx, tt.code, tt.provider)
			if err != nil {
				t.Fatalf("Translate returned error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestTranslator_TranslateIsIdempotent(t *testing.T) {
	tr := NewTranslator(testTable())
	ctx := context.Background()

	once, err := tr.Translate(ctx, "004", "bibpay")
	if err != nil {
		t.Fatalf("first translate: %v", err)
	}
	twice, err := tr.Translate(ctx, once, "bibpay")
	if err != nil {
		t.Fatalf("second translate: %v", err)
	}
	if once != twice {
		t.Fatalf("expected translating a native code to be a no-op, got %q then %q", once, twice)
	}
}

func TestTranslator_Unsupported(t *testing.T) {
	tr := NewTranslator(testTable())
	ctx := context.Background()

	tests := []struct {
		name     string
		code     string
		provider string
	}{
		{name: "unknown canonical code", code: "999", provider: "bibpay"},
		{name: "no mapping for provider", code: "030", provider: "payonex"},
		{name: "native code from another dialect", code: "KBNK", provider: "bibpay"},
		{name: "lowercase native code is not fuzzy matched", code: "kbank", provider: "bibpay"},
		{name: "empty code", code: "", provider: "bibpay"},
		{name: "unknown provider", code: "004", provider: "nope"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tr.Translate(ctx, tt.code, tt.provider)
			if !errors.Is(err, ErrUnsupportedBankCode) {
				t.Fatalf("expected ErrUnsupportedBankCode, got %v", err)
			}
		})
	}
}

func TestTranslator_Resolve(t *testing.T) {
	tr := NewTranslator(testTable())

	bank, err := tr.Resolve(context.Background(), "KBNK", "payonex")
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if bank.Code != "004" || bank.Name != "Kasikorn Bank" {
		t.Fatalf("unexpected bank %+v", bank)
	}
}

func TestParse(t *testing.T) {
	data := []byte(`
banks:
  - code: "004"
    name: Kasikorn Bank
    providers:
      bibpay: KBANK
      payonex: KBNK
`)
	banks, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if len(banks) != 1 || banks[0].ProviderCodes["payonex"] != "KBNK" {
		t.Fatalf("unexpected banks: %+v", banks)
	}

	if _, err := Parse([]byte("banks:\n  - code: KBANK\n    name: x\n")); err == nil {
		t.Fatal("expected error for non-numeric canonical code")
	}
	if _, err := Parse([]byte("banks:\n  - code: \"004\"\n    providers:\n      bibpay: \"123\"\n")); err == nil {
		t.Fatal("expected error for numeric provider code")
	}
}
