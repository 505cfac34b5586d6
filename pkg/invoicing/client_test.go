package invoicing

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/lorisconti/drivehub-backend/pkg/config"
	pkgerrors "github.com/lorisconti/drivehub-backend/pkg/errors"
)

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	c, err := NewClient(config.InvoicingConfig{
		BaseURL:     baseURL,
		AccessToken: "token",
		CompanyRef:  "42",
		VatRuleRef:  "N4",
		Timeout:     2 * time.Second,
	}, nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return c
}

func TestIssueInvoiceNotConfigured(t *testing.T) {
	c, err := NewClient(config.InvoicingConfig{BaseURL: "https://example.test"}, nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	_, err = c.IssueInvoice(context.Background(), InvoiceParams{
		CustomerName: "Mario Rossi",
		AmountCents:  4500,
	})
	if !pkgerrors.IsCode(err, pkgerrors.CodeProviderNotConfigured) {
		t.Fatalf("expected provider-not-configured, got %v", err)
	}
}

func TestIssueInvoiceSuccess(t *testing.T) {
	var captured map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/c/42/issued_documents" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer token" {
			t.Errorf("unexpected auth header %q", got)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":{"id":981,"number":7,"url":"https://fic.test/doc/981"}}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	inv, err := c.IssueInvoice(context.Background(), InvoiceParams{
		ExternalRef:  "appt-1",
		CustomerName: "Mario Rossi",
		Description:  "Guida del 2026-02-10",
		AmountCents:  4550,
		Currency:     "eur",
		IssuedAt:     time.Date(2026, 2, 11, 9, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("issue invoice: %v", err)
	}
	if inv.ID != "981" || inv.Number != "7" {
		t.Fatalf("unexpected invoice %+v", inv)
	}

	data := captured["data"].(map[string]any)
	if data["date"] != "2026-02-11" {
		t.Errorf("unexpected date %v", data["date"])
	}
	items := data["items_list"].([]any)
	row := items[0].(map[string]any)
	// 4550 cents must be sent as 45.5 units
	if row["net_price"].(float64) != 45.5 {
		t.Errorf("unexpected net price %v", row["net_price"])
	}
}

func TestIssueInvoiceTransientFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	_, err := c.IssueInvoice(context.Background(), InvoiceParams{
		CustomerName: "Mario Rossi",
		AmountCents:  4500,
	})
	if !pkgerrors.IsCode(err, pkgerrors.CodeDependency) {
		t.Fatalf("expected dependency error, got %v", err)
	}
}

func TestIssueInvoiceBadCredentials(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"message":"invalid token"}}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	_, err := c.IssueInvoice(context.Background(), InvoiceParams{
		CustomerName: "Mario Rossi",
		AmountCents:  4500,
	})
	if !pkgerrors.IsCode(err, pkgerrors.CodeProviderNotConfigured) {
		t.Fatalf("expected provider-not-configured, got %v", err)
	}
}

func TestIssueInvoiceValidation(t *testing.T) {
	c := newTestClient(t, "https://example.test")
	_, err := c.IssueInvoice(context.Background(), InvoiceParams{CustomerName: "Mario Rossi"})
	if !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error for zero amount, got %v", err)
	}
}
