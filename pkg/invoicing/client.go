package invoicing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/lorisconti/drivehub-backend/pkg/config"
	pkgerrors "github.com/lorisconti/drivehub-backend/pkg/errors"
	"github.com/lorisconti/drivehub-backend/pkg/logger"
)

var (
	errBaseURLRequired = errors.New("invoicing base url is required")
)

// Client talks to the Fatture in Cloud issued-documents API. The provider is
// optional per tenant install: when credentials are absent every call fails
// with a distinguished not-configured error so callers can park invoices
// instead of burning retries.
type Client struct {
	httpClient  *http.Client
	baseURL     string
	accessToken string
	companyRef  string
	vatRuleRef  string
	logger      *logger.Logger
}

// InvoiceParams describes one invoice to issue.
type InvoiceParams struct {
	ExternalRef   string
	CustomerName  string
	CustomerEmail string
	Description   string
	AmountCents   int64
	Currency      string
	IssuedAt      time.Time
}

// Invoice is the provider's view of an issued document.
type Invoice struct {
	ID     string
	Number string
	URL    string
}

// NewClient builds the FIC wrapper. Missing credentials are not an error
// here; they surface per call as CodeProviderNotConfigured.
func NewClient(cfg config.InvoicingConfig, logg *logger.Logger) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errBaseURLRequired
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		httpClient:  &http.Client{Timeout: timeout},
		baseURL:     baseURL,
		accessToken: strings.TrimSpace(cfg.AccessToken),
		companyRef:  strings.TrimSpace(cfg.CompanyRef),
		vatRuleRef:  strings.TrimSpace(cfg.VatRuleRef),
		logger:      logg,
	}, nil
}

// Configured reports whether provider credentials are present.
func (c *Client) Configured() bool {
	return c != nil && c.accessToken != "" && c.companyRef != ""
}

type issuedDocumentRequest struct {
	Data issuedDocumentData `json:"data"`
}

type issuedDocumentData struct {
	Type     string              `json:"type"`
	Entity   issuedDocumentOwner `json:"entity"`
	Date     string              `json:"date"`
	Currency currencyRef         `json:"currency"`
	ItemsL   []issuedDocumentRow `json:"items_list"`
}

type issuedDocumentOwner struct {
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

type currencyRef struct {
	ID string `json:"id"`
}

type issuedDocumentRow struct {
	Name     string          `json:"name"`
	NetPrice decimal.Decimal `json:"net_price"`
	Qty      int             `json:"qty"`
	VatRef   string          `json:"vat,omitempty"`
}

type issuedDocumentResponse struct {
	Data struct {
		ID     json.Number `json:"id"`
		Number json.Number `json:"number"`
		URL    string      `json:"url"`
	} `json:"data"`
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// IssueInvoice creates an issued document for the settled amount.
func (c *Client) IssueInvoice(ctx context.Context, params InvoiceParams) (*Invoice, error) {
	if !c.Configured() {
		return nil, pkgerrors.New(pkgerrors.CodeProviderNotConfigured, "invoicing provider is not configured")
	}
	if params.AmountCents <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invoice amount must be positive")
	}
	if strings.TrimSpace(params.CustomerName) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invoice customer name is required")
	}

	currency := strings.ToUpper(strings.TrimSpace(params.Currency))
	if currency == "" {
		currency = "EUR"
	}
	issuedAt := params.IssuedAt
	if issuedAt.IsZero() {
		issuedAt = time.Now().UTC()
	}

	// provider wants unit amounts, not cents
	net := decimal.NewFromInt(params.AmountCents).Div(decimal.NewFromInt(100))

	body := issuedDocumentRequest{
		Data: issuedDocumentData{
			Type: "invoice",
			Entity: issuedDocumentOwner{
				Name:  params.CustomerName,
				Email: params.CustomerEmail,
			},
			Date:     issuedAt.Format("2006-01-02"),
			Currency: currencyRef{ID: currency},
			ItemsL: []issuedDocumentRow{{
				Name:     params.Description,
				NetPrice: net,
				Qty:      1,
				VatRef:   c.vatRuleRef,
			}},
		},
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encoding invoice request")
	}

	url := fmt.Sprintf("%s/c/%s/issued_documents", c.baseURL, c.companyRef)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "building invoice request")
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
	req.Header.Set("Content-Type", "application/json")

	if c.logger != nil {
		ctx = c.logger.WithFields(ctx, map[string]any{
			"operation":    "issue_invoice",
			"external_ref": params.ExternalRef,
			"amount_cents": params.AmountCents,
		})
		c.logger.Info(ctx, "fic issue invoice")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "calling invoicing provider")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reading invoicing response")
	}

	if resp.StatusCode >= 400 {
		return nil, c.mapHTTPError(resp.StatusCode, raw)
	}

	var decoded issuedDocumentResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decoding invoicing response")
	}
	if decoded.Data.ID.String() == "" {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "invoicing provider returned no document id")
	}

	return &Invoice{
		ID:     decoded.Data.ID.String(),
		Number: decoded.Data.Number.String(),
		URL:    decoded.Data.URL,
	}, nil
}

func (c *Client) mapHTTPError(status int, raw []byte) error {
	var decoded issuedDocumentResponse
	_ = json.Unmarshal(raw, &decoded)
	msg := strings.TrimSpace(decoded.Error.Message)
	if msg == "" {
		msg = fmt.Sprintf("invoicing provider returned status %d", status)
	}

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return pkgerrors.New(pkgerrors.CodeProviderNotConfigured, msg)
	case status == http.StatusTooManyRequests || status >= 500:
		// transient, caller parks the invoice and retries later
		return pkgerrors.New(pkgerrors.CodeDependency, msg)
	default:
		return pkgerrors.New(pkgerrors.CodeValidation, msg)
	}
}
