package portal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// DefaultBaseURL is the billing portal host.
const DefaultBaseURL = "https://portal.withorb.com"

// ErrNoPricingUnit is returned when the customer carries no ledger pricing unit.
var ErrNoPricingUnit = errors.New("portal: customer has no pricing unit")

// Customer is the subset of customer_from_link used to locate the ledger.
type Customer struct {
	ID                 string        `json:"id"`
	LedgerPricingUnits []PricingUnit `json:"ledger_pricing_units"`
}

// PricingUnit identifies a credit ledger.
type PricingUnit struct {
	ID string `json:"id"`
}

// CreditBlock is one grant of credits.
type CreditBlock struct {
	IsActive   bool   `json:"is_active"`
	ExpiryDate string `json:"expiry_date"`
}

// LedgerSummary is the balance view of a customer ledger.
type LedgerSummary struct {
	CreditsBalance Balance       `json:"credits_balance"`
	CreditBlocks   []CreditBlock `json:"credit_blocks"`
}

// Balance accepts the balance either as a decimal string or a JSON number.
type Balance string

func (b *Balance) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*b = Balance(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("credits_balance: %w", err)
	}
	*b = Balance(n.String())
	return nil
}

// Int truncates the balance at the decimal point; unparsable values are 0.
func (b Balance) Int() int {
	s := string(b)
	if i := strings.IndexByte(s, '.'); i >= 0 {
		s = s[:i]
	}
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0
	}
	return n
}

// Client fetches billing data for a portal link token.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient constructs a portal client. An empty baseURL uses DefaultBaseURL.
func NewClient(baseURL string, client *http.Client) *Client {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{baseURL: baseURL, httpClient: client}
}

// TokenFromPortalURL extracts the token query parameter of a portal link.
func TokenFromPortalURL(portalURL string) (string, error) {
	if strings.TrimSpace(portalURL) == "" {
		return "", errors.New("portal: token has no portal_url")
	}
	u, err := url.Parse(portalURL)
	if err != nil {
		return "", fmt.Errorf("portal: parse portal_url: %w", err)
	}
	token := u.Query().Get("token")
	if token == "" {
		return "", errors.New("portal: portal_url has no token parameter")
	}
	return token, nil
}

// CustomerFromLink resolves the customer behind a link token.
func (c *Client) CustomerFromLink(ctx context.Context, linkToken string) (*Customer, error) {
	q := url.Values{}
	q.Set("token", linkToken)
	var out struct {
		Customer *Customer `json:"customer"`
	}
	if err := c.getJSON(ctx, "/api/v1/customer_from_link?"+q.Encode(), linkToken, &out); err != nil {
		return nil, fmt.Errorf("customer from link: %w", err)
	}
	if out.Customer == nil {
		return &Customer{}, nil
	}
	return out.Customer, nil
}

// LedgerSummary loads the balance for the customer's first pricing unit.
func (c *Client) LedgerSummary(ctx context.Context, customer *Customer, linkToken string) (*LedgerSummary, error) {
	if customer == nil || len(customer.LedgerPricingUnits) == 0 {
		return nil, ErrNoPricingUnit
	}
	q := url.Values{}
	q.Set("pricing_unit_id", customer.LedgerPricingUnits[0].ID)
	q.Set("token", linkToken)
	path := "/api/v1/customers/" + url.PathEscape(customer.ID) + "/ledger_summary?" + q.Encode()

	var out LedgerSummary
	if err := c.getJSON(ctx, path, linkToken, &out); err != nil {
		return nil, fmt.Errorf("ledger summary: %w", err)
	}
	return &out, nil
}

func (c *Client) getJSON(ctx context.Context, path, linkToken string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json, text/plain, */*")
	req.Header.Set("Origin", c.baseURL)
	req.Header.Set("Referer", c.baseURL+"/view?token="+url.QueryEscape(linkToken))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
