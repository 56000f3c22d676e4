package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/chokdee888/backend/internal/config"
)

var (
	// ErrTransferFailed covers every non-success transfer outcome, including
	// timeouts. Callers treat it as retryable through the outbox, never by
	// re-invoking the mutation directly.
	ErrTransferFailed = errors.New("external wallet transfer failed")

	// ErrRegisterFailed means the upstream refused to provision the player.
	ErrRegisterFailed = errors.New("external wallet registration failed")
)

// Adapter is the narrow surface the ledger core needs from the upstream
// gaming wallet. Transfer must be safe to retry with the same ref: the
// upstream de-duplicates by ref, and a "duplicate reference" response is
// reported as success here.
type Adapter interface {
	Provision(ctx context.Context, phone string) (string, error)
	Transfer(ctx context.Context, username string, amount int64, ref string) error
	GetBalance(ctx context.Context, username string) (int64, error)
}

// Client talks to the upstream wallet's form-encoded v4 API.
type Client struct {
	cfg  *config.WalletConfig
	http *http.Client
}

func NewClient(cfg *config.WalletConfig) *Client {
	return &Client{
		cfg: cfg,
		http: &http.Client{
			Timeout: cfg.RequestTimeout,
		},
	}
}

type apiResponse struct {
	Status    string          `json:"status"`
	Msg       string          `json:"msg"`
	ErrorCode int             `json:"error_code"`
	Data      json.RawMessage `json:"data"`
}

// Provision registers the player upstream and returns the full wallet
// username the upstream assigned. The short username sent is the configured
// prefix plus the last six digits of the phone number.
func (c *Client) Provision(ctx context.Context, phone string) (string, error) {
	short := c.cfg.UserPrefix + lastN(phone, 6)

	params := url.Values{}
	params.Set("username", short)
	params.Set("password", phone)

	resp, err := c.post(ctx, "/v4/user/register", params)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRegisterFailed, err)
	}

	if resp.Status != "success" {
		log.Printf("[WALLET] Register failed for %s: code=%d msg=%s", short, resp.ErrorCode, resp.Msg)
		return "", fmt.Errorf("%w: %s", ErrRegisterFailed, resp.Msg)
	}

	var data struct {
		Username string `json:"username"`
	}
	if err := json.Unmarshal(resp.Data, &data); err != nil || data.Username == "" {
		return "", fmt.Errorf("%w: malformed register response", ErrRegisterFailed)
	}
	return data.Username, nil
}

// Transfer moves credit in (positive amount) or out (negative amount) of the
// player's upstream wallet. Amounts are satang; the upstream API speaks baht.
func (c *Client) Transfer(ctx context.Context, username string, amount int64, ref string) error {
	params := url.Values{}
	params.Set("username", username)
	params.Set("amount", formatBaht(amount))
	params.Set("ref", ref)

	resp, err := c.post(ctx, "/v4/user/transfer", params)
	if err != nil {
		// Timeouts are failures, not unknowns. The mutation aborts and any
		// retry runs through the outbox with the same ref.
		log.Printf("[WALLET] Transfer error for %s ref=%s: %v", username, ref, err)
		return fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}

	if resp.Status == "success" {
		return nil
	}

	// The upstream rejects a ref it has already applied. That means the
	// transfer happened; a retry must not fail the caller.
	if resp.ErrorCode == c.cfg.DuplicateRefCode {
		log.Printf("[WALLET] Transfer ref=%s already applied upstream", ref)
		return nil
	}

	log.Printf("[WALLET] Transfer failed for %s ref=%s: code=%d msg=%s", username, ref, resp.ErrorCode, resp.Msg)
	return fmt.Errorf("%w: %s", ErrTransferFailed, resp.Msg)
}

// GetBalance reads the player's upstream balance in satang.
func (c *Client) GetBalance(ctx context.Context, username string) (int64, error) {
	params := url.Values{}
	params.Set("username", username)

	resp, err := c.post(ctx, "/v4/user/balance", params)
	if err != nil {
		return 0, err
	}
	if resp.Status != "success" {
		return 0, fmt.Errorf("wallet balance enquiry failed: %s", resp.Msg)
	}

	var data struct {
		Balance string `json:"balance"`
	}
	if err := json.Unmarshal(resp.Data, &data); err != nil {
		return 0, fmt.Errorf("malformed balance response: %w", err)
	}
	satang, err := parseBaht(data.Balance)
	if err != nil {
		return 0, fmt.Errorf("malformed balance %q: %w", data.Balance, err)
	}
	return satang, nil
}

// Status checks upstream connectivity and latency.
func (c *Client) Status(ctx context.Context) (bool, time.Duration, error) {
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/v4/status", nil)
	if err != nil {
		return false, 0, err
	}
	c.setHeaders(req)

	httpResp, err := c.http.Do(req)
	latency := time.Since(start)
	if err != nil {
		return false, latency, err
	}
	defer httpResp.Body.Close()

	var resp apiResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return false, latency, err
	}
	return resp.Status == "success", latency, nil
}

func (c *Client) post(ctx context.Context, path string, params url.Values) (*apiResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, strings.NewReader(params.Encode()))
	if err != nil {
		return nil, err
	}
	c.setHeaders(req)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	httpResp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("upstream returned status %d", httpResp.StatusCode)
	}

	var resp apiResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("malformed upstream response: %w", err)
	}
	return &resp, nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("x-api-key", c.cfg.APIKey)
	req.Header.Set("x-api-cat", c.cfg.APICat)
}

func lastN(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

func formatBaht(satang int64) string {
	return strconv.FormatFloat(float64(satang)/100, 'f', 2, 64)
}

// parseBaht converts an upstream "1,234.56" baht string to satang without
// floating point, so amounts like 19.99 survive exactly.
func parseBaht(s string) (int64, error) {
	s = strings.ReplaceAll(s, ",", "")
	whole := s
	frac := "00"
	if i := strings.IndexByte(s, '.'); i >= 0 {
		whole = s[:i]
		switch f := s[i+1:]; len(f) {
		case 0:
		case 1:
			frac = f + "0"
		default:
			frac = f[:2]
		}
	}
	if whole == "" {
		whole = "0"
	}
	baht, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, err
	}
	satang, err := strconv.ParseInt(frac, 10, 64)
	if err != nil {
		return 0, err
	}
	return baht*100 + satang, nil
}
