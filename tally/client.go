package tally

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"
)

const (
	// Tally accepts connections quickly but can take minutes to answer a
	// large voucher export, so connect and read timeouts differ by an
	// order of magnitude.
	defaultConnectTimeout = 10 * time.Second
	defaultReadTimeout    = 300 * time.Second
)

// Client talks to a single Tally Prime instance (host:port).
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient builds a client for one Tally host. Timeouts can be tuned via
// TALLY_CONNECT_TIMEOUT_SECONDS and TALLY_READ_TIMEOUT_SECONDS.
func NewClient(host string, port int) *Client {
	connectTimeout := durationFromEnv("TALLY_CONNECT_TIMEOUT_SECONDS", defaultConnectTimeout)
	readTimeout := durationFromEnv("TALLY_READ_TIMEOUT_SECONDS", defaultReadTimeout)

	dialer := &net.Dialer{Timeout: connectTimeout}
	transport := &http.Transport{
		DialContext:           dialer.DialContext,
		ResponseHeaderTimeout: readTimeout,
	}
	return &Client{
		baseURL: fmt.Sprintf("http://%s:%d", host, port),
		http: &http.Client{
			Timeout:   readTimeout,
			Transport: transport,
		},
	}
}

func durationFromEnv(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return time.Duration(n) * time.Second
}

func (c *Client) post(ctx context.Context, xmlBody string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, strings.NewReader(xmlBody))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "text/xml; charset=utf-8")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("tally returned HTTP %d: %s", resp.StatusCode, truncate(strings.TrimSpace(string(body)), 200))
	}
	return string(body), nil
}

func isConnectionError(err error) bool {
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.EHOSTUNREACH) || errors.Is(err, syscall.ENETUNREACH) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "dial"
}

func isTimeoutError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// transportError maps a raw transport failure to an error whose message a
// user can act on. The next scheduled tick is the retry mechanism; the
// client never retries on its own.
func (c *Client) transportError(err error) error {
	switch {
	case isTimeoutError(err):
		return fmt.Errorf("connection timed out to %s", c.baseURL)
	case isConnectionError(err):
		return fmt.Errorf("cannot connect to Tally at %s. Is Tally running with HTTP server enabled?", c.baseURL)
	default:
		return err
	}
}

// TestConnection checks connectivity by listing open companies.
// Returns (success, message, openCompanies, detectedVersion).
func (c *Client) TestConnection(ctx context.Context) (bool, string, []string, string) {
	raw, err := c.post(ctx, BuildGetCompanies())
	if err != nil {
		switch {
		case isTimeoutError(err):
			return false, fmt.Sprintf("Connection timed out to %s", c.baseURL), nil, ""
		case isConnectionError(err):
			return false, fmt.Sprintf("Cannot connect to Tally at %s. Is Tally running with HTTP server enabled?", c.baseURL), nil, ""
		default:
			logg().WithField("module", "tally").Errorf("TestConnection failed: %v", err)
			return false, err.Error(), nil, ""
		}
	}
	companies := ParseCompanies(raw)
	version := ParseTallyVersion(raw)
	message := "Connected to Tally"
	if version != "" {
		message += " v" + version
	}
	return true, message, companies, version
}

// FetchStockItems pulls all stock items with closing balances.
func (c *Client) FetchStockItems(ctx context.Context, companyName string) ([]StockItem, error) {
	raw, err := c.post(ctx, BuildGetStockItems(companyName))
	if err != nil {
		logg().WithField("module", "tally").Errorf("FetchStockItems failed for %q: %v", companyName, err)
		return nil, c.transportError(err)
	}
	items := ParseStockItems(raw)
	logg().WithField("module", "tally").Infof("Fetched %d stock items from %q", len(items), companyName)
	return items, nil
}

// FetchLedgers pulls all ledgers (parties).
func (c *Client) FetchLedgers(ctx context.Context, companyName string) ([]Ledger, error) {
	raw, err := c.post(ctx, BuildGetLedgers(companyName))
	if err != nil {
		logg().WithField("module", "tally").Errorf("FetchLedgers failed for %q: %v", companyName, err)
		return nil, c.transportError(err)
	}
	ledgers := ParseLedgers(raw)
	logg().WithField("module", "tally").Infof("Fetched %d ledgers from %q", len(ledgers), companyName)
	return ledgers, nil
}

// FetchVouchers pulls vouchers of one type for the last daysBack days.
func (c *Client) FetchVouchers(ctx context.Context, companyName string, voucherType string, daysBack int) ([]Voucher, error) {
	toDate := time.Now()
	fromDate := toDate.AddDate(0, 0, -daysBack)
	raw, err := c.post(ctx, BuildGetVouchers(companyName, voucherType, fromDate, toDate))
	if err != nil {
		logg().WithField("module", "tally").Errorf("FetchVouchers failed for %q: %v", companyName, err)
		return nil, c.transportError(err)
	}
	vouchers := ParseVouchers(raw)
	logg().WithField("module", "tally").Infof("Fetched %d %q vouchers from %q", len(vouchers), voucherType, companyName)
	return vouchers, nil
}

// PushSalesOrder creates a Sales Order voucher in Tally. Never returns an
// error: transport and parse failures surface as (false, message, "").
func (c *Client) PushSalesOrder(ctx context.Context, companyName, orderNumber string, orderDate time.Time, partyName string, lines []OrderLine, narration string) (bool, string, string) {
	return c.pushVoucher(ctx, BuildPushSalesOrder(companyName, orderNumber, orderDate, partyName, lines, narration), "Sales Order", orderNumber, companyName)
}

// PushPurchaseOrder creates a Purchase Order voucher in Tally.
func (c *Client) PushPurchaseOrder(ctx context.Context, companyName, orderNumber string, orderDate time.Time, partyName string, lines []OrderLine, narration string) (bool, string, string) {
	return c.pushVoucher(ctx, BuildPushPurchaseOrder(companyName, orderNumber, orderDate, partyName, lines, narration), "Purchase Order", orderNumber, companyName)
}

func (c *Client) pushVoucher(ctx context.Context, xmlBody, voucherType, orderNumber, companyName string) (bool, string, string) {
	raw, err := c.post(ctx, xmlBody)
	if err != nil {
		logg().WithField("module", "tally").Errorf("push %s %q failed: %v", voucherType, orderNumber, err)
		return false, c.transportError(err).Error(), ""
	}
	success, message, voucherNumber := ParseImportResponse(raw)
	if success {
		logg().WithField("module", "tally").Infof("%s %q pushed to Tally company %q", voucherType, orderNumber, companyName)
	} else {
		logg().WithField("module", "tally").Warnf("push %s %q failed: %s", voucherType, orderNumber, message)
	}
	return success, message, voucherNumber
}
