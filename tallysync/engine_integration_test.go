package tallysync_test

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mmdatafocus/tallysync_backend/config"
	"github.com/mmdatafocus/tallysync_backend/models"
	"github.com/mmdatafocus/tallysync_backend/tallysync"
)

// stubTally answers the three export requests the engine issues. failStock
// and failPurchase flip individual reports to HTTP 500 so partial and
// failed runs can be exercised against the same instance.
type stubTally struct {
	failStock    atomic.Bool
	failPurchase atomic.Bool
}

func (s *stubTally) handler(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	req := string(body)
	switch {
	case strings.Contains(req, "<REPORTNAME>Stock Summary</REPORTNAME>"):
		if s.failStock.Load() {
			http.Error(w, "tally exploded", http.StatusInternalServerError)
			return
		}
		io.WriteString(w, "<ENVELOPE><BODY><DATA><COLLECTION>"+
			"<STOCKITEM><NAME>Widget</NAME><PARENT>Hardware</PARENT><BASEUNITS>Nos</BASEUNITS><CLOSINGBALANCE>40</CLOSINGBALANCE><CLOSINGVALUE>1000</CLOSINGVALUE></STOCKITEM>"+
			"<STOCKITEM><NAME>Gadget</NAME><CLOSINGBALANCE>5</CLOSINGBALANCE><CLOSINGVALUE>250</CLOSINGVALUE></STOCKITEM>"+
			"<STOCKITEM><NAME>Bracket</NAME><CLOSINGBALANCE>0</CLOSINGBALANCE><CLOSINGVALUE>0</CLOSINGVALUE></STOCKITEM>"+
			"</COLLECTION></DATA></BODY></ENVELOPE>")
	case strings.Contains(req, "<REPORTNAME>List of Accounts</REPORTNAME>"):
		io.WriteString(w, "<ENVELOPE><BODY><DATA><COLLECTION>"+
			"<LEDGER><NAME>Acme Pvt Ltd</NAME><PARENT>Sundry Debtors</PARENT><CLOSINGBALANCE>12000</CLOSINGBALANCE></LEDGER>"+
			"<LEDGER><NAME>Steel Supplier Co</NAME><PARENT>Sundry Creditors</PARENT><CLOSINGBALANCE>-4000</CLOSINGBALANCE></LEDGER>"+
			"</COLLECTION></DATA></BODY></ENVELOPE>")
	case strings.Contains(req, "<SVVOUCHERTYPE>Sales Order</SVVOUCHERTYPE>"):
		io.WriteString(w, "<ENVELOPE><BODY><DATA><COLLECTION>"+
			"<VOUCHER><VOUCHERNUMBER>SO-1</VOUCHERNUMBER><VOUCHERTYPENAME>Sales Order</VOUCHERTYPENAME><DATE>20260810</DATE><PARTYLEDGERNAME>Acme Pvt Ltd</PARTYLEDGERNAME><AMOUNT>-500</AMOUNT></VOUCHER>"+
			"<VOUCHER><VOUCHERNUMBER>SO-2</VOUCHERNUMBER><VOUCHERTYPENAME>Sales Order</VOUCHERTYPENAME><DATE>20260811</DATE><PARTYLEDGERNAME>Acme Pvt Ltd</PARTYLEDGERNAME><AMOUNT>750</AMOUNT></VOUCHER>"+
			"</COLLECTION></DATA></BODY></ENVELOPE>")
	case strings.Contains(req, "<SVVOUCHERTYPE>Purchase Order</SVVOUCHERTYPE>"):
		if s.failPurchase.Load() {
			http.Error(w, "tally exploded", http.StatusInternalServerError)
			return
		}
		io.WriteString(w, "<ENVELOPE><BODY><DATA><COLLECTION>"+
			"<VOUCHER><VOUCHERNUMBER>PO-1</VOUCHERNUMBER><VOUCHERTYPENAME>Purchase Order</VOUCHERTYPENAME><DATE>20260812</DATE><PARTYLEDGERNAME>Steel Supplier Co</PARTYLEDGERNAME><AMOUNT>-300</AMOUNT></VOUCHER>"+
			"</COLLECTION></DATA></BODY></ENVELOPE>")
	default:
		http.Error(w, "unexpected request", http.StatusBadRequest)
	}
}

func TestSyncCompanyEndToEnd(t *testing.T) {
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	ctx := context.Background()

	mysqlName, mysqlPort := startMySQLContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(mysqlName) })

	t.Setenv("DB_USER", "root")
	t.Setenv("DB_PASSWORD", "testpw")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", mysqlPort)
	t.Setenv("DB_NAME", "tallysync_test")

	config.ConnectDatabaseWithRetry()
	if err := models.MigrateTable(); err != nil {
		t.Fatalf("MigrateTable: %v", err)
	}

	stub := &stubTally{}
	ts := httptest.NewServer(http.HandlerFunc(stub.handler))
	t.Cleanup(ts.Close)
	host, portStr, err := net.SplitHostPort(strings.TrimPrefix(ts.URL, "http://"))
	if err != nil {
		t.Fatalf("split host port: %v", err)
	}
	port, _ := strconv.Atoi(portStr)

	company, err := models.CreateCompany(ctx, &models.NewCompany{
		Name:                "Acme Traders",
		TallyCompanyName:    "Acme Traders",
		Host:                host,
		Port:                port,
		SyncIntervalMinutes: 5,
	})
	if err != nil {
		t.Fatalf("CreateCompany: %v", err)
	}

	events := tallysync.NewBroadcaster()
	sub := events.Subscribe(tallysync.CompanyChannel(company.ID))
	defer events.Unsubscribe(tallysync.CompanyChannel(company.ID), sub)
	engine := tallysync.NewEngine(events)

	// 1) Full sync: 3 stock items + 2 ledgers + 3 vouchers = 8 records.
	engine.SyncCompany(ctx, company.ID)

	logs, err := models.ListSyncLogs(ctx, company.ID, 10)
	if err != nil {
		t.Fatalf("ListSyncLogs: %v", err)
	}
	if len(logs) != 1 {
		t.Fatalf("expected 1 sync log; got %d", len(logs))
	}
	if logs[0].Status != models.SyncStatusSuccess || logs[0].RecordsSynced != 8 {
		t.Fatalf("first run: status=%s records=%d", logs[0].Status, logs[0].RecordsSynced)
	}

	select {
	case ev := <-sub:
		if ev.Name != "sync_complete" {
			t.Fatalf("expected sync_complete; got %q", ev.Name)
		}
		if ev.Data["records"] != 8 {
			t.Fatalf("sync_complete records = %v", ev.Data["records"])
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no sync event received")
	}

	refreshed, err := models.GetCompanyById(ctx, company.ID)
	if err != nil || refreshed == nil {
		t.Fatalf("GetCompanyById: %v", err)
	}
	if refreshed.LastSyncedAt == nil {
		t.Fatalf("last_synced_at not set after successful run")
	}

	items, err := models.ListStockItems(ctx, company.ID, false)
	if err != nil {
		t.Fatalf("ListStockItems: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("expected 3 cached stock items; got %d", len(items))
	}

	// 2) Reorder threshold survives the next sync and flags low stock.
	if err := models.SetReorderLevel(ctx, company.ID, "Gadget", 10); err != nil {
		t.Fatalf("SetReorderLevel: %v", err)
	}
	engine.SyncCompany(ctx, company.ID)
	<-sub

	items, err = models.ListStockItems(ctx, company.ID, true)
	if err != nil {
		t.Fatalf("ListStockItems(lowStock): %v", err)
	}
	if len(items) != 1 || items[0].TallyName != "Gadget" {
		t.Fatalf("low stock after resync: %+v", items)
	}
	if items[0].ReorderLevel != 10 {
		t.Fatalf("reorder level overwritten by sync: %v", items[0].ReorderLevel)
	}

	// 3) One voucher register failing yields a PARTIAL run, not a failure.
	stub.failPurchase.Store(true)
	engine.SyncCompany(ctx, company.ID)
	<-sub

	logs, err = models.ListSyncLogs(ctx, company.ID, 10)
	if err != nil {
		t.Fatalf("ListSyncLogs: %v", err)
	}
	if logs[0].Status != models.SyncStatusPartial {
		t.Fatalf("expected PARTIAL after voucher-type failure; got %s", logs[0].Status)
	}
	stub.failPurchase.Store(false)

	// 4) Stock fetch failure fails the whole run and emits sync_error.
	stub.failStock.Store(true)
	engine.SyncCompany(ctx, company.ID)

	select {
	case ev := <-sub:
		if ev.Name != "sync_error" {
			t.Fatalf("expected sync_error; got %q", ev.Name)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no sync_error event received")
	}
	logs, _ = models.ListSyncLogs(ctx, company.ID, 10)
	if logs[0].Status != models.SyncStatusFailed || logs[0].ErrorMessage == "" {
		t.Fatalf("failed run: status=%s err=%q", logs[0].Status, logs[0].ErrorMessage)
	}

	// 5) Resyncing identical data stays idempotent: same voucher count, no dupes.
	stub.failStock.Store(false)
	engine.SyncCompany(ctx, company.ID)
	<-sub
	vouchers, err := models.ListVouchers(ctx, company.ID, "", 0)
	if err != nil {
		t.Fatalf("ListVouchers: %v", err)
	}
	if len(vouchers) != 3 {
		t.Fatalf("expected 3 cached vouchers after repeated syncs; got %d", len(vouchers))
	}
}

func startMySQLContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("tallysync-test-mysql-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-e", "MYSQL_ROOT_PASSWORD=testpw",
		"-e", "MYSQL_DATABASE=tallysync_test",
		"-p", "127.0.0.1:0:3306",
		"mysql:8.0",
		"--default-authentication-plugin=mysql_native_password",
	)
	if err != nil {
		t.Fatalf("start mysql container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "3306/tcp")
	if err != nil {
		t.Fatalf("mysql docker port: %v", err)
	}
	deadline := time.Now().Add(120 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "mysqladmin", "ping", "-h", "127.0.0.1", "-ptestpw", "--silent")
		if err == nil {
			return name, port
		}
		time.Sleep(500 * time.Millisecond)
	}
	t.Fatalf("mysql did not become ready")
	return "", ""
}

func dockerHostPort(container, portProto string) (string, error) {
	out, err := dockerRun("port", container, portProto)
	if err != nil {
		return "", fmt.Errorf("docker port: %w: %s", err, out)
	}
	re := regexp.MustCompile(`:(\d+)`)
	m := re.FindStringSubmatch(out)
	if len(m) != 2 {
		return "", fmt.Errorf("unexpected docker port output: %q", out)
	}
	return m[1], nil
}

func dockerRmForce(container string) error {
	if strings.TrimSpace(container) == "" {
		return nil
	}
	_, err := dockerRun("rm", "-f", container)
	return err
}

func dockerRun(args ...string) (string, error) {
	cmd := exec.Command("docker", args...)
	b, err := cmd.CombinedOutput()
	return string(b), err
}
