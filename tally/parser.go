package tally

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/mmdatafocus/tallysync_backend/config"
	"github.com/sirupsen/logrus"
)

const (
	LedgerTypeCustomer = "CUSTOMER"
	LedgerTypeSupplier = "SUPPLIER"
	LedgerTypeOther    = "OTHER"
)

// StockItem is one inventory line from a Stock Summary response.
type StockItem struct {
	TallyName    string
	Alias        string
	GroupName    string
	UOM          string
	ClosingQty   float64
	ClosingValue float64
	Rate         float64
}

// Ledger is one party record from a List of Accounts response.
type Ledger struct {
	TallyName      string
	Alias          string
	GroupName      string
	LedgerType     string
	OpeningBalance float64
	ClosingBalance float64
}

// Voucher is one transaction from a Voucher Register response.
type Voucher struct {
	VoucherNumber string
	VoucherType   string
	VoucherDate   *time.Time
	PartyName     string
	Narration     string
	Amount        float64
}

func logg() *logrus.Logger {
	return config.GetLogger()
}

// ParseCompanies extracts company names from the company list response.
func ParseCompanies(raw string) []string {
	collection := parseTree(raw).Path("ENVELOPE", "BODY", "DATA", "COLLECTION")
	var companies []string
	for _, co := range collection.ChildList("COMPANY") {
		name := co.Str("NAME")
		if name == "" {
			name = co.Attr("NAME")
		}
		if name != "" {
			companies = append(companies, name)
		}
	}
	return companies
}

// ParseTallyVersion extracts the Tally version from a response header, "" when absent.
func ParseTallyVersion(raw string) string {
	return parseTree(raw).Path("ENVELOPE", "HEADER").Str("VERSION")
}

// ParseStockItems parses a Stock Summary response. Rate is closing value
// over closing quantity, 0 when the quantity is 0.
func ParseStockItems(raw string) []StockItem {
	collection := parseTree(raw).Path("ENVELOPE", "BODY", "DATA", "COLLECTION")

	// Stock Summary responses carry STOCKITEM elements; some Tally builds
	// emit the display-report DSPACCSUM shape instead.
	rawItems := collection.ChildList("STOCKITEM")
	if len(rawItems) == 0 {
		rawItems = collection.ChildList("DSPACCSUM")
	}

	var items []StockItem
	for _, item := range rawItems {
		name := item.Str("NAME")
		if name == "" {
			name = item.Str("STOCKITEMNAME")
		}
		if name == "" {
			continue
		}
		closingQty := item.Float("CLOSINGBALANCE")
		if item.Child("CLOSINGBALANCE") == nil {
			closingQty = item.Float("DSPCLQTY")
		}
		closingValue := item.Float("CLOSINGVALUE")
		if item.Child("CLOSINGVALUE") == nil {
			closingValue = item.Float("DSPCLVAL")
		}
		rate := 0.0
		if closingQty != 0 {
			rate = closingValue / closingQty
		}
		group := item.Str("PARENT")
		if group == "" {
			group = item.Str("DSPSTOCKGROUP")
		}
		uom := item.Str("BASEUNITS")
		if uom == "" {
			uom = item.Str("DSPUOM")
		}
		items = append(items, StockItem{
			TallyName:    name,
			Alias:        item.Str("ALIAS"),
			GroupName:    group,
			UOM:          uom,
			ClosingQty:   roundTo(closingQty, 4),
			ClosingValue: roundTo(closingValue, 2),
			Rate:         roundTo(rate, 4),
		})
	}
	return items
}

// ParseLedgers parses a List of Accounts response and classifies each
// ledger by its parent group name.
func ParseLedgers(raw string) []Ledger {
	collection := parseTree(raw).Path("ENVELOPE", "BODY", "DATA", "COLLECTION")

	var ledgers []Ledger
	for _, ledger := range collection.ChildList("LEDGER") {
		name := ledger.Str("NAME")
		if name == "" {
			continue
		}
		group := ledger.Str("PARENT")
		if group == "" {
			group = ledger.Str("LEDGERGROUPNAME")
		}
		ledgers = append(ledgers, Ledger{
			TallyName:      name,
			Alias:          ledger.Str("ALIAS"),
			GroupName:      group,
			LedgerType:     ClassifyLedgerGroup(group),
			OpeningBalance: roundTo(ledger.Float("OPENINGBALANCE"), 2),
			ClosingBalance: roundTo(ledger.Float("CLOSINGBALANCE"), 2),
		})
	}
	return ledgers
}

// ClassifyLedgerGroup maps a ledger group name to CUSTOMER, SUPPLIER or OTHER.
func ClassifyLedgerGroup(group string) string {
	switch strings.ToLower(strings.TrimSpace(group)) {
	case "sundry debtors":
		return LedgerTypeCustomer
	case "sundry creditors":
		return LedgerTypeSupplier
	default:
		return LedgerTypeOther
	}
}

// ParseVouchers parses a Voucher Register response. Amounts are stored as
// absolute values regardless of the debit/credit sign Tally reports.
func ParseVouchers(raw string) []Voucher {
	collection := parseTree(raw).Path("ENVELOPE", "BODY", "DATA", "COLLECTION")

	var vouchers []Voucher
	for _, v := range collection.ChildList("VOUCHER") {
		vouchers = append(vouchers, Voucher{
			VoucherNumber: v.Str("VOUCHERNUMBER"),
			VoucherType:   v.Str("VOUCHERTYPENAME"),
			VoucherDate:   parseTallyDate(v.Str("DATE")),
			PartyName:     v.Str("PARTYLEDGERNAME"),
			Narration:     v.Str("NARRATION"),
			Amount:        math.Abs(v.Float("AMOUNT")),
		})
	}
	return vouchers
}

// ParseImportResponse parses Tally's answer to an Import Data request.
// It never fails: every input, including garbage, resolves to a definite
// (success, message, voucherNumber) triple.
//
// Tally Prime returns one of two structures:
//
//	A) <ENVELOPE><BODY><IMPORTRESULT><CREATED>1</CREATED>...</IMPORTRESULT></BODY></ENVELOPE>
//	B) <RESPONSE><CREATED>1</CREATED>...</RESPONSE>   (older Tally)
//
// Errors appear in <LASTSTMTERROR> or <LINEERROR>.
func ParseImportResponse(raw string) (bool, string, string) {
	doc := parseTree(raw)
	if doc == nil {
		logg().WithField("module", "tally").
			WithField("raw", truncate(raw, 500)).
			Error("ParseImportResponse: empty or unparseable XML")
		return false, "Could not parse Tally response. Check server logs.", ""
	}

	body := doc.Path("ENVELOPE", "BODY")
	importResult := body.Child("IMPORTRESULT")
	if importResult == nil {
		importResult = body.Path("DATA", "IMPORTRESULT")
	}
	if importResult != nil {
		created := importResult.Float("CREATED")
		errCount := importResult.Float("ERRORS")
		if created > 0 {
			return true, fmt.Sprintf("%d voucher(s) created in Tally", int(created)), ""
		}
		errMsg := importResult.Str("LASTSTMTERROR")
		if errMsg == "" {
			errMsg = importResult.Str("LINEERROR")
		}
		if errMsg != "" {
			logg().WithField("module", "tally").Warnf("Tally push error: %s", errMsg)
			return false, errMsg, ""
		}
		if errCount > 0 {
			logg().WithField("module", "tally").
				WithField("raw", truncate(raw, 500)).
				Errorf("Tally returned %d error(s)", int(errCount))
			return false, fmt.Sprintf("Tally rejected the voucher (%d error(s)). Check Tally logs.", int(errCount)), ""
		}
	}

	if response := doc.Child("RESPONSE"); response != nil {
		errMsg := response.Str("LINEERROR")
		if errMsg == "" {
			errMsg = response.Str("LASTSTMTERROR")
		}
		if errMsg != "" {
			logg().WithField("module", "tally").Warnf("Tally push error: %s", errMsg)
			return false, errMsg, ""
		}
		if created := response.Float("CREATED"); created > 0 {
			return true, fmt.Sprintf("%d voucher(s) created in Tally", int(created)), ""
		}
	}

	logg().WithField("module", "tally").
		WithField("raw", truncate(raw, 500)).
		Error("ParseImportResponse: unexpected structure")
	return false, "Tally did not confirm the voucher. Check server logs.", ""
}

// parseTallyDate converts YYYYMMDD to a time, nil for missing/invalid input.
func parseTallyDate(raw string) *time.Time {
	if raw == "" {
		return nil
	}
	t, err := time.Parse("20060102", raw)
	if err != nil {
		return nil
	}
	return &t
}

func roundTo(value float64, places int) float64 {
	factor := math.Pow(10, float64(places))
	return math.Round(value*factor) / factor
}
