package tally

import (
	"encoding/xml"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// tallyDate renders a date the way Tally expects it on the wire.
func tallyDate(t time.Time) string {
	return t.Format("20060102")
}

// xmlEscape escapes text content interpolated into request envelopes.
// Company, party and item names regularly contain '&'.
func xmlEscape(s string) string {
	var b strings.Builder
	if err := xml.EscapeText(&b, []byte(s)); err != nil {
		return s
	}
	return b.String()
}

func exportEnvelope(reportName string, companyName string, extraVars string) string {
	return fmt.Sprintf(`<ENVELOPE>
  <HEADER>
    <TALLYREQUEST>Export Data</TALLYREQUEST>
  </HEADER>
  <BODY>
    <EXPORTDATA>
      <REQUESTDESC>
        <REPORTNAME>%s</REPORTNAME>
        <STATICVARIABLES>
          <SVEXPORTFORMAT>$$SysName:XML</SVEXPORTFORMAT>
          <SVCURRENTCOMPANY>%s</SVCURRENTCOMPANY>
          %s
        </STATICVARIABLES>
      </REQUESTDESC>
    </EXPORTDATA>
  </BODY>
</ENVELOPE>`, reportName, xmlEscape(companyName), extraVars)
}

func importEnvelope(companyName string, messageBody string) string {
	return fmt.Sprintf(`<ENVELOPE>
  <HEADER>
    <TALLYREQUEST>Import Data</TALLYREQUEST>
  </HEADER>
  <BODY>
    <IMPORTDATA>
      <REQUESTDESC>
        <REPORTNAME>Vouchers</REPORTNAME>
        <STATICVARIABLES>
          <SVCURRENTCOMPANY>%s</SVCURRENTCOMPANY>
        </STATICVARIABLES>
      </REQUESTDESC>
      <REQUESTDATA>
        <TALLYMESSAGE xmlns:UDF="TallyUDF">
          %s
        </TALLYMESSAGE>
      </REQUESTDATA>
    </IMPORTDATA>
  </BODY>
</ENVELOPE>`, xmlEscape(companyName), messageBody)
}

// BuildGetCompanies requests all open companies. Not company-scoped.
func BuildGetCompanies() string {
	return `<ENVELOPE>
  <HEADER>
    <TALLYREQUEST>Export Data</TALLYREQUEST>
  </HEADER>
  <BODY>
    <EXPORTDATA>
      <REQUESTDESC>
        <REPORTNAME>List of Companies</REPORTNAME>
        <STATICVARIABLES>
          <SVEXPORTFORMAT>$$SysName:XML</SVEXPORTFORMAT>
        </STATICVARIABLES>
      </REQUESTDESC>
    </EXPORTDATA>
  </BODY>
</ENVELOPE>`
}

// BuildGetStockItems requests the Stock Summary with closing balances.
// Tally requires a date window even though only the closing balance is
// wanted, so ask for beginning-of-year through today.
func BuildGetStockItems(companyName string) string {
	return exportEnvelope(
		"Stock Summary",
		companyName,
		"<SVFROMDATE>$$BegnOf:Year</SVFROMDATE><SVTODATE>$$DateOf:Today</SVTODATE>",
	)
}

// BuildGetLedgers requests all ledgers (parties).
func BuildGetLedgers(companyName string) string {
	return exportEnvelope("List of Accounts", companyName, "<ACCOUNTTYPE>Ledger</ACCOUNTTYPE>")
}

// BuildGetVouchers requests vouchers of one type within a date range.
func BuildGetVouchers(companyName string, voucherType string, fromDate, toDate time.Time) string {
	return exportEnvelope(
		"Voucher Register",
		companyName,
		fmt.Sprintf(`<SVFROMDATE>%s</SVFROMDATE>
          <SVTODATE>%s</SVTODATE>
          <SVVOUCHERTYPE>%s</SVVOUCHERTYPE>`,
			tallyDate(fromDate), tallyDate(toDate), xmlEscape(voucherType)),
	)
}

// OrderLine is one inventory line of a pushed voucher.
type OrderLine struct {
	StockItemName string
	Quantity      decimal.Decimal
	Rate          decimal.Decimal
	Amount        decimal.Decimal
	UOM           string
}

func (l OrderLine) uomOrDefault() string {
	if strings.TrimSpace(l.UOM) == "" {
		return "Nos"
	}
	return l.UOM
}

func orderTotal(lines []OrderLine) decimal.Decimal {
	total := decimal.Zero
	for _, line := range lines {
		total = total.Add(line.Amount)
	}
	return total
}

func inventoryEntries(lines []OrderLine, isSales bool) string {
	var b strings.Builder
	for _, line := range lines {
		// Sales: party is debited, inventory amounts are credits (negative).
		// Purchase is the mirror image.
		deemedPositive := "Yes"
		amount := line.Amount.Abs().StringFixed(2)
		if isSales {
			deemedPositive = "No"
			amount = "-" + amount
		}
		uom := xmlEscape(line.uomOrDefault())
		fmt.Fprintf(&b, `
          <INVENTORYENTRIES.LIST>
            <STOCKITEMNAME>%s</STOCKITEMNAME>
            <ISDEEMEDPOSITIVE>%s</ISDEEMEDPOSITIVE>
            <RATE>%s/%s</RATE>
            <AMOUNT>%s</AMOUNT>
            <ACTUALQTY>%s %s</ACTUALQTY>
            <BILLEDQTY>%s %s</BILLEDQTY>
          </INVENTORYENTRIES.LIST>`,
			xmlEscape(line.StockItemName),
			deemedPositive,
			line.Rate.StringFixed(4), uom,
			amount,
			line.Quantity.StringFixed(4), uom,
			line.Quantity.StringFixed(4), uom,
		)
	}
	return b.String()
}

func buildPushVoucher(companyName, voucherType, orderNumber string, orderDate time.Time, partyName string, lines []OrderLine, narration string, isSales bool) string {
	total := orderTotal(lines)

	// Party ledger entry carries the order total: debit (+) for sales,
	// credit (-) for purchase.
	partyDeemedPositive := "Yes"
	partyAmount := total.StringFixed(2)
	if !isSales {
		partyDeemedPositive = "No"
		partyAmount = "-" + total.Abs().StringFixed(2)
	}

	voucher := fmt.Sprintf(`<VOUCHER VCHTYPE="%s" ACTION="Create" OBJVIEW="Order Voucher View">
            <DATE>%s</DATE>
            <EFFECTIVEDATE>%s</EFFECTIVEDATE>
            <VOUCHERTYPENAME>%s</VOUCHERTYPENAME>
            <VOUCHERNUMBER>%s</VOUCHERNUMBER>
            <PARTYLEDGERNAME>%s</PARTYLEDGERNAME>
            <NARRATION>%s</NARRATION>
            <ALLLEDGERENTRIES.LIST>
              <LEDGERNAME>%s</LEDGERNAME>
              <ISDEEMEDPOSITIVE>%s</ISDEEMEDPOSITIVE>
              <AMOUNT>%s</AMOUNT>
            </ALLLEDGERENTRIES.LIST>
            %s
          </VOUCHER>`,
		voucherType,
		tallyDate(orderDate),
		tallyDate(orderDate),
		voucherType,
		xmlEscape(orderNumber),
		xmlEscape(partyName),
		xmlEscape(narration),
		xmlEscape(partyName),
		partyDeemedPositive,
		partyAmount,
		inventoryEntries(lines, isSales),
	)
	return importEnvelope(companyName, voucher)
}

// BuildPushSalesOrder builds an Import Data request creating a Sales Order voucher.
func BuildPushSalesOrder(companyName, orderNumber string, orderDate time.Time, partyName string, lines []OrderLine, narration string) string {
	return buildPushVoucher(companyName, "Sales Order", orderNumber, orderDate, partyName, lines, narration, true)
}

// BuildPushPurchaseOrder builds an Import Data request creating a Purchase Order voucher.
func BuildPushPurchaseOrder(companyName, orderNumber string, orderDate time.Time, partyName string, lines []OrderLine, narration string) string {
	return buildPushVoucher(companyName, "Purchase Order", orderNumber, orderDate, partyName, lines, narration, false)
}
