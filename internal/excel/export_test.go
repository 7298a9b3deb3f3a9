package excel

import (
	"bytes"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"supermart/backend/internal/domain"
)

func TestSalesReportWorkbook(t *testing.T) {
	report := &domain.SalesReport{
		Summary: domain.SalesReportSummary{
			TotalSales:         42.00,
			TotalTransactions:  2,
			AverageTransaction: 21.00,
		},
		Data: []domain.SalesReportRow{
			{ID: 2, SaleDate: time.Date(2026, 2, 2, 10, 0, 0, 0, time.UTC), Subtotal: 20, Tax: 1, Total: 21, ItemsCount: 1, TotalItems: 2},
			{ID: 1, SaleDate: time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC), Subtotal: 20, Tax: 1, Total: 21, ItemsCount: 1, TotalItems: 2},
		},
	}

	workbook, err := SalesReport(report)
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	var buf bytes.Buffer
	if err := workbook.Write(&buf); err != nil {
		t.Fatalf("write: %v", err)
	}

	file, err := excelize.OpenReader(&buf)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer file.Close()

	rows, err := file.GetRows("Sales")
	if err != nil {
		t.Fatalf("rows: %v", err)
	}
	// 3 summary rows, 1 spacer, 1 header, 2 data rows.
	if len(rows) < 6 {
		t.Fatalf("got %d rows, want at least 6", len(rows))
	}
	if rows[0][0] != "Total Sales" {
		t.Errorf("first summary cell = %q, want Total Sales", rows[0][0])
	}
	if rows[4][0] != "Bill #" {
		t.Errorf("header cell = %q, want Bill #", rows[4][0])
	}
	if rows[5][0] != "2" {
		t.Errorf("first data bill = %q, want 2", rows[5][0])
	}
}

func TestProfitReportWorkbook(t *testing.T) {
	report := &domain.ProfitReport{
		Summary: domain.ProfitReportSummary{TotalRevenue: 20, TotalCost: 12, TotalProfit: 8, ProfitMargin: 40},
		Data: []domain.ProfitReportRow{
			{ProductName: "Widget", Barcode: "1001", TotalSold: 2, Revenue: 20, Cost: 12, Profit: 8, AvgSellingPrice: 10},
		},
	}

	workbook, err := ProfitReport(report)
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	var buf bytes.Buffer
	if err := workbook.Write(&buf); err != nil {
		t.Fatalf("write: %v", err)
	}

	file, err := excelize.OpenReader(&buf)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer file.Close()

	rows, err := file.GetRows("Profit")
	if err != nil {
		t.Fatalf("rows: %v", err)
	}
	if len(rows) < 7 {
		t.Fatalf("got %d rows, want at least 7", len(rows))
	}
	if rows[6][0] != "Widget" {
		t.Errorf("data cell = %q, want Widget", rows[6][0])
	}
}
