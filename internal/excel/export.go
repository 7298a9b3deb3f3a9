// Package excel renders reports as XLSX workbooks for download.
package excel

import (
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"

	"supermart/backend/internal/domain"
)

// Workbook wraps a built spreadsheet ready to stream to a client.
type Workbook struct {
	file *excelize.File
}

func (w *Workbook) Write(dst io.Writer) error {
	defer w.file.Close()
	return w.file.Write(dst)
}

func SalesReport(report *domain.SalesReport) (*Workbook, error) {
	b, err := newBuilder("Sales")
	if err != nil {
		return nil, err
	}

	b.summary([][2]any{
		{"Total Sales", report.Summary.TotalSales},
		{"Total Transactions", report.Summary.TotalTransactions},
		{"Average Transaction", report.Summary.AverageTransaction},
	})
	b.header("Bill #", "Date", "Subtotal", "Tax", "Total", "Lines", "Items")
	for _, row := range report.Data {
		b.row(row.ID, row.SaleDate.Format(time.RFC3339), row.Subtotal, row.Tax, row.Total, row.ItemsCount, row.TotalItems)
	}

	return b.done()
}

func InventoryReport(report *domain.InventoryReport) (*Workbook, error) {
	b, err := newBuilder("Inventory")
	if err != nil {
		return nil, err
	}

	b.summary([][2]any{
		{"Total Products", report.Summary.TotalProducts},
		{"Total Items", report.Summary.TotalItems},
		{"Total Cost", report.Summary.TotalCost},
		{"Total Value", report.Summary.TotalValue},
		{"Potential Profit", report.Summary.PotentialProfit},
	})
	b.header("Barcode", "Product", "Category", "Quantity", "Cost Price", "Selling Price", "Total Cost", "Total Value", "Expiry")
	for _, row := range report.Data {
		expiry := ""
		if row.ExpiryDate != nil {
			expiry = row.ExpiryDate.Format("2006-01-02")
		}
		b.row(row.Barcode, row.ProductName, row.Category, row.Quantity, row.CostPrice, row.SellingPrice, row.TotalCost, row.TotalValue, expiry)
	}

	return b.done()
}

func LowStockReport(report *domain.LowStockReport) (*Workbook, error) {
	b, err := newBuilder("Low Stock")
	if err != nil {
		return nil, err
	}

	b.summary([][2]any{
		{"Low Stock Items", report.Summary.LowStockItems},
		{"Out Of Stock", report.Summary.OutOfStock},
	})
	b.header("Barcode", "Product", "Category", "Quantity", "Selling Price")
	for _, row := range report.Data {
		b.row(row.Barcode, row.ProductName, row.Category, row.Quantity, row.SellingPrice)
	}

	return b.done()
}

func ProfitReport(report *domain.ProfitReport) (*Workbook, error) {
	b, err := newBuilder("Profit")
	if err != nil {
		return nil, err
	}

	b.summary([][2]any{
		{"Total Revenue", report.Summary.TotalRevenue},
		{"Total Cost", report.Summary.TotalCost},
		{"Total Profit", report.Summary.TotalProfit},
		{"Profit Margin %", report.Summary.ProfitMargin},
	})
	b.header("Product", "Barcode", "Units Sold", "Revenue", "Cost", "Profit", "Avg Selling Price")
	for _, row := range report.Data {
		b.row(row.ProductName, row.Barcode, row.TotalSold, row.Revenue, row.Cost, row.Profit, row.AvgSellingPrice)
	}

	return b.done()
}

// builder writes a summary block, a blank spacer row, a header row, then
// data rows onto a single sheet.
type builder struct {
	file  *excelize.File
	sheet string
	line  int
	err   error
}

func newBuilder(sheet string) (*builder, error) {
	file := excelize.NewFile()
	defaultSheet := file.GetSheetName(0)
	if defaultSheet != sheet {
		if err := file.SetSheetName(defaultSheet, sheet); err != nil {
			_ = file.Close()
			return nil, err
		}
	}
	return &builder{file: file, sheet: sheet, line: 1}, nil
}

func (b *builder) summary(pairs [][2]any) {
	for _, pair := range pairs {
		b.row(pair[0], pair[1])
	}
	b.line++
}

func (b *builder) header(columns ...string) {
	cells := make([]any, len(columns))
	for i, column := range columns {
		cells[i] = column
	}
	b.row(cells...)
}

func (b *builder) row(cells ...any) {
	if b.err != nil {
		return
	}
	cell, err := excelize.CoordinatesToCellName(1, b.line)
	if err != nil {
		b.err = err
		return
	}
	if err := b.file.SetSheetRow(b.sheet, cell, &cells); err != nil {
		b.err = err
		return
	}
	b.line++
}

func (b *builder) done() (*Workbook, error) {
	if b.err != nil {
		_ = b.file.Close()
		return nil, fmt.Errorf("build workbook: %w", b.err)
	}
	return &Workbook{file: b.file}, nil
}
