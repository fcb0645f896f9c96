package inpatient

import (
	"bytes"
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"
)

const statementSheet = "Statement"

var statementHeader = []string{"Item Code", "UOM", "Quantity", "Rate", "Amount", "Invoiced"}

// Statement renders the stay's line items and total as an XLSX workbook.
func (s *Service) Statement(ctx context.Context, stayID uuid.UUID) ([]byte, error) {
	stay, err := s.repo.GetStay(ctx, stayID)
	if err != nil {
		return nil, err
	}
	return RenderStatement(stay)
}

// RenderStatement builds the workbook for an already loaded stay.
func RenderStatement(stay *Stay) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", statementSheet); err != nil {
		return nil, fmt.Errorf("name sheet: %w", err)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E6F3FF"}, Pattern: 1},
	})
	if err != nil {
		return nil, fmt.Errorf("create header style: %w", err)
	}

	rows := [][]interface{}{
		{"Inpatient Record", stay.ID.String()},
		{"Patient", stay.PatientID.String()},
		{"Status", stay.Status},
		{},
	}
	head := make([]interface{}, len(statementHeader))
	for i, h := range statementHeader {
		head[i] = h
	}
	rows = append(rows, head)
	headerRow := len(rows)

	for _, it := range stay.Items {
		uom := ""
		if it.UOM != nil {
			uom = *it.UOM
		}
		invoiced := "No"
		if it.Invoiced {
			invoiced = "Yes"
		}
		rows = append(rows, []interface{}{
			it.ItemCode,
			uom,
			it.Quantity.InexactFloat64(),
			it.Rate.InexactFloat64(),
			it.Rate.Mul(it.Quantity).Round(2).InexactFloat64(),
			invoiced,
		})
	}
	rows = append(rows, []interface{}{"Total", "", "", "", stay.Total.Round(2).InexactFloat64()})

	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return nil, err
		}
		if err := f.SetSheetRow(statementSheet, cell, &row); err != nil {
			return nil, fmt.Errorf("write row %d: %w", i+1, err)
		}
	}

	first, _ := excelize.CoordinatesToCellName(1, headerRow)
	last, _ := excelize.CoordinatesToCellName(len(statementHeader), headerRow)
	if err := f.SetCellStyle(statementSheet, first, last, headerStyle); err != nil {
		return nil, fmt.Errorf("style header: %w", err)
	}
	if err := f.SetColWidth(statementSheet, "A", "A", 20); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return buf.Bytes(), nil
}
