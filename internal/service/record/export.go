package record

import (
	"bytes"
	"context"
	"fmt"

	"github.com/xuri/excelize/v2"

	"github.com/jwalitptl/livsafe-api/internal/model"
	"github.com/jwalitptl/livsafe-api/pkg/errors"
)

const (
	exportSheet     = "Records"
	exportBatchSize = 500
)

var exportHeader = []string{
	"Record ID",
	"Patient",
	"Age",
	"Gender",
	"Date",
	"Grade",
	"Confidence",
	"Analysis",
}

var exportColumnWidths = []float64{14, 24, 8, 10, 20, 8, 12, 80}

// Export renders all of the caller's records as an XLSX workbook.
func (s *Service) Export(ctx context.Context, caller *model.Identity) ([]byte, error) {
	store, err := s.open(ctx, caller)
	if err != nil {
		return nil, err
	}
	defer store.Close()

	var rows []*model.RecordWithPatient
	for offset := 0; ; offset += exportBatchSize {
		batch, err := store.ListRecords(ctx, exportBatchSize, offset)
		if err != nil {
			return nil, errors.Internal(err)
		}
		rows = append(rows, batch...)
		if len(batch) < exportBatchSize {
			break
		}
	}

	data, err := writeWorkbook(rows)
	if err != nil {
		return nil, errors.Internal(err)
	}
	return data, nil
}

func writeWorkbook(rows []*model.RecordWithPatient) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(exportSheet)
	if err != nil {
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return nil, fmt.Errorf("failed to delete default sheet: %w", err)
	}
	f.SetActiveSheet(index)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{
			Type:    "pattern",
			Color:   []string{"#E6F3FF"},
			Pattern: 1,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}

	for col, header := range exportHeader {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return nil, err
		}
		if err := f.SetCellValue(exportSheet, cell, header); err != nil {
			return nil, fmt.Errorf("failed to set header cell %s: %w", cell, err)
		}
		if err := f.SetCellStyle(exportSheet, cell, cell, headerStyle); err != nil {
			return nil, fmt.Errorf("failed to set header style: %w", err)
		}
	}

	for col, width := range exportColumnWidths {
		name, err := excelize.ColumnNumberToName(col + 1)
		if err != nil {
			return nil, err
		}
		if err := f.SetColWidth(exportSheet, name, name, width); err != nil {
			return nil, fmt.Errorf("failed to set column width: %w", err)
		}
	}

	for i, r := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, err
		}
		values := []interface{}{
			r.RecordID,
			r.PatientName,
			r.PatientAge,
			r.PatientGender,
			r.CreatedAt.Format(model.DateLayout),
			string(r.Grade),
			r.Confidence,
			r.AnalysisText.String,
		}
		if err := f.SetSheetRow(exportSheet, cell, &values); err != nil {
			return nil, fmt.Errorf("failed to write row %d: %w", i+2, err)
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("failed to write workbook: %w", err)
	}
	return buf.Bytes(), nil
}
