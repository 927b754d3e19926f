package output

import (
	"fmt"

	"github.com/xuri/excelize/v2"
)

type ExcelWriter struct{}

func (w *ExcelWriter) Write(path string, table Table) error {
	file := excelize.NewFile()
	defer file.Close()

	sheet := file.GetSheetName(0)
	if err := writeExcelRow(file, sheet, 1, table.Headers); err != nil {
		return err
	}
	for i, row := range table.Rows {
		if err := writeExcelRow(file, sheet, i+2, row); err != nil {
			return err
		}
	}

	if len(table.Headers) > 0 {
		last, _ := excelize.ColumnNumberToName(len(table.Headers))
		if err := file.AutoFilter(sheet, "A1:"+last+"1", nil); err != nil {
			return fmt.Errorf("set excel auto filter: %w", err)
		}
	}

	if err := file.SaveAs(path); err != nil {
		return fmt.Errorf("save excel output %s: %w", path, err)
	}

	return nil
}

func writeExcelRow(file *excelize.File, sheet string, row int, values []string) error {
	for col, value := range values {
		cell, _ := excelize.CoordinatesToCellName(col+1, row)
		if err := file.SetCellValue(sheet, cell, value); err != nil {
			return fmt.Errorf("set excel value %s: %w", cell, err)
		}
	}
	return nil
}
