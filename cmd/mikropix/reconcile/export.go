package reconcile

import (
	"encoding/csv"
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/AlexeySalamakhin/mikropix/cmd/mikropix/models"
)

const (
	ExportDateLayout = "2006-01-02 15:04:05"
	exportSheet      = "Vendas"
)

type ExportOptions struct {
	Role        models.Role
	Location    *time.Location
	DeviceNames map[string]string
	UserNames   map[string]string
}

func ExportHeader(role models.Role) []string {
	h := []string{"Data", "Origem", "Dispositivo", "Usuário", "Plano", "Valor"}
	if role == models.RoleAdmin {
		h = append(h, "Comissão admin", "Comissão usuário")
	}
	return h
}

func exportRow(rec models.SaleRecord, opts ExportOptions) []string {
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}
	row := []string{
		rec.Timestamp.In(loc).Format(ExportDateLayout),
		rec.Source.Label(),
		opts.DeviceNames[rec.DeviceID],
		opts.UserNames[rec.UserID],
		rec.PlanLabel,
		rec.GrossAmount.StringFixed(2),
	}
	if opts.Role == models.RoleAdmin {
		row = append(row, rec.AdminCommission.StringFixed(2), rec.UserCommission.StringFixed(2))
	}
	return row
}

func WriteCSV(w io.Writer, records []models.SaleRecord, opts ExportOptions) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(ExportHeader(opts.Role)); err != nil {
		return err
	}
	for _, rec := range records {
		if err := cw.Write(exportRow(rec, opts)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func WriteXLSX(w io.Writer, records []models.SaleRecord, opts ExportOptions) error {
	f := excelize.NewFile()
	defer f.Close()
	if err := f.SetSheetName("Sheet1", exportSheet); err != nil {
		return err
	}
	for i, title := range ExportHeader(opts.Role) {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(exportSheet, cell, title); err != nil {
			return err
		}
	}
	for r, rec := range records {
		values := exportRow(rec, opts)
		for c, v := range values {
			cell, _ := excelize.CoordinatesToCellName(c+1, r+2)
			var val interface{} = v
			switch c {
			case 5:
				val = rec.GrossAmount.InexactFloat64()
			case 6:
				val = rec.AdminCommission.InexactFloat64()
			case 7:
				val = rec.UserCommission.InexactFloat64()
			}
			if err := f.SetCellValue(exportSheet, cell, val); err != nil {
				return fmt.Errorf("write %s: %w", cell, err)
			}
		}
	}
	return f.Write(w)
}
