package output

import (
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"aci-kyc/internal/engine"

	"github.com/xuri/excelize/v2"
)

// TemplateSheet is the sheet copied for every contract.
const TemplateSheet = "template"

const maxSheetName = 31

var templateHeaders = []engine.Cell{
	{Column: "A", Row: 1, Value: "Contract"},
	{Column: "C", Row: 1, Value: "Tenant"},
	{Column: "E", Row: 1, Value: "Scope"},
	{Column: engine.ColSource, Row: 2, Value: "Source"},
	{Column: engine.ColSourceType, Row: 2, Value: "Source type"},
	{Column: engine.ColSubject, Row: 2, Value: "Subject"},
	{Column: engine.ColFilter, Row: 2, Value: "Filter"},
	{Column: engine.ColAction, Row: 2, Value: "Action"},
	{Column: engine.ColEntryName, Row: 2, Value: "Entry"},
	{Column: engine.ColEtherType, Row: 2, Value: "Ether type"},
	{Column: engine.ColSrcPort, Row: 2, Value: "Source port"},
	{Column: engine.ColDstPort, Row: 2, Value: "Destination port"},
	{Column: engine.ColStateful, Row: 2, Value: "Stateful"},
	{Column: engine.ColTCPRules, Row: 2, Value: "TCP rules"},
	{Column: engine.ColServiceGraph, Row: 2, Value: "Service graph"},
	{Column: engine.ColDest, Row: 2, Value: "Destination"},
	{Column: engine.ColDestType, Row: 2, Value: "Destination type"},
}

// WorkbookWriter renders sheet plans into one workbook.
type WorkbookWriter struct {
	file     *excelize.File
	template int
	names    map[string]int
}

// NewWorkbookWriter opens templatePath, which must hold a sheet named
// "template". An empty path starts from a generated template.
func NewWorkbookWriter(templatePath string) (*WorkbookWriter, error) {
	var f *excelize.File
	if templatePath != "" {
		var err error
		f, err = excelize.OpenFile(templatePath)
		if err != nil {
			return nil, fmt.Errorf("failed to open template %s: %w", templatePath, err)
		}
	} else {
		f = excelize.NewFile()
		if err := f.SetSheetName(f.GetSheetName(0), TemplateSheet); err != nil {
			f.Close()
			return nil, err
		}
		for _, c := range templateHeaders {
			if err := f.SetCellValue(TemplateSheet, c.Ref(), c.Value); err != nil {
				f.Close()
				return nil, err
			}
		}
	}

	idx, err := f.GetSheetIndex(TemplateSheet)
	if err != nil || idx < 0 {
		f.Close()
		return nil, fmt.Errorf("template workbook has no %q sheet", TemplateSheet)
	}
	return &WorkbookWriter{file: f, template: idx, names: make(map[string]int)}, nil
}

// AddSheet copies the template and applies the plan to the copy. It returns
// the sheet name actually used.
func (w *WorkbookWriter) AddSheet(plan engine.SheetPlan) (string, error) {
	name := w.uniqueName(plan.Name)
	idx, err := w.file.NewSheet(name)
	if err != nil {
		return "", fmt.Errorf("sheet %s: %w", name, err)
	}
	if err := w.file.CopySheet(w.template, idx); err != nil {
		return "", fmt.Errorf("sheet %s: copy template: %w", name, err)
	}
	for _, c := range plan.Cells {
		if err := w.file.SetCellValue(name, c.Ref(), c.Value); err != nil {
			return "", fmt.Errorf("sheet %s: cell %s: %w", name, c.Ref(), err)
		}
	}
	for _, m := range plan.Merges {
		if m.FromRow == m.ToRow {
			continue
		}
		from := fmt.Sprintf("%s%d", m.Column, m.FromRow)
		to := fmt.Sprintf("%s%d", m.Column, m.ToRow)
		if err := w.file.MergeCell(name, from, to); err != nil {
			return "", fmt.Errorf("sheet %s: merge %s:%s: %w", name, from, to, err)
		}
	}
	slog.Debug("Sheet written", "sheet", name, "cells", len(plan.Cells), "merges", len(plan.Merges), "rows", plan.LastRow)
	return name, nil
}

// Save drops the template sheet and writes the workbook to path.
func (w *WorkbookWriter) Save(path string) error {
	if err := w.file.DeleteSheet(TemplateSheet); err != nil {
		return err
	}
	w.file.SetActiveSheet(0)
	if err := w.file.SaveAs(path); err != nil {
		return fmt.Errorf("failed to save workbook %s: %w", path, err)
	}
	return nil
}

func (w *WorkbookWriter) Close() error {
	return w.file.Close()
}

// uniqueName makes a plan name acceptable as a sheet name: forbidden
// characters are replaced, the name is cut to 31 characters and repeated
// names get a "~N" suffix.
func (w *WorkbookWriter) uniqueName(name string) string {
	base := SheetName(name)
	w.names[strings.ToLower(base)]++
	n := w.names[strings.ToLower(base)]
	if n == 1 && !strings.EqualFold(base, TemplateSheet) {
		return base
	}
	for {
		suffix := fmt.Sprintf("~%d", n)
		candidate := truncate(base, maxSheetName-len(suffix)) + suffix
		key := strings.ToLower(candidate)
		if _, taken := w.names[key]; !taken {
			w.names[key] = 1
			return candidate
		}
		n++
	}
}

// SheetName replaces characters a workbook rejects in sheet names.
func SheetName(name string) string {
	name = strings.Map(func(r rune) rune {
		switch r {
		case '[', ']', ':', '*', '?', '/', '\\':
			return '_'
		}
		return r
	}, name)
	name = strings.Trim(name, "'")
	if name == "" {
		name = "contract"
	}
	return truncate(name, maxSheetName)
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
