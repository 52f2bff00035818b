package engine

import (
	"fmt"

	"aci-kyc/internal/model"
)

// BaseRow is the first row below the sheet header.
const BaseRow = 3

// Fixed column mapping of a contract sheet.
const (
	ColContractName   = "B" // row 1
	ColContractTenant = "D" // row 1
	ColContractScope  = "F" // row 1

	ColSource     = "A"
	ColSourceType = "B"
	ColDest       = "M"
	ColDestType   = "N"

	ColSubject      = "C"
	ColServiceGraph = "L"
	ColFilter       = "D"
	ColAction       = "E"

	ColEntryName = "F"
	ColEtherType = "G"
	ColSrcPort   = "H"
	ColDstPort   = "I"
	ColStateful  = "J"
	ColTCPRules  = "K"
)

// Cell is a value placed at Column/Row.
type Cell struct {
	Column string
	Row    int
	Value  string
}

// Ref returns the A1-style reference of the cell.
func (c Cell) Ref() string {
	return fmt.Sprintf("%s%d", c.Column, c.Row)
}

// Merge joins rows FromRow..ToRow of one column.
type Merge struct {
	Column  string
	FromRow int
	ToRow   int
}

// SheetPlan is everything a writer needs to render one contract.
type SheetPlan struct {
	Name    string // "<tenant>.<contract>"
	Cells   []Cell
	Merges  []Merge
	LastRow int // lowest row holding content
	// SubjectRow is the subject/filter row counter after the layout.
	SubjectRow int
}

func (p *SheetPlan) set(column string, row int, value string) {
	p.Cells = append(p.Cells, Cell{Column: column, Row: row, Value: value})
	if row > p.LastRow {
		p.LastRow = row
	}
}

func (p *SheetPlan) merge(from, to int, columns ...string) {
	if to < from {
		return
	}
	for _, column := range columns {
		p.Merges = append(p.Merges, Merge{Column: column, FromRow: from, ToRow: to})
	}
}

// Layout places one contract on a sheet. Source, destination and subject rows
// are counted independently from BaseRow.
func Layout(c model.Contract) SheetPlan {
	plan := SheetPlan{Name: fmt.Sprintf("%s.%s", c.Tenant, c.Name), LastRow: 1}
	plan.set(ColContractName, 1, c.Name)
	plan.set(ColContractTenant, 1, c.Tenant)
	plan.set(ColContractScope, 1, c.Scope)

	for i, src := range c.Sources {
		plan.set(ColSource, BaseRow+i, src.Identity())
		plan.set(ColSourceType, BaseRow+i, src.Type)
	}
	for i, dst := range c.Destinations {
		plan.set(ColDest, BaseRow+i, dst.Identity())
		plan.set(ColDestType, BaseRow+i, dst.Type)
	}

	row := BaseRow
	for _, subj := range c.Subjects {
		subjectStart := row
		plan.set(ColSubject, row, subj.Name)
		plan.set(ColServiceGraph, row, subj.ServiceGraph)
		for _, f := range subj.Filters {
			filterStart := row
			plan.set(ColFilter, row, f.Name)
			plan.set(ColAction, row, f.Action)
			for _, e := range f.Entries {
				plan.set(ColEntryName, row, e.Name)
				plan.set(ColEtherType, row, e.EtherType)
				plan.set(ColSrcPort, row, e.SrcPort)
				plan.set(ColDstPort, row, e.DstPort)
				plan.set(ColStateful, row, e.Stateful)
				plan.set(ColTCPRules, row, e.TCPRules)
				row++
			}
			plan.merge(filterStart, row-1, ColFilter, ColAction)
		}
		if len(subj.Filters) > 0 {
			plan.merge(subjectStart, row-1, ColSubject, ColServiceGraph)
		}
	}
	plan.SubjectRow = row
	return plan
}

// LayoutAll lays out every contract in order.
func LayoutAll(contracts []model.Contract) []SheetPlan {
	plans := make([]SheetPlan, 0, len(contracts))
	for _, c := range contracts {
		plans = append(plans, Layout(c))
	}
	return plans
}
