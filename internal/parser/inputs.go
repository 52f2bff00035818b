package parser

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"
)

// ContractTarget names one contract to export.
type ContractTarget struct {
	Tenant   string
	Contract string
}

// DN returns the contract's distinguished name.
func (t ContractTarget) DN() string {
	return fmt.Sprintf("uni/tn-%s/brc-%s", t.Tenant, t.Contract)
}

// ParseContractTargets reads a CSV file with "Tenant" and "Contract" header
// columns. Rows with an empty tenant or contract are skipped.
func ParseContractTargets(r io.Reader) ([]ContractTarget, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("could not read header: %w", err)
	}

	colMap := make(map[string]int)
	for i, colName := range header {
		colMap[strings.ToLower(strings.TrimSpace(colName))] = i
	}
	tenantCol, ok := colMap["tenant"]
	if !ok {
		return nil, fmt.Errorf("could not find 'Tenant' column in targets file")
	}
	contractCol, ok := colMap["contract"]
	if !ok {
		return nil, fmt.Errorf("could not find 'Contract' column in targets file")
	}

	var targets []ContractTarget
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if tenantCol >= len(record) || contractCol >= len(record) {
			continue
		}
		target := ContractTarget{
			Tenant:   strings.TrimSpace(record[tenantCol]),
			Contract: strings.TrimSpace(record[contractCol]),
		}
		if target.Tenant == "" || target.Contract == "" {
			continue
		}
		targets = append(targets, target)
	}
	return targets, nil
}
