package parser

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"aci-kyc/internal/model"

	_ "github.com/go-sql-driver/mysql"
)

// ErrNoSnapshot is returned when the database holds no matching snapshot.
var ErrNoSnapshot = errors.New("no contract snapshot found")

// MariaDBParser loads a contract snapshot previously saved by the MariaDB store.
type MariaDBParser struct {
	db         *sql.DB
	snapshotID string

	SnapshotID string
	Contracts  []model.Contract
}

// NewMariaDBParser connects to dsn. An empty snapshotID selects the newest snapshot.
func NewMariaDBParser(dsn, snapshotID string) (*MariaDBParser, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	return &MariaDBParser{db: db, snapshotID: snapshotID}, nil
}

func (p *MariaDBParser) Close() {
	p.db.Close()
}

type subjectKey struct{ contract, subject int }

type filterKey struct{ contract, subject, filter int }

func (p *MariaDBParser) Parse(ctx context.Context) error {
	id, err := p.resolveSnapshot(ctx)
	if err != nil {
		return err
	}
	p.SnapshotID = id

	contracts, err := p.loadContracts(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to load contracts: %w", err)
	}
	if err := p.loadEndpoints(ctx, id, contracts); err != nil {
		return fmt.Errorf("failed to load endpoints: %w", err)
	}
	subjects, err := p.loadSubjects(ctx, id, contracts)
	if err != nil {
		return fmt.Errorf("failed to load subjects: %w", err)
	}
	filters, err := p.loadFilters(ctx, id, subjects)
	if err != nil {
		return fmt.Errorf("failed to load filters: %w", err)
	}
	if err := p.loadEntries(ctx, id, filters); err != nil {
		return fmt.Errorf("failed to load entries: %w", err)
	}
	if len(p.Contracts) == 0 {
		return ErrNoContracts
	}
	return nil
}

func (p *MariaDBParser) resolveSnapshot(ctx context.Context) (string, error) {
	var (
		id  string
		err error
	)
	if p.snapshotID == "" {
		err = p.db.QueryRowContext(ctx, "SELECT id FROM kyc_snapshot ORDER BY created_at DESC LIMIT 1").Scan(&id)
	} else {
		err = p.db.QueryRowContext(ctx, "SELECT id FROM kyc_snapshot WHERE id = ?", p.snapshotID).Scan(&id)
	}
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNoSnapshot
	}
	return id, err
}

// loadContracts fills p.Contracts and returns the row id to index mapping.
func (p *MariaDBParser) loadContracts(ctx context.Context, snapshotID string) (map[int64]int, error) {
	rows, err := p.db.QueryContext(ctx,
		"SELECT id, dn, name, tenant, scope FROM kyc_contract WHERE snapshot_id = ? ORDER BY position ASC", snapshotID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	index := make(map[int64]int)
	for rows.Next() {
		var id int64
		var c model.Contract
		if err := rows.Scan(&id, &c.DN, &c.Name, &c.Tenant, &c.Scope); err != nil {
			return nil, err
		}
		index[id] = len(p.Contracts)
		p.Contracts = append(p.Contracts, c)
	}
	return index, rows.Err()
}

func (p *MariaDBParser) loadEndpoints(ctx context.Context, snapshotID string, contracts map[int64]int) error {
	rows, err := p.db.QueryContext(ctx, `SELECT e.contract_id, e.role, e.name, e.app, e.tenant, e.type
		FROM kyc_endpoint e JOIN kyc_contract c ON c.id = e.contract_id
		WHERE c.snapshot_id = ? ORDER BY e.contract_id, e.role, e.position`, snapshotID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var contractID int64
		var role string
		var ref model.EndpointRef
		if err := rows.Scan(&contractID, &role, &ref.Name, &ref.App, &ref.Tenant, &ref.Type); err != nil {
			return err
		}
		ci, ok := contracts[contractID]
		if !ok {
			continue
		}
		switch role {
		case "source":
			p.Contracts[ci].Sources = append(p.Contracts[ci].Sources, ref)
		case "destination":
			p.Contracts[ci].Destinations = append(p.Contracts[ci].Destinations, ref)
		default:
			return fmt.Errorf("unknown endpoint role %q", role)
		}
	}
	return rows.Err()
}

func (p *MariaDBParser) loadSubjects(ctx context.Context, snapshotID string, contracts map[int64]int) (map[int64]subjectKey, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT s.id, s.contract_id, s.dn, s.name, s.rev_flt_ports, s.service_graph
		FROM kyc_subject s JOIN kyc_contract c ON c.id = s.contract_id
		WHERE c.snapshot_id = ? ORDER BY s.contract_id, s.position`, snapshotID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	index := make(map[int64]subjectKey)
	for rows.Next() {
		var id, contractID int64
		var s model.Subject
		if err := rows.Scan(&id, &contractID, &s.DN, &s.Name, &s.RevFltPorts, &s.ServiceGraph); err != nil {
			return nil, err
		}
		ci, ok := contracts[contractID]
		if !ok {
			continue
		}
		p.Contracts[ci].Subjects = append(p.Contracts[ci].Subjects, s)
		index[id] = subjectKey{contract: ci, subject: len(p.Contracts[ci].Subjects) - 1}
	}
	return index, rows.Err()
}

func (p *MariaDBParser) loadFilters(ctx context.Context, snapshotID string, subjects map[int64]subjectKey) (map[int64]filterKey, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT f.id, f.subject_id, f.dn, f.name, f.action, f.direction
		FROM kyc_filter f
		JOIN kyc_subject s ON s.id = f.subject_id
		JOIN kyc_contract c ON c.id = s.contract_id
		WHERE c.snapshot_id = ? ORDER BY f.subject_id, f.position`, snapshotID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	index := make(map[int64]filterKey)
	for rows.Next() {
		var id, subjectID int64
		var f model.Filter
		if err := rows.Scan(&id, &subjectID, &f.DN, &f.Name, &f.Action, &f.Direction); err != nil {
			return nil, err
		}
		key, ok := subjects[subjectID]
		if !ok {
			continue
		}
		subj := &p.Contracts[key.contract].Subjects[key.subject]
		subj.Filters = append(subj.Filters, f)
		index[id] = filterKey{contract: key.contract, subject: key.subject, filter: len(subj.Filters) - 1}
	}
	return index, rows.Err()
}

func (p *MariaDBParser) loadEntries(ctx context.Context, snapshotID string, filters map[int64]filterKey) error {
	rows, err := p.db.QueryContext(ctx, `SELECT e.filter_id, e.name, e.ether_type, e.protocol, e.src_port, e.dst_port,
			e.stateful, e.tcp_rules, e.icmp, e.apply_to_frag
		FROM kyc_entry e
		JOIN kyc_filter f ON f.id = e.filter_id
		JOIN kyc_subject s ON s.id = f.subject_id
		JOIN kyc_contract c ON c.id = s.contract_id
		WHERE c.snapshot_id = ? ORDER BY e.filter_id, e.position`, snapshotID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var filterID int64
		var e model.FilterEntry
		if err := rows.Scan(&filterID, &e.Name, &e.EtherType, &e.Protocol, &e.SrcPort, &e.DstPort,
			&e.Stateful, &e.TCPRules, &e.ICMP, &e.ApplyToFrag); err != nil {
			return err
		}
		key, ok := filters[filterID]
		if !ok {
			continue
		}
		f := &p.Contracts[key.contract].Subjects[key.subject].Filters[key.filter]
		f.Entries = append(f.Entries, e)
	}
	return rows.Err()
}
