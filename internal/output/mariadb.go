package output

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"aci-kyc/internal/model"

	_ "github.com/go-sql-driver/mysql"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS kyc_snapshot (
		id VARCHAR(36) PRIMARY KEY,
		controller VARCHAR(255) NOT NULL,
		created_at DATETIME(6) NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS kyc_contract (
		id BIGINT UNSIGNED PRIMARY KEY AUTO_INCREMENT,
		snapshot_id VARCHAR(36) NOT NULL,
		position INT UNSIGNED NOT NULL,
		dn VARCHAR(512) NOT NULL,
		name VARCHAR(64) NOT NULL,
		tenant VARCHAR(64) NOT NULL,
		scope VARCHAR(32) NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS kyc_endpoint (
		id BIGINT UNSIGNED PRIMARY KEY AUTO_INCREMENT,
		contract_id BIGINT UNSIGNED NOT NULL,
		role VARCHAR(16) NOT NULL,
		position INT UNSIGNED NOT NULL,
		name VARCHAR(64) NOT NULL,
		app VARCHAR(64) NOT NULL,
		tenant VARCHAR(64) NOT NULL,
		type VARCHAR(32) NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS kyc_subject (
		id BIGINT UNSIGNED PRIMARY KEY AUTO_INCREMENT,
		contract_id BIGINT UNSIGNED NOT NULL,
		position INT UNSIGNED NOT NULL,
		dn VARCHAR(512) NOT NULL,
		name VARCHAR(64) NOT NULL,
		rev_flt_ports VARCHAR(8) NOT NULL,
		service_graph VARCHAR(64) NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS kyc_filter (
		id BIGINT UNSIGNED PRIMARY KEY AUTO_INCREMENT,
		subject_id BIGINT UNSIGNED NOT NULL,
		position INT UNSIGNED NOT NULL,
		dn VARCHAR(512) NOT NULL,
		name VARCHAR(64) NOT NULL,
		action VARCHAR(16) NOT NULL,
		direction VARCHAR(32) NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS kyc_entry (
		id BIGINT UNSIGNED PRIMARY KEY AUTO_INCREMENT,
		filter_id BIGINT UNSIGNED NOT NULL,
		position INT UNSIGNED NOT NULL,
		name VARCHAR(64) NOT NULL,
		ether_type VARCHAR(16) NOT NULL,
		protocol VARCHAR(16) NOT NULL,
		src_port VARCHAR(64) NOT NULL,
		dst_port VARCHAR(64) NOT NULL,
		stateful VARCHAR(8) NOT NULL,
		tcp_rules VARCHAR(64) NOT NULL,
		icmp VARCHAR(128) NOT NULL,
		apply_to_frag VARCHAR(8) NOT NULL
	)`,
}

// MariaDBStore keeps contract snapshots in MariaDB.
type MariaDBStore struct {
	db *sql.DB
}

func NewMariaDBStore(dsn string) (*MariaDBStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	return &MariaDBStore{db: db}, nil
}

func (s *MariaDBStore) Close() {
	s.db.Close()
}

// EnsureSchema creates the snapshot tables when they are missing.
func (s *MariaDBStore) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return nil
}

// Save writes all contracts as one snapshot. Nothing is stored if any insert fails.
func (s *MariaDBStore) Save(ctx context.Context, snapshotID, controller string, contracts []model.Contract) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO kyc_snapshot (id, controller, created_at) VALUES (?, ?, ?)",
		snapshotID, controller, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to insert snapshot: %w", err)
	}
	for i, c := range contracts {
		if err := saveContract(ctx, tx, snapshotID, i, c); err != nil {
			return fmt.Errorf("contract %s: %w", c.DN, err)
		}
	}
	return tx.Commit()
}

func saveContract(ctx context.Context, tx *sql.Tx, snapshotID string, pos int, c model.Contract) error {
	contractID, err := insert(ctx, tx,
		"INSERT INTO kyc_contract (snapshot_id, position, dn, name, tenant, scope) VALUES (?, ?, ?, ?, ?, ?)",
		snapshotID, pos, c.DN, c.Name, c.Tenant, c.Scope)
	if err != nil {
		return err
	}

	endpoints := []struct {
		role string
		refs []model.EndpointRef
	}{
		{"source", c.Sources},
		{"destination", c.Destinations},
	}
	for _, group := range endpoints {
		for i, ref := range group.refs {
			if _, err := insert(ctx, tx,
				"INSERT INTO kyc_endpoint (contract_id, role, position, name, app, tenant, type) VALUES (?, ?, ?, ?, ?, ?, ?)",
				contractID, group.role, i, ref.Name, ref.App, ref.Tenant, ref.Type); err != nil {
				return err
			}
		}
	}

	for i, subj := range c.Subjects {
		subjectID, err := insert(ctx, tx,
			"INSERT INTO kyc_subject (contract_id, position, dn, name, rev_flt_ports, service_graph) VALUES (?, ?, ?, ?, ?, ?)",
			contractID, i, subj.DN, subj.Name, subj.RevFltPorts, subj.ServiceGraph)
		if err != nil {
			return err
		}
		for j, f := range subj.Filters {
			filterID, err := insert(ctx, tx,
				"INSERT INTO kyc_filter (subject_id, position, dn, name, action, direction) VALUES (?, ?, ?, ?, ?, ?)",
				subjectID, j, f.DN, f.Name, f.Action, f.Direction)
			if err != nil {
				return err
			}
			for k, e := range f.Entries {
				if _, err := insert(ctx, tx,
					`INSERT INTO kyc_entry (filter_id, position, name, ether_type, protocol, src_port, dst_port,
						stateful, tcp_rules, icmp, apply_to_frag) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
					filterID, k, e.Name, e.EtherType, e.Protocol, e.SrcPort, e.DstPort,
					e.Stateful, e.TCPRules, e.ICMP, e.ApplyToFrag); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func insert(ctx context.Context, tx *sql.Tx, query string, args ...any) (int64, error) {
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}
