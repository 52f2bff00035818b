package parser

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"testing"

	"aci-kyc/internal/model"
	"aci-kyc/internal/output"

	_ "github.com/go-sql-driver/mysql"
	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
)

var testDB *sql.DB
var dsn = "root:static@tcp(127.0.0.1:3306)/aci_kyc"

func TestMain(m *testing.M) {
	if env := os.Getenv("KYC_TEST_DSN"); env != "" {
		dsn = env
	}
	db, err := sql.Open("mysql", dsn)
	if err == nil {
		if err = db.Ping(); err == nil {
			testDB = db
		}
	}
	if testDB == nil {
		fmt.Printf("MariaDB not reachable, skipping snapshot tests: %v\n", err)
	}
	os.Exit(m.Run())
}

func requireDB(t *testing.T) {
	t.Helper()
	if testDB == nil {
		t.Skip("MariaDB not reachable")
	}
}

func resetSchema(t *testing.T) {
	t.Helper()
	for _, table := range []string{"kyc_entry", "kyc_filter", "kyc_subject", "kyc_endpoint", "kyc_contract", "kyc_snapshot"} {
		testDB.Exec("DROP TABLE IF EXISTS " + table)
	}
}

func TestMariaDBParserLoadsSavedSnapshot(t *testing.T) {
	requireDB(t)
	resetSchema(t)
	ctx := context.Background()

	store, err := output.NewMariaDBStore(dsn)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	defer store.Close()
	if err := store.EnsureSchema(ctx); err != nil {
		t.Fatalf("failed to create schema: %v", err)
	}

	contracts := []model.Contract{
		{
			DN: "uni/tn-Prod/brc-Web-to-DB", Name: "Web-to-DB", Tenant: "Prod", Scope: "context",
			Sources: []model.EndpointRef{
				{Name: "Web", App: "AppA", Tenant: "Prod", Type: "EPG"},
				{Name: "VRF1", Tenant: "Prod", Type: "vzAny"},
			},
			Destinations: []model.EndpointRef{{Name: "DB", App: "AppB", Tenant: "Prod", Type: "EPG"}},
			Subjects: []model.Subject{{
				DN: "uni/tn-Prod/brc-Web-to-DB/subj-allow-3306", Name: "allow-3306",
				RevFltPorts: "yes", ServiceGraph: model.NoServiceGraph,
				Filters: []model.Filter{
					{
						DN: "uni/tn-Prod/flt-tcp-3306", Name: "tcp-3306", Action: "permit", Direction: "both",
						Entries: []model.FilterEntry{
							{Name: "mysql", EtherType: "ip", Protocol: "tcp", SrcPort: "any", DstPort: "3306", Stateful: "yes", ApplyToFrag: "no"},
							{Name: "mysqlx", EtherType: "ip", Protocol: "tcp", SrcPort: "any", DstPort: "33060", Stateful: "yes", ApplyToFrag: "no"},
						},
					},
					{Action: "deny", Direction: "both"},
				},
			}},
		},
		{DN: "uni/tn-common/brc-default", Name: "default", Tenant: "common", Scope: "context"},
	}
	older := uuid.NewString()
	if err := store.Save(ctx, older, "apic1", contracts[1:]); err != nil {
		t.Fatalf("failed to save first snapshot: %v", err)
	}
	newest := uuid.NewString()
	if err := store.Save(ctx, newest, "apic1", contracts); err != nil {
		t.Fatalf("failed to save snapshot: %v", err)
	}

	p, err := NewMariaDBParser(dsn, "")
	if err != nil {
		t.Fatalf("failed to create parser: %v", err)
	}
	defer p.Close()
	if err := p.Parse(ctx); err != nil {
		t.Fatalf("failed to parse: %v", err)
	}
	if p.SnapshotID != newest {
		t.Fatalf("expected newest snapshot %s, got %s", newest, p.SnapshotID)
	}
	if diff := cmp.Diff(contracts, p.Contracts); diff != "" {
		t.Fatalf("unexpected contracts (-want +got):\n%s", diff)
	}

	byID, err := NewMariaDBParser(dsn, older)
	if err != nil {
		t.Fatalf("failed to create parser: %v", err)
	}
	defer byID.Close()
	if err := byID.Parse(ctx); err != nil {
		t.Fatalf("failed to parse: %v", err)
	}
	if len(byID.Contracts) != 1 || byID.Contracts[0].Name != "default" {
		t.Fatalf("expected the older snapshot, got %#v", byID.Contracts)
	}
}

func TestMariaDBParserUnknownSnapshot(t *testing.T) {
	requireDB(t)
	resetSchema(t)
	store, err := output.NewMariaDBStore(dsn)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	defer store.Close()
	if err := store.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("failed to create schema: %v", err)
	}

	p, err := NewMariaDBParser(dsn, "does-not-exist")
	if err != nil {
		t.Fatalf("failed to create parser: %v", err)
	}
	defer p.Close()
	if err := p.Parse(context.Background()); !errors.Is(err, ErrNoSnapshot) {
		t.Fatalf("expected ErrNoSnapshot, got %v", err)
	}
}

func TestNewMariaDBParserErrors(t *testing.T) {
	_, err := NewMariaDBParser("invalid-dsn", "")
	if err == nil {
		t.Errorf("expected error for invalid DSN")
	}
}
