package parser

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"aci-kyc/internal/apic"
	"aci-kyc/internal/apic/apictest"
	"aci-kyc/internal/model"

	"github.com/google/go-cmp/cmp"
)

func newTestParser(t *testing.T, ctrl *apictest.Controller, query Query, concurrency int) *APICParser {
	t.Helper()
	client := apic.NewClient(apic.Options{
		Host:       ctrl.URL,
		Username:   ctrl.Username,
		Password:   ctrl.Password,
		HTTPClient: ctrl.Client(),
	})
	if err := client.Login(context.Background()); err != nil {
		t.Fatalf("login failed: %v", err)
	}
	return NewAPICParser(client, query, concurrency)
}

func TestAPICParserExtractsContract(t *testing.T) {
	ctrl := apictest.NewController()
	defer ctrl.Close()
	ctrl.LoadWebToDB()

	p := newTestParser(t, ctrl, Query{Tenant: "Prod", Contract: "Web-to-DB"}, 1)
	if err := p.Parse(context.Background()); err != nil {
		t.Fatalf("expected parse to succeed, got %v", err)
	}

	want := []model.Contract{{
		DN:     apictest.WebToDBDN,
		Name:   "Web-to-DB",
		Tenant: "Prod",
		Scope:  "context",
		Sources: []model.EndpointRef{
			{Name: "Web", App: "AppA", Tenant: "Prod", Type: "EPG"},
		},
		Destinations: []model.EndpointRef{
			{Name: "DB", App: "AppB", Tenant: "Prod", Type: "EPG"},
		},
		Subjects: []model.Subject{{
			DN:           apictest.WebToDBDN + "/subj-allow-3306",
			Name:         "allow-3306",
			RevFltPorts:  "yes",
			ServiceGraph: model.NoServiceGraph,
			Filters: []model.Filter{{
				DN:        "uni/tn-Prod/flt-tcp-3306",
				Name:      "tcp-3306",
				Action:    "permit",
				Direction: "both",
				Entries: []model.FilterEntry{{
					Name:        "mysql",
					EtherType:   "ip",
					Protocol:    "tcp",
					SrcPort:     "any",
					DstPort:     "3306",
					Stateful:    "yes",
					ICMP:        "icmpv4: any\nicmpv6: any",
					ApplyToFrag: "no",
				}},
			}},
		}},
	}}
	if diff := cmp.Diff(want, p.Contracts); diff != "" {
		t.Fatalf("unexpected contracts (-want +got):\n%s", diff)
	}
}

func TestAPICParserHandlesAnyScopedReferences(t *testing.T) {
	ctrl := apictest.NewController()
	defer ctrl.Close()
	dn := "uni/tn-common/brc-default"
	ctrl.Handle(apictest.MOPath(dn), apictest.Reply(apictest.Contract(dn, "default", "context")))
	ctrl.Handle(apictest.Subtree(dn), apictest.Reply(
		apictest.MO("vzRtAnyToCons", map[string]string{
			"dn":  dn + "/rtvzAnyToCons-[uni/tn-common/ctx-Default/any]",
			"tDn": "uni/tn-common/ctx-Default/any",
			"tCl": "vzAny",
		}),
		apictest.MO("vzRtAnyToProv", map[string]string{
			"dn":  dn + "/rtvzAnyToProv-[uni/tn-Prod/ctx-VRF1/any]",
			"tDn": "uni/tn-Prod/ctx-VRF1/any",
			"tCl": "vzAny",
		}),
		apictest.MO("vzRtCons", map[string]string{
			"dn":  dn + "/rtfvCons-[uni/tn-common/out-Inet/instP-ext]",
			"tDn": "uni/tn-common/out-Inet/instP-ext",
			"tCl": "l3extInstP",
		}),
	))

	p := newTestParser(t, ctrl, Query{Tenant: "common", Contract: "default"}, 1)
	if err := p.Parse(context.Background()); err != nil {
		t.Fatalf("expected parse to succeed, got %v", err)
	}
	c := p.Contracts[0]
	wantSources := []model.EndpointRef{
		{Name: "Default", App: "", Tenant: "common", Type: "vzAny"},
		{Name: "ext", App: "Inet", Tenant: "common", Type: "L3Out"},
	}
	if diff := cmp.Diff(wantSources, c.Sources); diff != "" {
		t.Fatalf("unexpected sources (-want +got):\n%s", diff)
	}
	wantDest := []model.EndpointRef{{Name: "VRF1", App: "", Tenant: "common", Type: "vzAny"}}
	if diff := cmp.Diff(wantDest, c.Destinations); diff != "" {
		t.Fatalf("unexpected destinations (-want +got):\n%s", diff)
	}
	if len(c.Subjects) != 0 {
		t.Fatalf("expected no subjects, got %d", len(c.Subjects))
	}
}

// twoSubjectController serves a contract whose subjects own different filters.
func twoSubjectController() *apictest.Controller {
	ctrl := apictest.NewController()
	dn := "uni/tn-Prod/brc-multi"
	subjA, subjB := dn+"/subj-a", dn+"/subj-b"
	ctrl.Handle(apictest.MOPath(dn), apictest.Reply(apictest.Contract(dn, "multi", "tenant")))
	ctrl.Handle(apictest.Subtree(dn), apictest.Reply(
		apictest.MO("vzSubj", map[string]string{"dn": subjA, "revFltPorts": "yes"}),
		apictest.MO("vzSubj", map[string]string{"dn": subjB, "revFltPorts": "no"}),
	))
	ctrl.Handle(apictest.Subtree(subjA), apictest.Reply(
		apictest.MO("vzRsSubjGraphAtt", map[string]string{"dn": subjA + "/rsSubjGraphAtt", "tnVnsAbsGraphName": "fw-graph"}),
		apictest.MO("vzRsSubjFiltAtt", map[string]string{"dn": subjA + "/rssubjFiltAtt-fa", "action": "permit", "tDn": "uni/tn-Prod/flt-fa"}),
	))
	ctrl.Handle(apictest.Subtree(subjB), apictest.Reply(
		apictest.MO("vzRsFiltAtt", map[string]string{"dn": subjB + "/intmnl/rsfiltAtt-fb", "action": "deny", "tDn": "uni/tn-Prod/flt-fb"}),
		apictest.MO("vzRsFiltAtt", map[string]string{"dn": subjB + "/outtmnl/rsfiltAtt-gone", "action": "permit", "tDn": ""}),
	))
	ctrl.Handle(apictest.Subtree("uni/tn-Prod/flt-fa"), apictest.Reply(
		apictest.MO("vzFilter", map[string]string{"dn": "uni/tn-Prod/flt-fa", "name": "fa"}),
		apictest.Entry("uni/tn-Prod/flt-fa/e-web", "http", "https"),
		apictest.Entry("uni/tn-Prod/flt-fa/e-alt", "8080", "8080"),
	))
	ctrl.Handle(apictest.Subtree("uni/tn-Prod/flt-fb"), apictest.Reply(
		apictest.MO("vzFilter", map[string]string{"dn": "uni/tn-Prod/flt-fb", "name": "fb"}),
		apictest.Entry("uni/tn-Prod/flt-fb/e-ssh", "22", "22"),
	))
	return ctrl
}

func TestAPICParserKeysFiltersBySubject(t *testing.T) {
	for _, concurrency := range []int{1, 4} {
		ctrl := twoSubjectController()
		p := newTestParser(t, ctrl, Query{Tenant: "Prod", Contract: "multi"}, concurrency)
		err := p.Parse(context.Background())
		ctrl.Close()
		if err != nil {
			t.Fatalf("concurrency %d: expected parse to succeed, got %v", concurrency, err)
		}

		subjects := p.Contracts[0].Subjects
		if len(subjects) != 2 {
			t.Fatalf("concurrency %d: expected 2 subjects, got %d", concurrency, len(subjects))
		}
		a, b := subjects[0], subjects[1]
		if a.Name != "a" || a.ServiceGraph != "fw-graph" || len(a.Filters) != 1 || a.Filters[0].Name != "fa" {
			t.Fatalf("concurrency %d: unexpected subject a: %#v", concurrency, a)
		}
		if got := []string{a.Filters[0].Entries[0].DstPort, a.Filters[0].Entries[1].DstPort}; got[0] != "http-https" || got[1] != "8080" {
			t.Fatalf("concurrency %d: unexpected entry ports %v", concurrency, got)
		}
		if b.ServiceGraph != model.NoServiceGraph || len(b.Filters) != 2 {
			t.Fatalf("concurrency %d: unexpected subject b: %#v", concurrency, b)
		}
		if f := b.Filters[0]; f.Name != "fb" || f.Action != "deny" || f.Direction != "consumer-to-provider" {
			t.Fatalf("concurrency %d: unexpected filter fb: %#v", concurrency, f)
		}
		if f := b.Filters[1]; f.Name != "" || f.Action != "permit" || f.Entries != nil || f.Direction != "provider-to-consumer" {
			t.Fatalf("concurrency %d: unresolved attachment should only carry its action: %#v", concurrency, f)
		}
	}
}

func TestAPICParserReportsEmptyResult(t *testing.T) {
	ctrl := apictest.NewController()
	defer ctrl.Close()

	p := newTestParser(t, ctrl, Query{Tenant: "Nope"}, 1)
	if err := p.Parse(context.Background()); !errors.Is(err, ErrNoContracts) {
		t.Fatalf("expected ErrNoContracts, got %v", err)
	}
	reqs := ctrl.Requests()
	want := "/api/node/class/vzBrCP.json?query-target-filter=wcard%28vzBrCP.dn%2C%22uni%2Ftn-Nope%2F%22%29"
	if len(reqs) != 1 || reqs[0] != want {
		t.Fatalf("expected tenant wildcard class query, got %v", reqs)
	}
}

func TestAPICParserAbortsOnTransportFailure(t *testing.T) {
	ctrl := apictest.NewController()
	defer ctrl.Close()
	ctrl.LoadWebToDB()
	ctrl.Fail(apictest.Subtree("uni/tn-Prod/flt-tcp-3306"), http.StatusServiceUnavailable)

	p := newTestParser(t, ctrl, Query{Targets: []ContractTarget{{Tenant: "Prod", Contract: "Web-to-DB"}}}, 1)
	err := p.Parse(context.Background())
	var statusErr *apic.StatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 StatusError, got %v", err)
	}
	if len(p.Contracts) != 0 {
		t.Fatalf("expected no partial contracts, got %d", len(p.Contracts))
	}
}

func TestAPICParserRejectsMalformedObjects(t *testing.T) {
	ctrl := apictest.NewController()
	defer ctrl.Close()
	dn := "uni/tn-Prod/brc-broken"
	ctrl.Handle(apictest.MOPath(dn), apictest.Reply(apictest.Contract(dn, "broken", "context")))
	ctrl.Handle(apictest.Subtree(dn), apictest.Reply(
		apictest.MO("vzRtCons", map[string]string{"dn": dn + "/rtfvCons-[x]", "tCl": "fvAEPg"}),
	))

	p := newTestParser(t, ctrl, Query{Tenant: "Prod", Contract: "broken"}, 1)
	if err := p.Parse(context.Background()); !errors.Is(err, apic.ErrUnexpectedShape) {
		t.Fatalf("expected ErrUnexpectedShape, got %v", err)
	}
}

func TestDirection(t *testing.T) {
	cases := map[string]string{
		"uni/tn-a/brc-b/subj-c/rssubjFiltAtt-f":     "both",
		"uni/tn-a/brc-b/subj-c/intmnl/rsfiltAtt-f":  "consumer-to-provider",
		"uni/tn-a/brc-b/subj-c/outtmnl/rsfiltAtt-f": "provider-to-consumer",
	}
	for dn, want := range cases {
		if got := direction(dn); got != want {
			t.Errorf("direction(%q) = %q, want %q", dn, got, want)
		}
	}
}
