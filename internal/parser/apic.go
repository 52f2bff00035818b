package parser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"aci-kyc/internal/apic"
	"aci-kyc/internal/model"
	"aci-kyc/internal/utils"
	"aci-kyc/pkg/wellknown"

	"golang.org/x/sync/errgroup"
)

// ErrNoContracts is returned when the contract query matches nothing.
var ErrNoContracts = errors.New("0 contracts found, contract or tenant name not defined properly")

// Fetcher is the part of the fabric client the parser needs.
type Fetcher interface {
	MO(ctx context.Context, dn string) (*apic.Response, error)
	Subtree(ctx context.Context, dn string) (*apic.Response, error)
	Class(ctx context.Context, class string, filter apic.ClassFilter) (*apic.Response, error)
}

// Query selects the contracts to export. Targets take precedence over
// Tenant/Contract, which take precedence over the wildcard filters.
type Query struct {
	Tenant     string
	Contract   string
	DNFilter   string
	NameFilter string
	Targets    []ContractTarget
}

type APICParser struct {
	client      Fetcher
	query       Query
	concurrency int

	Contracts []model.Contract
}

// NewAPICParser builds a parser. A concurrency above 1 resolves the subjects
// of a contract in parallel; results keep the controller's order.
func NewAPICParser(client Fetcher, query Query, concurrency int) *APICParser {
	if concurrency < 1 {
		concurrency = 1
	}
	return &APICParser{client: client, query: query, concurrency: concurrency}
}

func (p *APICParser) Parse(ctx context.Context) error {
	nodes, err := p.listContracts(ctx)
	if err != nil {
		return err
	}
	contracts := make([]model.Contract, 0, len(nodes))
	for _, node := range nodes {
		contract, err := p.contract(ctx, node)
		if err != nil {
			return err
		}
		entries := 0
		for _, subj := range contract.Subjects {
			entries += subj.EntryCount()
		}
		slog.Info("Extracted contract",
			"tenant", contract.Tenant,
			"contract", contract.Name,
			"sources", len(contract.Sources),
			"destinations", len(contract.Destinations),
			"subjects", len(contract.Subjects),
			"entries", entries)
		contracts = append(contracts, contract)
	}
	p.Contracts = contracts
	return nil
}

func (p *APICParser) listContracts(ctx context.Context) ([]apic.Node, error) {
	q := p.query
	switch {
	case len(q.Targets) > 0:
		var nodes []apic.Node
		for _, target := range q.Targets {
			found, err := contractNodes(p.client.MO(ctx, target.DN()))
			if err != nil {
				return nil, fmt.Errorf("%s: %w", target.DN(), err)
			}
			nodes = append(nodes, found...)
		}
		return nodes, nil
	case q.Tenant != "" && q.Contract != "":
		target := ContractTarget{Tenant: q.Tenant, Contract: q.Contract}
		return contractNodes(p.client.MO(ctx, target.DN()))
	default:
		filter := apic.ClassFilter{DN: q.DNFilter, Name: q.NameFilter}
		if filter.DN == "" && q.Tenant != "" {
			filter.DN = "uni/tn-" + q.Tenant + "/"
		}
		if filter.Name == "" && q.Contract != "" {
			filter.Name = q.Contract
		}
		return contractNodes(p.client.Class(ctx, "vzBrCP", filter))
	}
}

// contractNodes checks a contract query reply and returns its vzBrCP objects.
func contractNodes(resp *apic.Response, err error) ([]apic.Node, error) {
	if err != nil {
		return nil, err
	}
	count, err := resp.Count()
	if err != nil {
		return nil, err
	}
	if count == 0 || len(resp.Imdata) == 0 {
		return nil, ErrNoContracts
	}
	for _, node := range resp.Imdata {
		if node.Kind != apic.KindContract {
			return nil, fmt.Errorf("%w: expected vzBrCP, got %s", apic.ErrUnexpectedShape, node.Class)
		}
	}
	return resp.Imdata, nil
}

func (p *APICParser) contract(ctx context.Context, node apic.Node) (model.Contract, error) {
	dn, err := node.DN()
	if err != nil {
		return model.Contract{}, err
	}
	name, err := node.Attr("name")
	if err != nil {
		return model.Contract{}, err
	}
	scope, err := node.Attr("scope")
	if err != nil {
		return model.Contract{}, err
	}
	tenant, ok := utils.Tenant(dn)
	if !ok {
		return model.Contract{}, fmt.Errorf("%w: contract DN %q is not below a tenant", apic.ErrUnexpectedShape, dn)
	}

	c := model.Contract{DN: dn, Name: name, Tenant: tenant, Scope: scope}
	c.Sources, c.Destinations, c.Subjects, err = p.contractDetails(ctx, dn)
	if err != nil {
		return model.Contract{}, fmt.Errorf("contract %s: %w", dn, err)
	}
	return c, nil
}

// contractDetails walks the contract subtree for its consumers, providers and
// subjects, then resolves every subject's filters and service graph.
func (p *APICParser) contractDetails(ctx context.Context, dn string) ([]model.EndpointRef, []model.EndpointRef, []model.Subject, error) {
	resp, err := p.client.Subtree(ctx, dn)
	if err != nil {
		return nil, nil, nil, err
	}

	var (
		sources      []model.EndpointRef
		destinations []model.EndpointRef
		subjects     []model.Subject
	)
	for _, node := range resp.Imdata {
		switch node.Kind {
		case apic.KindSourceRef, apic.KindSourceRefAny:
			ref, err := endpointRef(node)
			if err != nil {
				return nil, nil, nil, err
			}
			sources = append(sources, ref)
		case apic.KindDestRef, apic.KindDestRefAny:
			ref, err := endpointRef(node)
			if err != nil {
				return nil, nil, nil, err
			}
			destinations = append(destinations, ref)
		case apic.KindSubject:
			subj, err := subject(node)
			if err != nil {
				return nil, nil, nil, err
			}
			subjects = append(subjects, subj)
		}
	}

	if err := p.resolveSubjects(ctx, subjects); err != nil {
		return nil, nil, nil, err
	}
	return sources, destinations, subjects, nil
}

func endpointRef(node apic.Node) (model.EndpointRef, error) {
	dn, err := node.DN()
	if err != nil {
		return model.EndpointRef{}, err
	}
	tDn, err := node.Attr("tDn")
	if err != nil {
		return model.EndpointRef{}, err
	}
	tCl, err := node.Attr("tCl")
	if err != nil {
		return model.EndpointRef{}, err
	}
	tenant, ok := utils.Tenant(dn)
	if !ok {
		return model.EndpointRef{}, fmt.Errorf("%w: %s DN %q is not below a tenant", apic.ErrUnexpectedShape, node.Class, dn)
	}

	ref := model.EndpointRef{Tenant: tenant, Type: wellknown.Normalize(tCl)}
	parts := utils.SplitDN(tDn)
	if node.Kind == apic.KindSourceRefAny || node.Kind == apic.KindDestRefAny {
		// vzAny lives at uni/tn-x/ctx-<vrf>/any and has no application profile.
		rn, ok := utils.Segment(parts, -2)
		if !ok {
			return model.EndpointRef{}, fmt.Errorf("%w: %s target %q too short", apic.ErrUnexpectedShape, node.Class, tDn)
		}
		ref.Name = utils.RNValue(rn)
		return ref, nil
	}

	nameRN, ok1 := utils.Segment(parts, -1)
	appRN, ok2 := utils.Segment(parts, -2)
	if !ok1 || !ok2 {
		return model.EndpointRef{}, fmt.Errorf("%w: %s target %q too short", apic.ErrUnexpectedShape, node.Class, tDn)
	}
	ref.Name = utils.RNValue(nameRN)
	ref.App = utils.RNValue(appRN)
	return ref, nil
}

func subject(node apic.Node) (model.Subject, error) {
	dn, err := node.DN()
	if err != nil {
		return model.Subject{}, err
	}
	rev, err := node.Attr("revFltPorts")
	if err != nil {
		return model.Subject{}, err
	}
	rn, _ := utils.Segment(utils.SplitDN(dn), -1)
	return model.Subject{
		DN:           dn,
		Name:         utils.RNValue(rn),
		RevFltPorts:  rev,
		ServiceGraph: model.NoServiceGraph,
	}, nil
}

func (p *APICParser) resolveSubjects(ctx context.Context, subjects []model.Subject) error {
	if p.concurrency <= 1 || len(subjects) <= 1 {
		for i := range subjects {
			if err := p.resolveSubject(ctx, &subjects[i]); err != nil {
				return err
			}
		}
		return nil
	}

	// Each goroutine owns one slot, so the result order matches the subtree order.
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for i := range subjects {
		subj := &subjects[i]
		g.Go(func() error {
			return p.resolveSubject(gctx, subj)
		})
	}
	return g.Wait()
}

// resolveSubject queries the subject subtree. Filters found there belong to
// this subject, whatever order other subjects are resolved in.
func (p *APICParser) resolveSubject(ctx context.Context, subj *model.Subject) error {
	slog.Debug("Resolving subject", "subject", subj.DN)
	resp, err := p.client.Subtree(ctx, subj.DN)
	if err != nil {
		return fmt.Errorf("subject %s: %w", subj.DN, err)
	}
	for _, node := range resp.Imdata {
		switch node.Kind {
		case apic.KindSubjectGraphAtt:
			graph, err := node.Attr("tnVnsAbsGraphName")
			if err != nil {
				return err
			}
			if graph != "" {
				subj.ServiceGraph = graph
			}
		case apic.KindSubjectFilterAtt:
			f, err := p.filter(ctx, node)
			if err != nil {
				return fmt.Errorf("subject %s: %w", subj.DN, err)
			}
			subj.Filters = append(subj.Filters, f)
		}
	}
	return nil
}

func (p *APICParser) filter(ctx context.Context, att apic.Node) (model.Filter, error) {
	dn, err := att.DN()
	if err != nil {
		return model.Filter{}, err
	}
	action, err := att.Attr("action")
	if err != nil {
		return model.Filter{}, err
	}
	tDn, err := att.Attr("tDn")
	if err != nil {
		return model.Filter{}, err
	}

	f := model.Filter{Action: action, Direction: direction(dn)}
	if tDn == "" {
		slog.Warn("Filter attachment has no resolved target", "attachment", dn)
		return f, nil
	}
	f.DN = tDn

	resp, err := p.client.Subtree(ctx, tDn)
	if err != nil {
		return model.Filter{}, fmt.Errorf("filter %s: %w", tDn, err)
	}
	for _, node := range resp.Imdata {
		switch node.Kind {
		case apic.KindFilter:
			if f.Name, err = node.Attr("name"); err != nil {
				return model.Filter{}, err
			}
		case apic.KindFilterEntry:
			entry, err := filterEntry(node)
			if err != nil {
				return model.Filter{}, fmt.Errorf("filter %s: %w", tDn, err)
			}
			f.Entries = append(f.Entries, entry)
		}
	}
	return f, nil
}

func direction(attachmentDN string) string {
	switch {
	case strings.Contains(attachmentDN, "/intmnl/"):
		return "consumer-to-provider"
	case strings.Contains(attachmentDN, "/outtmnl/"):
		return "provider-to-consumer"
	default:
		return "both"
	}
}

var entryAttrs = []string{
	"dn", "etherT", "prot", "sFromPort", "sToPort", "dFromPort", "dToPort",
	"stateful", "tcpRules", "applyToFrag",
}

func filterEntry(node apic.Node) (model.FilterEntry, error) {
	attrs := make(map[string]string, len(entryAttrs))
	for _, name := range entryAttrs {
		v, err := node.Attr(name)
		if err != nil {
			return model.FilterEntry{}, err
		}
		attrs[name] = v
	}
	rn, _ := utils.Segment(utils.SplitDN(attrs["dn"]), -1)
	return model.FilterEntry{
		Name:        utils.RNValue(rn),
		EtherType:   attrs["etherT"],
		Protocol:    attrs["prot"],
		SrcPort:     wellknown.PortRange(attrs["sFromPort"], attrs["sToPort"]),
		DstPort:     wellknown.PortRange(attrs["dFromPort"], attrs["dToPort"]),
		Stateful:    attrs["stateful"],
		TCPRules:    attrs["tcpRules"],
		ICMP:        wellknown.ICMPTypes(node.Attrs["icmpv4T"], node.Attrs["icmpv6T"]),
		ApplyToFrag: attrs["applyToFrag"],
	}, nil
}
