package model

// NoServiceGraph is recorded for subjects without a service graph attachment.
const NoServiceGraph = "N/A"

type Contract struct {
	DN           string
	Name         string
	Tenant       string
	Scope        string
	Sources      []EndpointRef // consumers
	Destinations []EndpointRef // providers
	Subjects     []Subject
}

type EndpointRef struct {
	Name   string
	App    string // empty for vzAny references
	Tenant string
	Type   string // "EPG", "ESG", "L2Out", "L3Out" or the raw class
}

type Subject struct {
	DN           string
	Name         string
	RevFltPorts  string
	ServiceGraph string
	Filters      []Filter
}

type Filter struct {
	DN        string // filter target, empty when the attachment is unresolved
	Name      string
	Action    string // "permit", "deny"
	Direction string // "both", "consumer-to-provider", "provider-to-consumer"
	Entries   []FilterEntry
}

type FilterEntry struct {
	Name        string
	EtherType   string
	Protocol    string
	SrcPort     string
	DstPort     string
	Stateful    string
	TCPRules    string
	ICMP        string
	ApplyToFrag string
}

// Identity returns the "<tenant>:<app>:<name>" label of an endpoint reference.
func (e EndpointRef) Identity() string {
	return e.Tenant + ":" + e.App + ":" + e.Name
}

// EntryCount returns the number of filter entries below the subject.
func (s Subject) EntryCount() int {
	n := 0
	for _, f := range s.Filters {
		n += len(f.Entries)
	}
	return n
}
