package apictest

const (
	WebToDBDN = "uni/tn-Prod/brc-Web-to-DB"
	subjectDN = WebToDBDN + "/subj-allow-3306"
	filterDN  = "uni/tn-Prod/flt-tcp-3306"
)

// Subtree returns the request URI of a subtree query.
func Subtree(dn string) string {
	return "/api/node/mo/" + dn + ".json?query-target=subtree"
}

// MOPath returns the request URI of a single object query.
func MOPath(dn string) string {
	return "/api/node/mo/" + dn + ".json"
}

// Contract returns a vzBrCP object.
func Contract(dn, name, scope string) map[string]any {
	return MO("vzBrCP", map[string]string{"dn": dn, "name": name, "scope": scope})
}

// Entry returns a vzEntry object for a TCP destination port range.
func Entry(dn, fromPort, toPort string) map[string]any {
	return MO("vzEntry", map[string]string{
		"dn":          dn,
		"etherT":      "ip",
		"prot":        "tcp",
		"sFromPort":   "unspecified",
		"sToPort":     "unspecified",
		"dFromPort":   fromPort,
		"dToPort":     toPort,
		"stateful":    "yes",
		"tcpRules":    "",
		"applyToFrag": "no",
		"icmpv4T":     "unspecified",
		"icmpv6T":     "unspecified",
	})
}

// LoadWebToDB registers contract "Web-to-DB" in tenant "Prod": consumer EPG
// Web, provider EPG DB and subject allow-3306 permitting tcp/3306.
func (c *Controller) LoadWebToDB() {
	c.Handle(MOPath(WebToDBDN), Reply(Contract(WebToDBDN, "Web-to-DB", "context")))
	c.Handle(Subtree(WebToDBDN), Reply(
		Contract(WebToDBDN, "Web-to-DB", "context"),
		MO("vzRtCons", map[string]string{
			"dn":  WebToDBDN + "/rtfvCons-[uni/tn-Prod/ap-AppA/epg-Web]",
			"tDn": "uni/tn-Prod/ap-AppA/epg-Web",
			"tCl": "fvAEPg",
		}),
		MO("vzRtProv", map[string]string{
			"dn":  WebToDBDN + "/rtfvProv-[uni/tn-Prod/ap-AppB/epg-DB]",
			"tDn": "uni/tn-Prod/ap-AppB/epg-DB",
			"tCl": "fvAEPg",
		}),
		MO("vzSubj", map[string]string{"dn": subjectDN, "name": "allow-3306", "revFltPorts": "yes"}),
		MO("vzRsSubjFiltAtt", map[string]string{
			"dn":     subjectDN + "/rssubjFiltAtt-tcp-3306",
			"action": "permit",
			"tDn":    filterDN,
		}),
	))
	c.Handle(Subtree(subjectDN), Reply(
		MO("vzSubj", map[string]string{"dn": subjectDN, "name": "allow-3306", "revFltPorts": "yes"}),
		MO("vzRsSubjFiltAtt", map[string]string{
			"dn":     subjectDN + "/rssubjFiltAtt-tcp-3306",
			"action": "permit",
			"tDn":    filterDN,
		}),
	))
	c.Handle(Subtree(filterDN), Reply(
		MO("vzFilter", map[string]string{"dn": filterDN, "name": "tcp-3306"}),
		Entry(filterDN+"/e-mysql", "3306", "3306"),
	))
}
