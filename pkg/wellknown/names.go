package wellknown

import "fmt"

// Any is the label used for unspecified ports, ICMP types and similar wildcards.
const Any = "any"

var friendlyNames = map[string]string{
	"unspecified": Any,
	"fvAEPg":      "EPG",
	"fvESg":       "ESG",
	"l2extInstP":  "L2Out",
	"l3extInstP":  "L3Out",
}

// Normalize replaces fabric class and port codes with readable labels.
// Unknown codes are returned unchanged.
func Normalize(code string) string {
	if name, ok := friendlyNames[code]; ok {
		return name
	}
	return code
}

// PortRange renders a from/to port pair. Equal endpoints collapse to a
// single value, otherwise "<from>-<to>" is returned.
func PortRange(from, to string) string {
	f, t := Normalize(from), Normalize(to)
	if f == t {
		return f
	}
	return fmt.Sprintf("%s-%s", f, t)
}

// ICMPTypes combines the v4 and v6 ICMP type codes of a filter entry into a
// single description. It returns "" when the entry carries neither.
func ICMPTypes(v4, v6 string) string {
	if v4 == "" && v6 == "" {
		return ""
	}
	return fmt.Sprintf("icmpv4: %s\nicmpv6: %s", Normalize(v4), Normalize(v6))
}
