package utils

import "strings"

// SplitDN splits a distinguished name into its relative names. Slashes inside
// bracketed names, e.g. "rtfvCons-[uni/tn-a/ap-b/epg-c]", do not split.
func SplitDN(dn string) []string {
	if dn == "" {
		return nil
	}
	var (
		parts []string
		depth int
		start int
	)
	for i := 0; i < len(dn); i++ {
		switch dn[i] {
		case '[':
			depth++
		case ']':
			if depth > 0 {
				depth--
			}
		case '/':
			if depth == 0 {
				parts = append(parts, dn[start:i])
				start = i + 1
			}
		}
	}
	return append(parts, dn[start:])
}

// RNValue strips the class prefix from a relative name: "epg-Web" yields
// "Web", "instP-ext" yields "ext". Bracketed values lose their brackets.
func RNValue(rn string) string {
	if i := strings.IndexByte(rn, '-'); i >= 0 {
		rn = rn[i+1:]
	}
	if strings.HasPrefix(rn, "[") && strings.HasSuffix(rn, "]") {
		rn = rn[1 : len(rn)-1]
	}
	return rn
}

// Segment returns the relative name at index i. Negative indexes count from
// the end, -1 being the last one.
func Segment(parts []string, i int) (string, bool) {
	if i < 0 {
		i += len(parts)
	}
	if i < 0 || i >= len(parts) {
		return "", false
	}
	return parts[i], true
}

// Tenant returns the tenant name of a DN rooted at "uni/tn-<name>".
func Tenant(dn string) (string, bool) {
	rn, ok := Segment(SplitDN(dn), 1)
	if !ok || !strings.HasPrefix(rn, "tn-") {
		return "", false
	}
	return RNValue(rn), true
}
