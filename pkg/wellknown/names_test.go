package wellknown

import "testing"

func TestNormalizeMapsFabricCodes(t *testing.T) {
	// Every code in the table maps to its friendly label.
	cases := map[string]string{
		"unspecified": "any",
		"fvAEPg":      "EPG",
		"fvESg":       "ESG",
		"l2extInstP":  "L2Out",
		"l3extInstP":  "L3Out",
	}
	for code, want := range cases {
		if got := Normalize(code); got != want {
			t.Fatalf("Normalize(%q) = %q, want %q", code, got, want)
		}
	}
}

func TestNormalizeReturnsUnknownCodesUnchanged(t *testing.T) {
	for _, code := range []string{"", "443", "https", "echo-rep", "vzAny", "Unspecified", "l3extOut"} {
		if got := Normalize(code); got != code {
			t.Fatalf("Normalize(%q) = %q, want input unchanged", code, got)
		}
	}
}

func TestPortRangeCollapsesEqualEndpoints(t *testing.T) {
	for _, port := range []string{"3306", "unspecified", "https", ""} {
		if got, want := PortRange(port, port), Normalize(port); got != want {
			t.Fatalf("PortRange(%q, %q) = %q, want %q", port, port, got, want)
		}
	}
}

func TestPortRangeRendersRanges(t *testing.T) {
	cases := []struct {
		from, to, want string
	}{
		{"8000", "8080", "8000-8080"},
		{"unspecified", "1024", "any-1024"},
		{"http", "https", "http-https"},
	}
	for _, tc := range cases {
		if got := PortRange(tc.from, tc.to); got != tc.want {
			t.Fatalf("PortRange(%q, %q) = %q, want %q", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestICMPTypes(t *testing.T) {
	if got := ICMPTypes("", ""); got != "" {
		t.Fatalf("expected empty description, got %q", got)
	}
	want := "icmpv4: echo\nicmpv6: any"
	if got := ICMPTypes("echo", "unspecified"); got != want {
		t.Fatalf("ICMPTypes = %q, want %q", got, want)
	}
}
