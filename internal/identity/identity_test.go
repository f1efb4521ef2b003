package identity

import (
	"errors"
	"strings"
	"testing"
)

func TestFromParamsNormalizes(t *testing.T) {
	tests := []struct {
		uid, place string
		want       Identity
	}{
		{"42", "100", "42|100"},
		{" 42 ", " 100 ", "42|100"},
		{"abc-12", "pl ace", "ABC12|PLACE"},
		{"User_7", "9!9", "USER7|99"},
	}
	for _, tt := range tests {
		got, err := FromParams(tt.uid, tt.place)
		if err != nil {
			t.Fatalf("FromParams(%q, %q): %v", tt.uid, tt.place, err)
		}
		if got != tt.want {
			t.Errorf("FromParams(%q, %q) = %q, want %q", tt.uid, tt.place, got, tt.want)
		}
	}
}

func TestFromParamsMissing(t *testing.T) {
	for _, tt := range [][2]string{{"", "100"}, {"42", ""}, {"  ", "100"}, {"!!!", "100"}} {
		if _, err := FromParams(tt[0], tt[1]); !errors.Is(err, ErrMissingParameter) {
			t.Errorf("FromParams(%q, %q): got %v, want ErrMissingParameter", tt[0], tt[1], err)
		}
	}
}

func TestUIDOnly(t *testing.T) {
	id, err := UIDOnly(" abc ")
	if err != nil {
		t.Fatalf("UIDOnly: %v", err)
	}
	if id != "ABC|" {
		t.Fatalf("UIDOnly = %q, want ABC|", id)
	}
	if !id.Partial() {
		t.Fatal("uid-only identity must report Partial")
	}
	if _, err := UIDOnly(""); !errors.Is(err, ErrMissingParameter) {
		t.Fatalf("got %v, want ErrMissingParameter", err)
	}
}

func TestMatches(t *testing.T) {
	tests := []struct {
		bound, presented Identity
		want             bool
	}{
		{"42|100", "42|100", true},
		{"42|100", "42|", true},
		{"42|100", "99|100", false},
		{"42|100", "99|", false},
		{"42|100", "42|200", false},
		{"42|100", "4|", false},
		{"fp|abcd", "fp|abcd", true},
		{"fp|abcd", "fp|efgh", false},
	}
	for _, tt := range tests {
		if got := Matches(tt.bound, tt.presented); got != tt.want {
			t.Errorf("Matches(%q, %q) = %v, want %v", tt.bound, tt.presented, got, tt.want)
		}
	}
}

func TestFingerprintStable(t *testing.T) {
	a := Fingerprint("10.0.0.1", "Roblox/WinInet")
	b := Fingerprint("10.0.0.1", "Roblox/WinInet")
	if a != b {
		t.Fatalf("fingerprint not stable: %q vs %q", a, b)
	}
	if !strings.HasPrefix(string(a), "fp|") {
		t.Fatalf("fingerprint missing prefix: %q", a)
	}
	if c := Fingerprint("10.0.0.2", "Roblox/WinInet"); c == a {
		t.Fatal("distinct IPs produced the same fingerprint")
	}
	if c := Fingerprint("10.0.0.1", "curl/8.0"); c == a {
		t.Fatal("distinct user agents produced the same fingerprint")
	}
}

func TestFromDeviceIDCapsLength(t *testing.T) {
	id, err := FromDeviceID(strings.Repeat("a", 200))
	if err != nil {
		t.Fatalf("FromDeviceID: %v", err)
	}
	if got := len(string(id)); got != len("dev|")+64 {
		t.Fatalf("device identity length = %d, want %d", got, len("dev|")+64)
	}
	if _, err := FromDeviceID("   "); !errors.Is(err, ErrMissingParameter) {
		t.Fatalf("got %v, want ErrMissingParameter", err)
	}
}

func TestUID(t *testing.T) {
	id, _ := FromParams("42", "100")
	if id.UID() != "42" {
		t.Fatalf("UID() = %q, want 42", id.UID())
	}
	if id.Partial() {
		t.Fatal("full identity must not report Partial")
	}
}
