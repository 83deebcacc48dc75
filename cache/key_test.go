package cache

import (
	"errors"
	"regexp"
	"testing"
)

func TestCanonicalLocation(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"/opt/lib/a.jar", "file:///opt/lib/a.jar"},
		{"file:///opt/lib/a.jar", "file:///opt/lib/a.jar"},
		{"file:/opt/lib/a.jar", "file:///opt/lib/a.jar"},
		{"FILE:///opt/lib/a.jar", "file:///opt/lib/a.jar"},
		{"/opt/lib/../lib/./a.jar", "file:///opt/lib/a.jar"},
		{"/opt/lib//a.jar", "file:///opt/lib/a.jar"},
		{"/opt/lib/", "file:///opt/lib/"},
		{"/opt/lib", "file:///opt/lib"},
		{"/opt/my lib/a.jar", "file:///opt/my%20lib/a.jar"},
		{"file:///opt/my%20lib/a.jar", "file:///opt/my%20lib/a.jar"},
		{"https://Repo.Example.com/m2/../m2/a.jar", "https://repo.example.com/m2/a.jar"},
		{"lib/a.jar", "lib/a.jar"},
		{"./lib/a.jar", "lib/a.jar"},
		{"lib/classes/", "lib/classes/"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := CanonicalLocation(tt.in); got != tt.want {
				t.Errorf("CanonicalLocation(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestDeriveKey(t *testing.T) {
	tests := []struct {
		name  string
		a, b  []string
		equal bool
	}{
		{"identical", []string{"/a.jar", "/b.jar"}, []string{"/a.jar", "/b.jar"}, true},
		{"path and file uri", []string{"/opt/a.jar"}, []string{"file:///opt/a.jar"}, true},
		{"unclean path", []string{"/opt/x/../a.jar"}, []string{"/opt/a.jar"}, true},
		{"order matters", []string{"/a.jar", "/b.jar"}, []string{"/b.jar", "/a.jar"}, false},
		{"framing", []string{"a:b", "c"}, []string{"a", "b:c"}, false},
		{"directory vs file", []string{"/opt/lib/"}, []string{"/opt/lib"}, false},
		{"extra location", []string{"/a.jar"}, []string{"/a.jar", "/a.jar"}, false},
		{"empty vs one", nil, []string{"/a.jar"}, false},
		{"invalid utf-8 relative", []string{"lib/a\xff.jar"}, []string{"lib/a\xfe.jar"}, false},
		{"invalid utf-8 opaque", []string{"urn:a\xff"}, []string{"urn:a\xfe"}, false},
		{"invalid utf-8 vs replacement", []string{"lib/a\xff.jar"}, []string{"lib/a\uFFFD.jar"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ka, kb := DeriveKey(tt.a), DeriveKey(tt.b)
			if (ka == kb) != tt.equal {
				t.Errorf("DeriveKey(%q) = %s, DeriveKey(%q) = %s, equal = %v, want %v",
					tt.a, ka, tt.b, kb, ka == kb, tt.equal)
			}
		})
	}
}

func TestDeriveKey_Format(t *testing.T) {
	re := regexp.MustCompile(`^classpath:[0-9a-f]{32}$`)

	for _, locs := range [][]string{nil, {"/a.jar"}, {"https://repo/x.jar", "lib/"}} {
		if k := DeriveKey(locs); !re.MatchString(k.String()) {
			t.Errorf("DeriveKey(%q) = %q, does not match %s", locs, k, re)
		}
	}
}

func TestDeriveKey_Stable(t *testing.T) {
	const want Key = "classpath:c866e20e66c1ed18814a0057ea210884"

	if got := DeriveKey([]string{"/opt/a.jar"}); got != want {
		t.Errorf("DeriveKey() = %s, want %s", got, want)
	}
}

func TestValidateLocations(t *testing.T) {
	tests := []struct {
		name    string
		locs    []string
		wantErr bool
	}{
		{"nil", nil, false},
		{"valid", []string{"/a.jar", "lib/"}, false},
		{"empty", []string{"/a.jar", ""}, true},
		{"blank", []string{"   "}, true},
		{"newline", []string{"/a.jar\n/b.jar"}, true},
		{"carriage return", []string{"/a.jar\r"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateLocations(tt.locs)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateLocations() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidLocation) {
				t.Errorf("ValidateLocations() error = %v, want ErrInvalidLocation", err)
			}
		})
	}
}
