package normalize

import "testing"

func TestNameKey(t *testing.T) {
	tests := []struct {
		input, want string
	}{
		{"Jane Doe", "jane doe"},
		{"  JANE   DOE ", "jane doe"},
		{"Jané Doe", "jane doe"},
		{"jane-doe", "jane doe"},
		{"O'Brien, Pat", "o brien pat"},
		{"مُحَمَّد أحمد", "محمد احمد"},
		{"محـــمد", "محمد"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := NameKey(tt.input); got != tt.want {
			t.Errorf("NameKey(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestCleanName(t *testing.T) {
	if got := CleanName("  Jane \t Doe  "); got != "Jane Doe" {
		t.Errorf("CleanName = %q, want %q", got, "Jane Doe")
	}
}

func TestEmail(t *testing.T) {
	tests := []struct {
		input  string
		want   string
		wantOK bool
	}{
		{" Jane.Doe@Example.COM ", "jane.doe@example.com", true},
		{"", "", true},
		{"not-an-email", "", false},
		{"@example.com", "", false},
		{"jane@", "", false},
		{"jane doe@example.com", "", false},
	}
	for _, tt := range tests {
		got, ok := Email(tt.input)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("Email(%q) = (%q, %v), want (%q, %v)", tt.input, got, ok, tt.want, tt.wantOK)
		}
	}
}
