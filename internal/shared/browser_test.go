package shared

import (
	"slices"
	"testing"
)

func TestBrowserCommand(t *testing.T) {
	const target = "https://auth.example.com/oauth/authorize?state=s1&client_id=genx"

	tests := []struct {
		goos string
		want []string
	}{
		{"darwin", []string{"open", target}},
		{"linux", []string{"xdg-open", target}},
		{"windows", []string{"rundll32", "url.dll,FileProtocolHandler", target}},
	}

	for _, tt := range tests {
		t.Run(tt.goos, func(t *testing.T) {
			cmd, err := browserCommand(tt.goos, target)
			if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if !slices.Equal(cmd.Args, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, cmd.Args)
			}
		})
	}

	t.Run("Unsupported", func(t *testing.T) {
		if _, err := browserCommand("plan9", target); err == nil {
			t.Error("expected error for unsupported platform")
		}
	})

	t.Run("OpenBrowser Unsupported Runtime", func(t *testing.T) {
		orig := getRuntime
		defer func() { getRuntime = orig }()
		getRuntime = func() string { return "plan9" }

		if err := OpenBrowser(target); err == nil {
			t.Error("expected error for unsupported runtime")
		}
	})
}
