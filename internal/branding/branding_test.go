package branding

import "testing"

func TestDefaults(t *testing.T) {
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"CLIName", CLIName(), "nexo"},
		{"HomeDir", HomeDir(), ".nexo"},
		{"EnvPrefix", EnvPrefix(), "NEXO"},
		{"ProjectFile", ProjectFile(), "nexo.yaml"},
		{"PluginFile", PluginFile(), "plugin.yaml"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("%s() = %q, want %q", tt.name, tt.got, tt.want)
			}
		})
	}
}

func TestEnvVar(t *testing.T) {
	if got := EnvVar("input"); got != "NEXO_INPUT" {
		t.Errorf("EnvVar(input) = %q, want %q", got, "NEXO_INPUT")
	}
}
