package config

import (
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

func TestParseDuration(t *testing.T) {
	tests := []struct {
		input   string
		want    time.Duration
		wantErr bool
	}{
		{"", 0, false},
		{"500ms", 500 * time.Millisecond, false},
		{"100ms", 100 * time.Millisecond, false},
		{"2h45m", 2*time.Hour + 45*time.Minute, false},
		{"1d", Day, false},
		{"2w", 2 * Week, false},
		{"1d12h", Day + 12*time.Hour, false},
		{"1.5d", 36 * time.Hour, false},
		{"3x", 0, true},
		{"d", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseDuration(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseDuration(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("ParseDuration(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestDuration_YAMLRoundTrip(t *testing.T) {
	var holder struct {
		D Duration `yaml:"d"`
	}
	if err := yaml.Unmarshal([]byte("d: 7d\n"), &holder); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if time.Duration(holder.D) != Week {
		t.Errorf("expected 1 week, got %v", time.Duration(holder.D))
	}

	out, err := yaml.Marshal(holder)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if string(out) != "d: 168h0m0s\n" {
		t.Errorf("unexpected yaml: %q", out)
	}
}
