package main

import "testing"

func TestParseSeedFlags(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		want    []string
		wantErr bool
	}{
		{"none", nil, nil, false},
		{"single", []string{"--seed", "a.yaml"}, []string{"a.yaml"}, false},
		{"equals form", []string{"--seed=a.yaml"}, []string{"a.yaml"}, false},
		{"repeated", []string{"--seed", "a.yaml", "--seed=b.yaml"}, []string{"a.yaml", "b.yaml"}, false},
		{"missing value", []string{"--seed"}, nil, true},
		{"unknown flag", []string{"--verbose"}, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseSeedFlags(tt.args)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseSeedFlags(%v) error = %v, wantErr %v", tt.args, err, tt.wantErr)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("parseSeedFlags(%v) = %v, want %v", tt.args, got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("parseSeedFlags(%v)[%d] = %q, want %q", tt.args, i, got[i], tt.want[i])
				}
			}
		})
	}
}
