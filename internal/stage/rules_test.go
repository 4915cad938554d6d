package stage

import (
	"testing"
)

func TestParseImport(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Import
		wantErr bool
	}{
		{
			name:  "unqualified",
			input: "dist /app/dist",
			want:  Import{Artifact: "dist", Dest: "/app/dist"},
		},
		{
			name:  "stage qualified",
			input: "build:dist /srv",
			want:  Import{Stage: "build", Artifact: "dist", Dest: "/srv"},
		},
		{
			name:  "relative dest kept verbatim",
			input: "src out/",
			want:  Import{Artifact: "src", Dest: "out/"},
		},
		{
			name:  "colon after slash is not a stage",
			input: "a/b:c /x",
			want:  Import{Artifact: "a/b:c", Dest: "/x"},
		},
		{
			name:    "missing destination",
			input:   "dist",
			wantErr: true,
		},
		{
			name:    "too many tokens",
			input:   "a b c",
			wantErr: true,
		},
		{
			name:    "empty string",
			input:   "",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseImport(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("ParseImport(%q) = %+v, want %+v", tt.input, got, tt.want)
			}
		})
	}
}

func TestParseExport(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Export
		wantErr bool
	}{
		{
			name:  "explicit name",
			input: "/app/dist dist",
			want:  Export{Source: "/app/dist", Name: "dist"},
		},
		{
			name:  "name from base",
			input: "/app/target/app.war",
			want:  Export{Source: "/app/target/app.war", Name: "app.war"},
		},
		{
			name:    "root needs a name",
			input:   "/",
			wantErr: true,
		},
		{
			name:    "too many tokens",
			input:   "a b c",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseExport(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("ParseExport(%q) = %+v, want %+v", tt.input, got, tt.want)
			}
		})
	}
}

func TestParseQualified(t *testing.T) {
	tests := []struct {
		name  string
		input string
		stage string
		ref   string
		ok    bool
	}{
		{name: "valid", input: "build:dist", stage: "build", ref: "dist", ok: true},
		{name: "no colon", input: "dist"},
		{name: "colon at start", input: ":dist"},
		{name: "slash in prefix", input: "some/stage:dist"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stage, ref, ok := parseQualified(tt.input)
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if !tt.ok {
				return
			}
			if stage != tt.stage || ref != tt.ref {
				t.Errorf("got (%q, %q), want (%q, %q)", stage, ref, tt.stage, tt.ref)
			}
		})
	}
}
