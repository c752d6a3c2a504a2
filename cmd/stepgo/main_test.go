package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cjeanneret/StepGo/internal/config"
	"github.com/cjeanneret/StepGo/internal/fiq"
)

// ---------- applyOverrides ----------

func TestApplyOverrides(t *testing.T) {
	cases := []struct {
		name     string
		kind     string
		path     string
		o        cliOverrides
		wantIn   string
		wantPath string
		wantComp bool
		wantErr  bool
	}{
		{"empty_uses_default_output", config.OutputFile, "", cliOverrides{}, "", defaultOutput, false, false},
		{"config_path_kept", config.OutputFile, "job.fiq", cliOverrides{}, "", "job.fiq", false, false},
		{"flags_win", config.OutputFile, "job.fiq", cliOverrides{input: "part.nc", output: "part.fiq", compress: true}, "part.nc", "part.fiq", true, false},
		{"compress_needs_file", config.OutputFIQ, "/dev/fiq", cliOverrides{compress: true}, "", "/dev/fiq", false, true},
		{"device_path_not_defaulted", config.OutputFIQ, "", cliOverrides{}, "", "", false, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			cfg.Output.Kind = tc.kind
			cfg.Output.Path = tc.path

			err := applyOverrides(cfg, tc.o)
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("applyOverrides: %v", err)
			}
			if cfg.Input != tc.wantIn {
				t.Errorf("Input = %q, want %q", cfg.Input, tc.wantIn)
			}
			if cfg.Output.Path != tc.wantPath {
				t.Errorf("Output.Path = %q, want %q", cfg.Output.Path, tc.wantPath)
			}
			if cfg.Output.Compress != tc.wantComp {
				t.Errorf("Output.Compress = %v, want %v", cfg.Output.Compress, tc.wantComp)
			}
		})
	}
}

// ---------- run ----------

func TestRunSetupErrors(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "configs")
	if err := os.Mkdir(dir, 0755); err != nil {
		t.Fatal(err)
	}
	serialCfg := filepath.Join(dir, "serial.yaml")
	data := "output:\n  kind: serial\n  serial:\n    device: /dev/null\n"
	if err := os.WriteFile(serialCfg, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}

	cases := []struct {
		name string
		path string
		o    cliOverrides
		want string
	}{
		{"config_outside_configs_dir", filepath.Join(t.TempDir(), "x.yaml"), cliOverrides{}, "load config"},
		{"missing_config", filepath.Join(dir, "none.yaml"), cliOverrides{}, "load config"},
		{"compress_on_serial", serialCfg, cliOverrides{compress: true}, "invalid CLI override"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			err := run(ctx, cancel, tc.path, 0, tc.o)
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Errorf("run() = %v, want error containing %q", err, tc.want)
			}
		})
	}
}

// ---------- boardConfig ----------

func TestBoardConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Motors[0].EnablePin = 5
	cfg.Motors[0].MSPins = []int{12, 16, 20}
	cfg.Motors[1].EnablePin = 6

	bc := boardConfig(cfg)
	if len(bc) != fiq.Motors {
		t.Fatalf("len = %d, want %d", len(bc), fiq.Motors)
	}
	if bc[0].EnablePin != 5 || bc[0].MSPins != [3]int{12, 16, 20} {
		t.Errorf("motor X = %+v", bc[0])
	}
	if bc[1].EnablePin != 6 || bc[1].MSPins != [3]int{} {
		t.Errorf("motor Y = %+v", bc[1])
	}
	if bc[4].EnablePin != 0 {
		t.Errorf("motor B enable = %d, want 0", bc[4].EnablePin)
	}
}

// ---------- webPortFlag ----------

func TestWebPortFlag_EmptyString(t *testing.T) {
	w := &webPortFlag{defaultPort: 8080}
	if err := w.Set(""); err != nil {
		t.Fatalf("Set(\"\") error: %v", err)
	}
	if w.port() != 8080 {
		t.Errorf("expected default port 8080, got %d", w.port())
	}
}

func TestWebPortFlag_Ports(t *testing.T) {
	cases := []struct {
		input   string
		want    int
		wantErr bool
	}{
		{"8080", 8080, false},
		{"1", 1, false},
		{"65535", 65535, false},
		{"0", 0, true},
		{"65536", 0, true},
		{"-1", 0, true},
		{"abc", 0, true},
		{"8080.5", 0, true},
	}
	for _, tc := range cases {
		t.Run(tc.input, func(t *testing.T) {
			w := &webPortFlag{defaultPort: 8080}
			err := w.Set(tc.input)
			if tc.wantErr {
				if err == nil {
					t.Errorf("Set(%q) should fail, got nil", tc.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("Set(%q) error: %v", tc.input, err)
			}
			if w.port() != tc.want {
				t.Errorf("port() = %d, want %d", w.port(), tc.want)
			}
		})
	}
}

func TestWebPortFlag_String(t *testing.T) {
	w := &webPortFlag{val: 0}
	if s := w.String(); s != "0" {
		t.Errorf("String() = %q, want \"0\"", s)
	}
	w.val = 9090
	if s := w.String(); s != "9090" {
		t.Errorf("String() = %q, want \"9090\"", s)
	}
}
