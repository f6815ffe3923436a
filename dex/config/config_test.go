package config

import (
	"os"
	"path/filepath"
	"testing"
)

type config struct {
	Key1 string  `ini:"key1"`
	Key2 bool    `ini:"key2"`
	Key3 int     `ini:"key3"`
	KEY4 float64 // defaults to field name i.e. `ini:"KEY4"`
	Key5 string  `ini:"-"`
}

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		want    config
		wantErr bool
	}{
		{
			name: "flat",
			data: "key1=v1\nkey2=true\nkey3=7\nKEY4=1.5\nKey5=x\n",
			want: config{Key1: "v1", Key2: true, Key3: 7, KEY4: 1.5, Key5: "kept"},
		},
		{
			name: "sections flattened",
			data: "[one]\nkey1=a\n[two]\nkey3=3\n",
			want: config{Key1: "a", Key3: 3, Key5: "kept"},
		},
		{
			name: "empty",
			data: "",
			want: config{Key5: "kept"},
		},
		{
			name:    "bad int",
			data:    "key3=seven\n",
			wantErr: true,
		},
	}
	for _, tt := range tests {
		cfg := config{Key5: "kept"}
		err := Parse([]byte(tt.data), &cfg)
		if (err != nil) != tt.wantErr {
			t.Fatalf("%s: wantErr = %t, err = %v", tt.name, tt.wantErr, err)
		}
		if tt.wantErr {
			continue
		}
		if cfg != tt.want {
			t.Fatalf("%s: wanted %+v, got %+v", tt.name, tt.want, cfg)
		}
	}
}

func TestUnmapifyAndOptions(t *testing.T) {
	settings := map[string]string{"key1": "hello", "key3": "42"}
	var cfg config
	if err := Unmapify(settings, &cfg); err != nil {
		t.Fatalf("Unmapify error: %v", err)
	}
	if cfg.Key1 != "hello" || cfg.Key3 != 42 {
		t.Fatalf("wrong config %+v", cfg)
	}

	if string(OptionsMapToINIData(settings)) != "key1=hello\nkey3=42\n" {
		t.Fatalf("unsorted ini data %q", OptionsMapToINIData(settings))
	}

	path := filepath.Join(t.TempDir(), "test.conf")
	if err := os.WriteFile(path, OptionsMapToINIData(settings), 0600); err != nil {
		t.Fatal(err)
	}
	opts, err := Options(path)
	if err != nil {
		t.Fatalf("Options error: %v", err)
	}
	if len(opts) != 2 || opts["key1"] != "hello" || opts["key3"] != "42" {
		t.Fatalf("wrong options %v", opts)
	}
}
