package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	body := "# comment\n\nPRISMIS_ENV_A=plain\nPRISMIS_ENV_B=\"quoted value\"\nPRISMIS_ENV_C='single'\nmalformed line\n=nokey\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PRISMIS_ENV_A", "")
	t.Setenv("PRISMIS_ENV_B", "")
	t.Setenv("PRISMIS_ENV_C", "")

	if err := LoadEnvFile(path); err != nil {
		t.Fatalf("LoadEnvFile: %v", err)
	}
	for k, want := range map[string]string{
		"PRISMIS_ENV_A": "plain",
		"PRISMIS_ENV_B": "quoted value",
		"PRISMIS_ENV_C": "single",
	} {
		if got := os.Getenv(k); got != want {
			t.Errorf("%s = %q, want %q", k, got, want)
		}
	}
}

func TestLoadEnvFile_missingIsFine(t *testing.T) {
	if err := LoadEnvFile(filepath.Join(t.TempDir(), "nope.env")); err != nil {
		t.Errorf("missing env file must be a no-op, got %v", err)
	}
}
