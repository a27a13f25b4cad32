package profile

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/matheus3301/parley/internal/config"
)

func TestDirHonoursHomeOverride(t *testing.T) {
	base := t.TempDir()
	t.Setenv("PARLEY_HOME", base)

	if got, want := Dir("main"), filepath.Join(base, "profiles", "main"); got != want {
		t.Errorf("Dir(main) = %q, want %q", got, want)
	}
	if got := SocketPath("test"); !strings.HasSuffix(got, filepath.Join("profiles", "test", "daemon.sock")) {
		t.Errorf("SocketPath(test) = %q", got)
	}
	if got := DBPath("test"); filepath.Base(got) != "parley.db" {
		t.Errorf("DBPath(test) = %q", got)
	}
}

func TestDefaultBaseDir(t *testing.T) {
	t.Setenv("PARLEY_HOME", "")
	home, _ := os.UserHomeDir()
	if got, want := BaseDir(), filepath.Join(home, ".parley"); got != want {
		t.Errorf("BaseDir() = %q, want %q", got, want)
	}
}

func TestEnsureDir(t *testing.T) {
	t.Setenv("PARLEY_HOME", t.TempDir())
	if err := EnsureDir("work"); err != nil {
		t.Fatal(err)
	}
	info, err := os.Stat(LogDir("work"))
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0700 {
		t.Errorf("log dir permission = %o, want 0700", perm)
	}
}

func TestValidateName(t *testing.T) {
	tests := []struct {
		name  string
		valid bool
	}{
		{"main", true},
		{"work-2", true},
		{"a_b", true},
		{"", false},
		{"../etc", false},
		{"-flag", false},
		{"has space", false},
	}
	for _, tt := range tests {
		err := ValidateName(tt.name)
		if tt.valid && err != nil {
			t.Errorf("ValidateName(%q) = %v, want nil", tt.name, err)
		}
		if !tt.valid && !errors.Is(err, ErrInvalidName) {
			t.Errorf("ValidateName(%q) = %v, want ErrInvalidName", tt.name, err)
		}
	}
}

func TestResolve(t *testing.T) {
	t.Setenv("PARLEY_HOME", t.TempDir())

	if got := Resolve(""); got != DefaultName {
		t.Errorf("Resolve() without config = %q, want %q", got, DefaultName)
	}
	cfg := config.Default()
	cfg.DefaultProfile = "work"
	if err := config.Save(ConfigPath(), cfg); err != nil {
		t.Fatal(err)
	}
	if got := Resolve(""); got != "work" {
		t.Errorf("Resolve() = %q, want work", got)
	}
	if got := Resolve("other"); got != "other" {
		t.Errorf("Resolve(other) = %q, want other", got)
	}
}
