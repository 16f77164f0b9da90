package state

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"

	"github.com/Sentinel-Gate/aipolicy/internal/domain/policy"
	"github.com/Sentinel-Gate/aipolicy/internal/domain/role"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func populated(s *FileStateStore) *AppState {
	st := s.DefaultState()
	st.Parameters = policy.InitialParameters("owner", "oracle")
	st.Roles = role.Assignments{
		"alice": {"trader"},
		"bob":   {"admin", "auditor"},
	}
	return st
}

func TestDefaultState_Uninitialized(t *testing.T) {
	s := NewFileStateStore(filepath.Join(t.TempDir(), "state.json"), testLogger())
	st := s.DefaultState()

	if st.Version != SchemaVersion {
		t.Errorf("Version = %q, want %q", st.Version, SchemaVersion)
	}
	if st.RoleTableVersion != role.TagTableVersion {
		t.Errorf("RoleTableVersion = %q", st.RoleTableVersion)
	}
	if st.Parameters.Initialized() {
		t.Error("default state is initialized")
	}
	if st.Roles == nil || len(st.Roles) != 0 {
		t.Errorf("Roles = %v, want empty map", st.Roles)
	}
}

func TestLoad_NoFile_ReturnsDefaultState(t *testing.T) {
	s := NewFileStateStore(filepath.Join(t.TempDir(), "state.json"), testLogger())
	st, err := s.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if st.Parameters.Initialized() {
		t.Error("Load() without file returned initialized state")
	}
	if s.Exists() {
		t.Error("Exists() = true before Save")
	}
}

func TestSaveAndLoad_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	s := NewFileStateStore(path, testLogger())

	want := populated(s)
	if err := s.Save(want); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if !s.Exists() {
		t.Fatal("Exists() = false after Save")
	}

	got, err := s.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got.Parameters != want.Parameters {
		t.Errorf("Parameters = %+v, want %+v", got.Parameters, want.Parameters)
	}
	if len(got.Roles["bob"]) != 2 || got.Roles["alice"][0] != "trader" {
		t.Errorf("Roles = %v", got.Roles)
	}
	if got.UpdatedAt.IsZero() || got.CreatedAt.IsZero() {
		t.Error("timestamps not persisted")
	}
}

func TestLoad_CorruptFile_ReturnsError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	if err := os.WriteFile(path, []byte("{not json"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := NewFileStateStore(path, testLogger()).Load(); err == nil {
		t.Fatal("Load() accepted corrupt JSON")
	}
}

func TestSave_PermissionsBackupAndNoTmp(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	s := NewFileStateStore(path, testLogger())

	first := populated(s)
	if err := s.Save(first); err != nil {
		t.Fatalf("first Save() error = %v", err)
	}
	second := populated(s)
	second.Parameters.ModelVersion = "v2"
	if err := s.Save(second); err != nil {
		t.Fatalf("second Save() error = %v", err)
	}

	data, err := os.ReadFile(path + ".bak")
	if err != nil {
		t.Fatalf("read backup: %v", err)
	}
	var backup AppState
	if err := json.Unmarshal(data, &backup); err != nil {
		t.Fatalf("unmarshal backup: %v", err)
	}
	if backup.Parameters.ModelVersion != policy.DefaultModelVersion {
		t.Errorf("backup model version = %q, want previous snapshot", backup.Parameters.ModelVersion)
	}

	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error(".tmp file left behind")
	}
	if runtime.GOOS != "windows" {
		info, err := os.Stat(path)
		if err != nil {
			t.Fatal(err)
		}
		if perm := info.Mode().Perm(); perm != 0600 {
			t.Errorf("permissions = %04o, want 0600", perm)
		}
	}
}

func TestConcurrentSaves_DoNotCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	s := NewFileStateStore(path, testLogger())

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.Save(populated(s)); err != nil {
				t.Errorf("Save() error = %v", err)
			}
		}()
	}
	wg.Wait()

	if _, err := s.Load(); err != nil {
		t.Fatalf("Load() after concurrent saves error = %v", err)
	}
}

func TestLoad_TooOpenPermissions_Warns(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("no unix permission bits")
	}
	path := filepath.Join(t.TempDir(), "state.json")
	if err := os.WriteFile(path, []byte(`{"version":"1","roles":{}}`), 0644); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))
	if _, err := NewFileStateStore(path, logger).Load(); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !strings.Contains(buf.String(), "too-open permissions") {
		t.Errorf("expected permission warning, got %q", buf.String())
	}
}

func TestRemove(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	s := NewFileStateStore(path, testLogger())
	if err := s.Remove(); err != nil {
		t.Fatalf("Remove() on missing files error = %v", err)
	}
	_ = s.Save(populated(s))
	_ = s.Save(populated(s))
	if err := s.Remove(); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if s.Exists() {
		t.Error("state.json still exists")
	}
	if _, err := os.Stat(path + ".bak"); !os.IsNotExist(err) {
		t.Error("backup still exists")
	}
	if s.Path() != path {
		t.Errorf("Path() = %q", s.Path())
	}
}
