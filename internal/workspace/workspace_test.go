package workspace

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/firefly-engineering/sandboxd/internal/system"
)

func TestDirs_Path(t *testing.T) {
	d := New("/srv/workspaces", system.NewMockFS())

	tests := []struct {
		id      string
		want    string
		wantErr bool
	}{
		{"abc123", "/srv/workspaces/abc123", false},
		{"a_b-c", "/srv/workspaces/a_b-c", false},
		{"", "", true},
		{"../etc", "", true},
		{"a/b", "", true},
		{"UPPER", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			got, err := d.Path(tt.id)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Path(%q) error = %v, wantErr %v", tt.id, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("Path(%q) = %q, want %q", tt.id, got, tt.want)
			}
		})
	}
}

func TestDirs_CreateRemove(t *testing.T) {
	fsys := system.NewMockFS()
	d := New("/srv/workspaces", fsys)

	path, err := d.Create("abc")
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if !fsys.Exists(path) || !d.Exists("abc") {
		t.Fatalf("workspace %s was not created", path)
	}

	if _, err := d.Create("abc"); err != nil {
		t.Errorf("second Create error: %v", err)
	}

	if err := d.Remove("abc"); err != nil {
		t.Fatalf("Remove error: %v", err)
	}
	if d.Exists("abc") {
		t.Error("workspace should be gone")
	}
	if err := d.Remove("abc"); err != nil {
		t.Errorf("Remove of missing workspace error: %v", err)
	}
}

func TestDirs_CreateError(t *testing.T) {
	fsys := system.NewMockFS()
	fsys.MkdirAllErr = os.ErrPermission
	d := New("/srv/workspaces", fsys)

	if _, err := d.Create("abc"); err == nil || !strings.Contains(err.Error(), "abc") {
		t.Errorf("Create error = %v, want error naming the workspace", err)
	}
}

func TestDirs_List(t *testing.T) {
	fsys := system.NewMockFS()
	d := New("/srv/workspaces", fsys)

	ids, err := d.List()
	if err != nil {
		t.Fatalf("List on missing root error: %v", err)
	}
	if len(ids) != 0 {
		t.Errorf("List on missing root = %v, want none", ids)
	}

	d.Create("bbb")
	d.Create("aaa")
	fsys.AddDir("/srv/workspaces/Not-An-Id")

	ids, err = d.List()
	if err != nil {
		t.Fatalf("List error: %v", err)
	}
	if strings.Join(ids, ",") != "aaa,bbb" {
		t.Errorf("List = %v, want [aaa bbb]", ids)
	}
}

func TestDirs_RealFilesystem(t *testing.T) {
	root := t.TempDir()
	d := New(root, nil)

	path, err := d.Create("real1")
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if path != filepath.Join(root, "real1") {
		t.Errorf("path = %q", path)
	}
	if err := os.WriteFile(filepath.Join(root, "stray.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	ids, err := d.List()
	if err != nil {
		t.Fatalf("List error: %v", err)
	}
	if len(ids) != 1 || ids[0] != "real1" {
		t.Errorf("List = %v, want [real1]", ids)
	}

	if err := d.Remove("real1"); err != nil {
		t.Fatalf("Remove error: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("workspace still present: %v", err)
	}
}
