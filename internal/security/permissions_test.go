package security

import (
	"os"
	"path/filepath"
	"testing"
)

func TestValidateDirectoryPermissions_CorrectPerms(t *testing.T) {
	dir := t.TempDir()
	if err := os.Chmod(dir, 0700); err != nil {
		t.Fatalf("chmod failed: %v", err)
	}
	if err := ValidateDirectoryPermissions(dir); err != nil {
		t.Errorf("expected no error for dir with 0700 perms, got: %v", err)
	}
}

func TestValidateDirectoryPermissions_Mode0750(t *testing.T) {
	dir := t.TempDir()
	if err := os.Chmod(dir, 0750); err != nil {
		t.Fatalf("chmod failed: %v", err)
	}
	if err := ValidateDirectoryPermissions(dir); err != nil {
		t.Errorf("expected no error for dir with 0750 perms, got: %v", err)
	}
}

func TestValidateDirectoryPermissions_WorldWritable(t *testing.T) {
	dir := t.TempDir()
	if err := os.Chmod(dir, 0777); err != nil {
		t.Fatalf("chmod failed: %v", err)
	}
	if err := ValidateDirectoryPermissions(dir); err == nil {
		t.Error("expected error for world-writable directory")
	}
}

func TestValidateDirectoryPermissions_WorldReadWrite(t *testing.T) {
	dir := t.TempDir()
	if err := os.Chmod(dir, 0766); err != nil {
		t.Fatalf("chmod failed: %v", err)
	}
	if err := ValidateDirectoryPermissions(dir); err == nil {
		t.Error("expected error for directory with other-write permission")
	}
}

func TestValidateDirectoryPermissions_NonexistentDir(t *testing.T) {
	if err := ValidateDirectoryPermissions("/nonexistent/path/that/does/not/exist"); err == nil {
		t.Error("expected error for nonexistent directory")
	}
}

func TestValidateDirectoryPermissions_RejectsPlainFile(t *testing.T) {
	dir := t.TempDir()
	filePath := filepath.Join(dir, "not-a-dir")
	if err := os.WriteFile(filePath, []byte("x"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := ValidateDirectoryPermissions(filePath); err == nil {
		t.Error("expected error when path is a file, not a directory")
	}
}

func TestValidateFilePermissions_CorrectPerms(t *testing.T) {
	dir := t.TempDir()
	filePath := filepath.Join(dir, "test-rule.yaml")
	if err := os.WriteFile(filePath, []byte("test"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := ValidateFilePermissions(filePath); err != nil {
		t.Errorf("expected no error for file with 0644 perms, got: %v", err)
	}
}

func TestValidateFilePermissions_WorldWritable(t *testing.T) {
	dir := t.TempDir()
	filePath := filepath.Join(dir, "test-rule.yaml")
	if err := os.WriteFile(filePath, []byte("test"), 0666); err != nil {
		t.Fatal(err)
	}
	if err := os.Chmod(filePath, 0666); err != nil {
		t.Fatal(err)
	}
	if err := ValidateFilePermissions(filePath); err == nil {
		t.Error("expected error for world-writable file")
	}
}

func TestValidateFilePermissions_NonexistentFile(t *testing.T) {
	if err := ValidateFilePermissions("/nonexistent/path/rule.yaml"); err == nil {
		t.Error("expected error for nonexistent file")
	}
}
