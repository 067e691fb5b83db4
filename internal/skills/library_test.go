package skills

import (
	"os"
	"path/filepath"
	"testing"
)

func writeSkill(t *testing.T, dir, name, description, body string) {
	t.Helper()
	skillDir := filepath.Join(dir, name)
	if err := os.MkdirAll(skillDir, 0o755); err != nil {
		t.Fatal(err)
	}
	content := "---\nname: " + name + "\ndescription: " + description + "\n---\n" + body + "\n"
	if err := os.WriteFile(filepath.Join(skillDir, SkillFilename), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLibraryScanAndGet(t *testing.T) {
	dir := t.TempDir()
	writeSkill(t, dir, "review-pr", "How to review a pull request", "Read the diff.")
	writeSkill(t, dir, "debug-crash", "Triage a crash report", "Find the stack trace.")

	lib, err := NewLibrary([]string{dir}, nil)
	if err != nil {
		t.Fatalf("NewLibrary() error = %v", err)
	}
	defer lib.Close()

	list := lib.List()
	if len(list) != 2 {
		t.Fatalf("List() returned %d skills, want 2", len(list))
	}
	if list[0].Name != "debug-crash" || list[1].Name != "review-pr" {
		t.Errorf("List() order = [%s %s], want sorted by name", list[0].Name, list[1].Name)
	}

	skill, ok := lib.Get("review-pr")
	if !ok {
		t.Fatal("Get(review-pr) not found")
	}
	if skill.Content != "Read the diff." {
		t.Errorf("Content = %q", skill.Content)
	}

	if _, ok := lib.Get("nope"); ok {
		t.Error("Get(nope) found, want miss")
	}
}

func TestLibraryLaterDirWins(t *testing.T) {
	shared := t.TempDir()
	workspace := t.TempDir()
	writeSkill(t, shared, "lint", "Shared lint rules", "shared body")
	writeSkill(t, workspace, "lint", "Workspace lint rules", "workspace body")

	lib, err := NewLibrary([]string{shared, workspace}, nil)
	if err != nil {
		t.Fatalf("NewLibrary() error = %v", err)
	}
	defer lib.Close()

	skill, ok := lib.Get("lint")
	if !ok {
		t.Fatal("Get(lint) not found")
	}
	if skill.Content != "workspace body" {
		t.Errorf("Content = %q, want workspace body", skill.Content)
	}
}

func TestLibrarySkipsInvalidAndMissing(t *testing.T) {
	dir := t.TempDir()
	writeSkill(t, dir, "good", "A valid skill", "body")

	// Directory without a SKILL.md.
	if err := os.MkdirAll(filepath.Join(dir, "empty"), 0o755); err != nil {
		t.Fatal(err)
	}
	// Invalid frontmatter.
	badDir := filepath.Join(dir, "bad")
	if err := os.MkdirAll(badDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(badDir, SkillFilename), []byte("no frontmatter"), 0o644); err != nil {
		t.Fatal(err)
	}

	lib, err := NewLibrary([]string{dir, filepath.Join(dir, "does-not-exist")}, nil)
	if err != nil {
		t.Fatalf("NewLibrary() error = %v", err)
	}
	defer lib.Close()

	list := lib.List()
	if len(list) != 1 || list[0].Name != "good" {
		t.Errorf("List() = %v, want only the valid skill", list)
	}
}

func TestLibraryCreate(t *testing.T) {
	dir := t.TempDir()
	lib, err := NewLibrary([]string{dir}, nil)
	if err != nil {
		t.Fatalf("NewLibrary() error = %v", err)
	}
	defer lib.Close()

	changed := 0
	lib.OnChange(func() { changed++ })

	skill, err := lib.Create("release-notes", "Draft release notes", "Summarize merged PRs.")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if skill.Name != "release-notes" {
		t.Errorf("Name = %q", skill.Name)
	}
	if changed != 1 {
		t.Errorf("OnChange fired %d times, want 1", changed)
	}

	// Round-trip through the parser from disk.
	reloaded, err := ParseSkillFile(filepath.Join(dir, "release-notes", SkillFilename))
	if err != nil {
		t.Fatalf("ParseSkillFile() error = %v", err)
	}
	if reloaded.Content != "Summarize merged PRs." {
		t.Errorf("reloaded Content = %q", reloaded.Content)
	}

	if _, err := lib.Create("release-notes", "dup", "x"); err == nil {
		t.Error("Create(duplicate) = nil error, want error")
	}
	if _, err := lib.Create("Bad Name", "desc", "x"); err == nil {
		t.Error("Create(invalid name) = nil error, want error")
	}
}
