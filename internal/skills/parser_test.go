package skills

import (
	"strings"
	"testing"
)

func TestParseSkill(t *testing.T) {
	data := []byte(`---
name: deploy-checklist
description: Steps for deploying the service safely
---

# Deploy checklist

1. Run the tests.
2. Tag the release.
`)
	skill, err := ParseSkill(data, "/skills/deploy-checklist")
	if err != nil {
		t.Fatalf("ParseSkill() error = %v", err)
	}
	if skill.Name != "deploy-checklist" {
		t.Errorf("Name = %q, want deploy-checklist", skill.Name)
	}
	if skill.Description != "Steps for deploying the service safely" {
		t.Errorf("Description = %q", skill.Description)
	}
	if !strings.HasPrefix(skill.Content, "# Deploy checklist") {
		t.Errorf("Content = %q, want body starting with heading", skill.Content)
	}
	if skill.Path != "/skills/deploy-checklist" {
		t.Errorf("Path = %q", skill.Path)
	}
}

func TestParseSkillErrors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"empty", ""},
		{"no opening delimiter", "name: x\n"},
		{"no closing delimiter", "---\nname: x\ndescription: y\n"},
		{"missing name", "---\ndescription: y\n---\nbody"},
		{"missing description", "---\nname: x\n---\nbody"},
		{"uppercase name", "---\nname: MySkill\ndescription: y\n---\nbody"},
		{"name with spaces", "---\nname: my skill\ndescription: y\n---\nbody"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseSkill([]byte(tt.data), "/tmp"); err == nil {
				t.Errorf("ParseSkill() = nil error, want error")
			}
		})
	}
}

func TestExpandBaseDir(t *testing.T) {
	got := ExpandBaseDir("see {baseDir}/scripts/run.sh and {baseDir}/README", "/skills/s")
	want := "see /skills/s/scripts/run.sh and /skills/s/README"
	if got != want {
		t.Errorf("ExpandBaseDir() = %q, want %q", got, want)
	}
}
