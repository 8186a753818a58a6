package catalog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dukerupert/stride/internal/model"
)

func TestLoadDefault(t *testing.T) {
	c, err := Load("")
	if err != nil {
		t.Fatalf("load default: %v", err)
	}
	if c.Len() != 10 {
		t.Fatalf("len = %d, want 10", c.Len())
	}

	core, ok := c.Get("core7")
	if !ok {
		t.Fatal("core7 missing from default catalog")
	}
	if core.DurationDays != 7 {
		t.Errorf("core7 duration = %d, want 7", core.DurationDays)
	}
	if core.RewardPoints != 100 {
		t.Errorf("core7 reward = %d, want 100", core.RewardPoints)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.json")
	body := `[{"id":"walk5","title":"Walk","duration_days":5,"difficulty":"Beginner","goal_tag":"Health","reward_points":5}]`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	c, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Len() != 1 {
		t.Fatalf("len = %d, want 1", c.Len())
	}
	if _, ok := c.Get("walk5"); !ok {
		t.Error("walk5 missing")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.json")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestNewValidation(t *testing.T) {
	valid := model.ChallengeDefinition{ID: "a", Title: "A", DurationDays: 3, Difficulty: model.DifficultyBeginner}

	tests := []struct {
		name   string
		mutate func(*model.ChallengeDefinition)
		want   string
	}{
		{"empty id", func(d *model.ChallengeDefinition) { d.ID = " " }, "id is required"},
		{"empty title", func(d *model.ChallengeDefinition) { d.Title = "" }, "title is required"},
		{"zero duration", func(d *model.ChallengeDefinition) { d.DurationDays = 0 }, "duration_days"},
		{"negative reward", func(d *model.ChallengeDefinition) { d.RewardPoints = -1 }, "reward_points"},
		{"bad difficulty", func(d *model.ChallengeDefinition) { d.Difficulty = "Expert" }, "unknown difficulty"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := valid
			tt.mutate(&d)
			_, err := New([]model.ChallengeDefinition{d})
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %q, want substring %q", err, tt.want)
			}
		})
	}
}

func TestNewDuplicateID(t *testing.T) {
	d := model.ChallengeDefinition{ID: "a", Title: "A", DurationDays: 3, Difficulty: model.DifficultyBeginner}
	if _, err := New([]model.ChallengeDefinition{d, d}); err == nil {
		t.Error("expected duplicate id error")
	}
}

func TestListReturnsCopy(t *testing.T) {
	c, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	list := c.List()
	list[0].Title = "mutated"

	first := c.List()[0]
	if first.Title == "mutated" {
		t.Error("List exposed internal slice")
	}
}

func TestFilter(t *testing.T) {
	c, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if got := len(c.Filter("", "")); got != 10 {
		t.Errorf("no filter = %d, want 10", got)
	}
	if got := len(c.Filter(FilterAll, FilterAll)); got != 10 {
		t.Errorf("All/All = %d, want 10", got)
	}

	beginner := c.Filter("Beginner", "")
	if len(beginner) != 4 {
		t.Errorf("beginner = %d, want 4", len(beginner))
	}
	for _, d := range beginner {
		if d.Difficulty != model.DifficultyBeginner {
			t.Errorf("%s difficulty = %s", d.ID, d.Difficulty)
		}
	}

	both := c.Filter("Beginner", "weight loss")
	if len(both) != 2 {
		t.Errorf("beginner+weight loss = %d, want 2", len(both))
	}

	if got := c.Filter("Advanced", "Core Strength"); len(got) != 0 {
		t.Errorf("expected empty result, got %d", len(got))
	}
}
