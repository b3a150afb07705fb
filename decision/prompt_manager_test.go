package decision

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"optiflow/model"
)

func TestPromptManager_Builtins(t *testing.T) {
	pm := NewPromptManager()

	names := pm.TemplateNames()
	if len(names) != 2 || names[0] != TemplateRiskAuditor || names[1] != TemplateStrategist {
		t.Fatalf("unexpected builtin templates: %v", names)
	}

	tmpl, err := pm.GetTemplate(TemplateStrategist)
	if err != nil {
		t.Fatalf("GetTemplate() error = %v", err)
	}
	if tmpl.Source != "builtin" {
		t.Errorf("Source = %q, want builtin", tmpl.Source)
	}

	if _, err := pm.GetTemplate("missing"); err == nil {
		t.Error("expected error for missing template")
	}
}

func TestPromptManager_LoadTemplates(t *testing.T) {
	tempDir := t.TempDir()

	tests := []struct {
		name          string
		setupFiles    map[string]string
		expectedNames []string
	}{
		{
			name: "override builtin",
			setupFiles: map[string]string{
				"strategist.txt": "Custom strategist {{.SchemaVersion}}",
			},
			expectedNames: []string{TemplateRiskAuditor, TemplateStrategist},
		},
		{
			name: "add template",
			setupFiles: map[string]string{
				"weekly.txt": "Weekly expiry prompt",
			},
			expectedNames: []string{TemplateRiskAuditor, TemplateStrategist, "weekly"},
		},
		{
			name: "ignore non-txt files",
			setupFiles: map[string]string{
				"readme.md":   "ignored",
				"config.json": "ignored",
			},
			expectedNames: []string{TemplateRiskAuditor, TemplateStrategist},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			testDir := filepath.Join(tempDir, strings.ReplaceAll(tt.name, " ", "_"))
			if err := os.MkdirAll(testDir, 0755); err != nil {
				t.Fatalf("failed to create test directory: %v", err)
			}
			for filename, content := range tt.setupFiles {
				if err := os.WriteFile(filepath.Join(testDir, filename), []byte(content), 0644); err != nil {
					t.Fatalf("failed to create test file %s: %v", filename, err)
				}
			}

			pm := NewPromptManager()
			if err := pm.LoadTemplates(testDir); err != nil {
				t.Fatalf("LoadTemplates() error = %v", err)
			}

			got := pm.TemplateNames()
			if strings.Join(got, ",") != strings.Join(tt.expectedNames, ",") {
				t.Errorf("TemplateNames() = %v, want %v", got, tt.expectedNames)
			}
		})
	}
}

func TestPromptManager_LoadTemplatesMissingDir(t *testing.T) {
	pm := NewPromptManager()
	if err := pm.LoadTemplates(filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Fatal("expected error for missing directory")
	}
}

func TestPromptManager_ReloadRestoresBuiltins(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "strategist.txt")
	if err := os.WriteFile(path, []byte("v1"), 0644); err != nil {
		t.Fatal(err)
	}

	pm := NewPromptManager()
	if err := pm.LoadTemplates(dir); err != nil {
		t.Fatal(err)
	}
	if out, _ := pm.Render(TemplateStrategist, nil); out != "v1" {
		t.Fatalf("Render() = %q, want v1", out)
	}

	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	if err := pm.ReloadTemplates(dir); err != nil {
		t.Fatal(err)
	}
	tmpl, _ := pm.GetTemplate(TemplateStrategist)
	if tmpl.Source != "builtin" {
		t.Errorf("after reload Source = %q, want builtin", tmpl.Source)
	}
}

func TestPromptManager_RenderErrors(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "broken.txt"), []byte("{{.Nope"), 0644); err != nil {
		t.Fatal(err)
	}
	pm := NewPromptManager()
	if err := pm.LoadTemplates(dir); err != nil {
		t.Fatal(err)
	}
	if _, err := pm.Render("broken", nil); err == nil {
		t.Error("expected parse error")
	}
	if _, err := pm.Render(TemplateStrategist, map[string]string{}); err == nil {
		t.Error("expected missing key error")
	}
}

func TestStrategistPrompts(t *testing.T) {
	pm := NewPromptManager()
	in := inputs()
	in.Research = "RBI policy on Thursday"
	in.MarketData.OptionChain = &model.OptionChain{
		Expiry: "29-Feb-2024",
		Rows:   []model.ChainRow{{Strike: 22000, CEIV: 14.2, PEIV: 15.1}},
	}

	system, user, err := pm.StrategistPrompts(in)
	if err != nil {
		t.Fatalf("StrategistPrompts() error = %v", err)
	}
	if !strings.Contains(system, `"schema_version":"1"`) {
		t.Errorf("system prompt does not carry the schema version:\n%s", system)
	}
	for _, want := range []string{"Market IV: 15.00%", "Days to expiry: 5", "29-Feb-2024", "RBI policy", "Sentiment: calm"} {
		if !strings.Contains(user, want) {
			t.Errorf("user prompt missing %q:\n%s", want, user)
		}
	}
}

func TestRiskAuditPrompts(t *testing.T) {
	pm := NewPromptManager()
	order := &model.Order{
		Action:   model.ActionSell,
		Strategy: model.StrategyStrangle,
		Legs: []model.Leg{
			{Type: model.Call, Strike: 22400, Symbol: "NIFTY24FEB22400CE", Qty: 50},
			{Type: model.Put, Strike: 21600, Symbol: "NIFTY24FEB21600PE", Qty: 50},
		},
	}
	system, user, err := pm.RiskAuditPrompts(order, inputs().MarketData, "")
	if err != nil {
		t.Fatalf("RiskAuditPrompts() error = %v", err)
	}
	if !strings.Contains(system, `"verdict"`) {
		t.Errorf("system prompt missing verdict contract")
	}
	if !strings.Contains(user, "NIFTY24FEB22400CE") || !strings.Contains(user, "sentiment neutral") {
		t.Errorf("unexpected user prompt:\n%s", user)
	}
}
