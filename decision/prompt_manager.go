package decision

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"text/template"

	"optiflow/logger"
)

// Template names used by the pipeline.
const (
	TemplateStrategist  = "strategist"
	TemplateRiskAuditor = "risk_auditor"
)

// PromptTemplate is a named system prompt. Content may use text/template
// actions; see Render.
type PromptTemplate struct {
	Name    string
	Content string
	Source  string // file path, or "builtin"
}

// PromptManager holds system prompt templates. Built-in templates are always
// present and can be replaced by *.txt files of the same name.
type PromptManager struct {
	templates map[string]*PromptTemplate
	mu        sync.RWMutex
}

func NewPromptManager() *PromptManager {
	pm := &PromptManager{}
	pm.resetBuiltins()
	return pm
}

func (pm *PromptManager) resetBuiltins() {
	pm.templates = map[string]*PromptTemplate{
		TemplateStrategist:  {Name: TemplateStrategist, Content: strategistPrompt, Source: "builtin"},
		TemplateRiskAuditor: {Name: TemplateRiskAuditor, Content: riskAuditorPrompt, Source: "builtin"},
	}
}

// LoadTemplates loads every *.txt file in dir, keyed by file name without the
// extension. Unreadable files are skipped with a warning.
func (pm *PromptManager) LoadTemplates(dir string) error {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return fmt.Errorf("prompt directory does not exist: %s", dir)
	}

	files, err := filepath.Glob(filepath.Join(dir, "*.txt"))
	if err != nil {
		return fmt.Errorf("failed to scan prompt directory: %w", err)
	}
	if len(files) == 0 {
		logger.Warnf("no .txt files found in prompt directory %s", dir)
		return nil
	}

	for _, file := range files {
		content, err := os.ReadFile(file)
		if err != nil {
			logger.Warnf("failed to read prompt file %s: %v", file, err)
			continue
		}
		name := strings.TrimSuffix(filepath.Base(file), filepath.Ext(file))
		pm.templates[name] = &PromptTemplate{Name: name, Content: string(content), Source: file}
		logger.Infof("loaded prompt template %s (%s)", name, file)
	}
	return nil
}

// ReloadTemplates drops file templates and loads dir again.
func (pm *PromptManager) ReloadTemplates(dir string) error {
	pm.mu.Lock()
	pm.resetBuiltins()
	pm.mu.Unlock()

	return pm.LoadTemplates(dir)
}

func (pm *PromptManager) GetTemplate(name string) (*PromptTemplate, error) {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	t, ok := pm.templates[name]
	if !ok {
		return nil, fmt.Errorf("prompt template does not exist: %s", name)
	}
	return t, nil
}

// TemplateNames returns the known template names, sorted.
func (pm *PromptManager) TemplateNames() []string {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	names := make([]string, 0, len(pm.templates))
	for name := range pm.templates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Render executes the named template against data.
func (pm *PromptManager) Render(name string, data any) (string, error) {
	pt, err := pm.GetTemplate(name)
	if err != nil {
		return "", err
	}
	tmpl, err := template.New(name).Option("missingkey=error").Parse(pt.Content)
	if err != nil {
		return "", fmt.Errorf("parse prompt template %s: %w", name, err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render prompt template %s: %w", name, err)
	}
	return buf.String(), nil
}

const strategistPrompt = `You are an expert index options strategist.
Decide between "Strangle" (range bound: sell an out-of-the-money call and put) and
"Straddle" (low volatility: sell the at-the-money call and put for maximum premium).
Choose a sigma multiplier for the strangle width; 1.0 means one standard deviation.

Reply with exactly one JSON object inside <decision></decision> tags and nothing else:
<decision>{"schema_version":"{{.SchemaVersion}}","strategy":"Strangle","sigma_mult":1.0,"rationale":"...","constraints":"...","status":"ok"}</decision>
If you cannot decide, reply with
<decision>{"schema_version":"{{.SchemaVersion}}","status":"error","error":"<why>"}</decision>`

const riskAuditorPrompt = `You are the risk officer of an options desk. You review one candidate
short-premium order at a time and either approve it or reject it.
Reject orders that sell premium into a volatility event, whose strikes sit inside
the expected move, or whose size is inconsistent with the instrument.

Reply with exactly one JSON object inside <decision></decision> tags and nothing else:
<decision>{"schema_version":"{{.SchemaVersion}}","verdict":"approve","reason":"..."}</decision>
The verdict must be "approve" or "reject".`
