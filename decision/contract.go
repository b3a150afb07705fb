package decision

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// SchemaVersion is the only structured-reply version this package accepts.
const SchemaVersion = "1"

var (
	ErrNoJSON            = errors.New("no JSON object in reply")
	ErrUnsupportedSchema = errors.New("unsupported schema_version")
)

var (
	reDecisionTag    = regexp.MustCompile(`(?s)<decision>(.*?)</decision>`)
	reJSONFence      = regexp.MustCompile("(?is)```(?:json)?\\s*(\\{.*?\\})\\s*```")
	reInvisibleRunes = regexp.MustCompile("[\u200B\u200C\u200D\uFEFF]")
)

// Contract is the structured recommendation the strategist prompt asks for.
type Contract struct {
	SchemaVersion string   `json:"schema_version"`
	Strategy      string   `json:"strategy"`
	SigmaMult     *float64 `json:"sigma_mult,omitempty"`
	Rationale     string   `json:"rationale"`
	Constraints   string   `json:"constraints,omitempty"`
	Status        string   `json:"status,omitempty"`
	Error         string   `json:"error,omitempty"`
}

// Failed reports whether the model declared that it could not answer.
func (c *Contract) Failed() bool {
	return strings.EqualFold(strings.TrimSpace(c.Status), "error") || strings.TrimSpace(c.Error) != ""
}

// ParseContract decodes a strategist reply.
func ParseContract(reply string) (*Contract, error) {
	var c Contract
	if err := DecodeReply(reply, &c); err != nil {
		return nil, err
	}
	if c.SchemaVersion != SchemaVersion {
		return nil, fmt.Errorf("%w %q", ErrUnsupportedSchema, c.SchemaVersion)
	}
	return &c, nil
}

// DecodeReply locates the JSON object in a model reply and unmarshals it into
// v. The object is taken from <decision> tags, then a fenced code block, then
// the whole trimmed body. Prose around an untagged object is not searched.
func DecodeReply(reply string, v any) error {
	raw, err := ExtractJSON(reply)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return fmt.Errorf("invalid reply JSON: %w", err)
	}
	return nil
}

// ExtractJSON returns the JSON object text of a model reply.
func ExtractJSON(reply string) (string, error) {
	s := fixFullWidth(reInvisibleRunes.ReplaceAllString(reply, ""))
	s = strings.TrimSpace(s)

	if m := reDecisionTag.FindStringSubmatch(s); m != nil {
		s = strings.TrimSpace(m[1])
	}
	if m := reJSONFence.FindStringSubmatch(s); m != nil {
		return strings.TrimSpace(m[1]), nil
	}
	if strings.HasPrefix(s, "{") && strings.HasSuffix(s, "}") {
		return s, nil
	}
	return "", ErrNoJSON
}

// fixFullWidth turns typographic quotes and full-width punctuation, which
// models sometimes emit inside JSON, into their ASCII forms.
func fixFullWidth(s string) string {
	return strings.NewReplacer(
		"“", `"`, "”", `"`,
		"‘", "'", "’", "'",
		"｛", "{", "｝", "}",
		"［", "[", "］", "]",
		"：", ":", "，", ",",
		"　", " ",
	).Replace(s)
}
