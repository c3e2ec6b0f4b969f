package queue

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// MatchMode controls how configured rule categories combine.
type MatchMode string

const (
	// MatchAny matches when at least one configured category matches.
	MatchAny MatchMode = "any"
	// MatchAll matches only when every configured category matches.
	MatchAll MatchMode = "all"
)

// ParseMatchMode normalizes a match mode string, defaulting to any.
func ParseMatchMode(value string) (MatchMode, error) {
	switch MatchMode(strings.ToLower(strings.TrimSpace(value))) {
	case "", MatchAny:
		return MatchAny, nil
	case MatchAll:
		return MatchAll, nil
	default:
		return "", fmt.Errorf("unknown match mode %q", value)
	}
}

// Template binds matching rules to processing, metadata, and output
// configuration. Metadata carries the three-tier layout the resolver
// understands: per-platform buckets, a common bucket, and legacy flat
// top-level fields.
type Template struct {
	ID             int64
	OwnerID        int64
	Name           string
	MatchMode      MatchMode
	MatchNames     []string
	MatchFuzzy     []string
	MatchKeywords  []string
	MatchPatterns  []string
	MatchSourceIDs []int64
	Processing     map[string]any
	Metadata       map[string]any
	OutputTargets  []string
	AutoPublish    bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// HasRules reports whether any match category is configured.
func (t *Template) HasRules() bool {
	return len(t.MatchNames) > 0 || len(t.MatchFuzzy) > 0 || len(t.MatchKeywords) > 0 ||
		len(t.MatchPatterns) > 0 || len(t.MatchSourceIDs) > 0
}

func marshalJSONField(value any) (any, error) {
	switch v := value.(type) {
	case []string:
		if len(v) == 0 {
			return nil, nil
		}
	case []int64:
		if len(v) == 0 {
			return nil, nil
		}
	case map[string]any:
		if len(v) == 0 {
			return nil, nil
		}
	}
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("marshal field: %w", err)
	}
	return string(data), nil
}

func unmarshalJSONField(raw string, dest any) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	return json.Unmarshal([]byte(raw), dest)
}
