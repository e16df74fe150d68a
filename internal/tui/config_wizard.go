package tui

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/icco/context-optimizer/internal/config"
)

// strategyOptions lists config.Strategy's valid values for the select field.
var strategyOptions = []MenuItem{
	{Label: "relevance", Value: "relevance"},
	{Label: "lru", Value: "lru"},
	{Label: "fifo", Value: "fifo"},
	{Label: "semantic", Value: "semantic"},
	{Label: "adaptive", Value: "adaptive"},
}

// fieldsFromConfig builds the wizard's field list from a starting config, in
// the teacher's wizard.go style: one field per editable value, with the
// current value preloaded as the field's display string.
func fieldsFromConfig(cfg config.Config) []WizardField {
	strategyIndex := 0
	for i, opt := range strategyOptions {
		if opt.Value == string(cfg.Strategy) {
			strategyIndex = i
		}
	}
	return []WizardField{
		{
			ID: "context_window_size", Label: "Context window size (tokens)",
			Description: "Total token budget the cache optimizes against",
			Type:        FieldTypeText, Value: strconv.FormatInt(cfg.ContextWindowSize, 10),
		},
		{
			ID: "soft_threshold", Label: "Soft threshold",
			Description: "Utilization at which proactive compression begins",
			Type:        FieldTypeText, Value: formatFloat(cfg.SoftThreshold),
		},
		{
			ID: "hard_threshold", Label: "Hard threshold",
			Description: "Utilization at which eviction begins",
			Type:        FieldTypeText, Value: formatFloat(cfg.HardThreshold),
		},
		{
			ID: "emergency_threshold", Label: "Emergency threshold",
			Description: "Utilization at which archival begins",
			Type:        FieldTypeText, Value: formatFloat(cfg.EmergencyThreshold),
		},
		{
			ID: "strategy", Label: "Pruning strategy",
			Description: "Candidate ordering policy", Type: FieldTypeSelect,
			Options: strategyOptions, ValueIndex: strategyIndex, Value: string(cfg.Strategy),
		},
		{
			ID: "preserve_recent_count", Label: "Preserve recent count",
			Description: "Most-recently-created entries exempt from pruning",
			Type:        FieldTypeText, Value: strconv.Itoa(cfg.PreserveRecentCount),
		},
		{
			ID: "preserve_patterns", Label: "Preserve patterns",
			Description: "Comma-separated glob/substring patterns, never pruned",
			Type:        FieldTypeText, Value: strings.Join(cfg.PreservePatterns, ","),
		},
		{
			ID: "session_isolation", Label: "Session isolation",
			Description: "Scope scoring and pruning to one session_id at a time",
			Type:        FieldTypeYesNo, Value: yesNo(cfg.SessionIsolation),
		},
		{
			ID: "promote_on_access", Label: "Promote on access",
			Description: "Accessing a cold/warm entry returns it to the hot tier",
			Type:        FieldTypeYesNo, Value: yesNo(cfg.PromoteOnAccess),
		},
	}
}

func yesNo(b bool) string {
	if b {
		return "Yes"
	}
	return "No"
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// ApplyWizardResult patches cfg with the wizard's collected values. Numeric
// and strategy fields left blank or unparsable are left at their previous
// value rather than zeroing the config out from under the operator; a blank
// preserve_patterns value clears the pattern list.
func ApplyWizardResult(cfg config.Config, result *WizardResult) config.Config {
	if v, ok := result.Values["context_window_size"].(string); ok && v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.ContextWindowSize = n
		}
	}
	if v, ok := result.Values["soft_threshold"].(string); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.SoftThreshold = f
		}
	}
	if v, ok := result.Values["hard_threshold"].(string); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.HardThreshold = f
		}
	}
	if v, ok := result.Values["emergency_threshold"].(string); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.EmergencyThreshold = f
		}
	}
	if v, ok := result.Values["strategy_value"].(string); ok && v != "" {
		cfg.Strategy = config.Strategy(v)
	}
	if v, ok := result.Values["preserve_recent_count"].(string); ok && v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.PreserveRecentCount = n
		}
	}
	if v, ok := result.Values["preserve_patterns"].(string); ok {
		cfg.PreservePatterns = splitNonEmpty(v, ",")
	}
	if v, ok := result.Values["session_isolation"].(bool); ok {
		cfg.SessionIsolation = v
	}
	if v, ok := result.Values["promote_on_access"].(bool); ok {
		cfg.PromoteOnAccess = v
	}
	return cfg
}

func splitNonEmpty(s, sep string) []string {
	var out []string
	for _, part := range strings.Split(s, sep) {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// RunConfigWizard drives the interactive editor over cfg and returns the
// patched config, or an error if the operator cancels.
func RunConfigWizard(cfg config.Config) (config.Config, error) {
	result, err := RunWizard(fmt.Sprintf("context-optimizer config (window=%d)", cfg.ContextWindowSize), fieldsFromConfig(cfg))
	if err != nil {
		return cfg, err
	}
	return ApplyWizardResult(cfg, result), nil
}
