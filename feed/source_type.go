package feed

import (
	"encoding/json"
	"time"
)

// PeriodNever disables scheduled imports (import_period) or age-based
// expiry (expire_period) for a source type.
const PeriodNever = -1

// SourceType is a reusable pipeline definition: which fetcher, parser and
// processor plugins run, their configuration, and the mapping table.
// Shared read-mostly across all sources of the type.
type SourceType struct {
	ID    string
	Label string

	// ImportPeriod is the number of seconds between scheduled imports;
	// PeriodNever disables scheduling.
	ImportPeriod int

	// ExpirePeriod is the maximum item age in seconds before expiry;
	// PeriodNever disables expiry.
	ExpirePeriod int

	Fetcher   string
	Parser    string
	Processor string

	// PluginConfig holds per-plugin configuration blobs keyed by plugin id.
	PluginConfig map[string]json.RawMessage

	// Mappings is the ordered mapping table.
	Mappings []Mapping

	// CustomSources are named expressions usable as mapping sources.
	// Each value is an item key the expression reads from.
	CustomSources map[string]string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Period returns the import period as a duration and whether scheduling
// is enabled at all.
func (t *SourceType) Period() (time.Duration, bool) {
	if t.ImportPeriod == PeriodNever {
		return 0, false
	}
	return time.Duration(t.ImportPeriod) * time.Second, true
}

// MaxAge returns the expiry age as a duration and whether expiry is
// enabled.
func (t *SourceType) MaxAge() (time.Duration, bool) {
	if t.ExpirePeriod == PeriodNever || t.ExpirePeriod <= 0 {
		return 0, false
	}
	return time.Duration(t.ExpirePeriod) * time.Second, true
}

// SetProcessor switches the processor plugin. Existing mappings are
// cleared because their targets belong to the previous processor.
func (t *SourceType) SetProcessor(processor string) {
	if t.Processor == processor {
		return
	}
	t.Processor = processor
	t.Mappings = nil
}

// PluginConfigFor unmarshals the configuration blob for one plugin into
// out. A missing blob leaves out untouched.
func (t *SourceType) PluginConfigFor(pluginID string, out interface{}) error {
	raw, ok := t.PluginConfig[pluginID]
	if !ok || len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, out)
}

// ResolveSource translates a mapping source expression to an item key,
// looking through named custom sources first.
func (t *SourceType) ResolveSource(expression string) string {
	if key, ok := t.CustomSources[expression]; ok {
		return key
	}
	return expression
}
