// Package catalog loads the read-only configuration tables that drive the
// simulator: baseline volumes, stream relationships, external event
// templates and scenario definitions.
package catalog

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"

	"github.com/rewired-gh/streamsim/internal/duration"
	"github.com/rewired-gh/streamsim/internal/models"
)

//go:embed data
var embedded embed.FS

// Cadence is a stream's live emission class.
type Cadence string

const (
	CadenceHigh   Cadence = "high"
	CadenceMedium Cadence = "medium"
	CadenceLow    Cadence = "low"
)

// Cadences lists every emission class from fastest to slowest.
var Cadences = []Cadence{CadenceHigh, CadenceMedium, CadenceLow}

var cadenceDefaults = map[Cadence]float64{
	CadenceHigh:   5000,
	CadenceMedium: 1000,
	CadenceLow:    200,
}

// StreamMetric is one row of the baseline metrics table.
type StreamMetric struct {
	EventsPerDay float64 `yaml:"events_per_day"`
	Cadence      Cadence `yaml:"cadence"`
}

// Relationships are the declared inter-stream rules.
type Relationships struct {
	EventChains          []EventChain                 `yaml:"event_chains"`
	ProbabilityMatrices  map[string]ProbabilityMatrix `yaml:"probability_matrices"`
	CascadingEffects     []CascadingEffect            `yaml:"cascading_effects"`
	TemporalDependencies []TemporalDependency         `yaml:"temporal_dependencies"`
}

type EventChain struct {
	ID    string      `yaml:"id"`
	Steps []ChainStep `yaml:"chain"`
}

type ChainStep struct {
	Stream string      `yaml:"stream"`
	Next   []ChainLink `yaml:"next"`
}

type ChainLink struct {
	Stream      string  `yaml:"stream"`
	Probability float64 `yaml:"probability"`
	Delay       string  `yaml:"delay"`
	Condition   string  `yaml:"condition"`
}

type ProbabilityMatrix struct {
	Trigger  string    `yaml:"trigger"`
	Outcomes []Outcome `yaml:"outcomes"`
}

type Outcome struct {
	Stream    string  `yaml:"stream"`
	Weight    float64 `yaml:"weight"`
	Delay     string  `yaml:"delay"`
	Condition string  `yaml:"condition"`
}

type CascadingEffect struct {
	Trigger   string          `yaml:"trigger"`
	Condition string          `yaml:"condition"`
	Effects   []CascadeTarget `yaml:"effects"`
}

type CascadeTarget struct {
	Stream      string  `yaml:"stream"`
	Multiplier  float64 `yaml:"multiplier"`
	Delay       string  `yaml:"delay"`
	Window      string  `yaml:"window"`
	Condition   string  `yaml:"condition"`
	Description string  `yaml:"description"`
}

type TemporalDependency struct {
	Prerequisite string `yaml:"prerequisite"`
	Dependent    string `yaml:"dependent"`
	MinDelay     string `yaml:"min_delay"`
}

// EventTemplate is an external event blueprint used for history backfill.
type EventTemplate struct {
	Type           models.EventType      `yaml:"type"`
	Title          string                `yaml:"title"`
	Description    string                `yaml:"description"`
	Severity       models.Severity       `yaml:"severity"`
	Icon           string                `yaml:"icon"`
	ExpectedImpact models.ExpectedImpact `yaml:"expected_impact"`
}

// ScenarioSummary is an entry of the scenario index.
type ScenarioSummary struct {
	ID       string   `yaml:"id" json:"id"`
	Name     string   `yaml:"name" json:"name"`
	Category string   `yaml:"category" json:"category"`
	Tags     []string `yaml:"tags" json:"tags"`
}

// EventDefinition is an external event declared by a scenario. Timestamp is
// "now", empty, or RFC 3339.
type EventDefinition struct {
	ID             string                `yaml:"id"`
	Timestamp      string                `yaml:"timestamp"`
	Type           models.EventType      `yaml:"type"`
	Title          string                `yaml:"title"`
	Description    string                `yaml:"description"`
	Severity       models.Severity       `yaml:"severity"`
	ExpectedImpact models.ExpectedImpact `yaml:"expected_impact"`
	Icon           string                `yaml:"icon"`
	ExternalLink   string                `yaml:"external_link"`
	InjectedByAI   bool                  `yaml:"injected_by_ai"`
}

// ToEvent materialises the definition. "now" and empty timestamps resolve
// to now.
func (d EventDefinition) ToEvent(now time.Time) models.ExternalEvent {
	ts := now
	if t, err := time.Parse(time.RFC3339, d.Timestamp); err == nil {
		ts = t
	}
	return models.ExternalEvent{
		ID:             d.ID,
		Timestamp:      ts,
		Type:           d.Type,
		Title:          d.Title,
		Description:    d.Description,
		Severity:       d.Severity,
		ExpectedImpact: d.ExpectedImpact,
		Icon:           d.Icon,
		ExternalLink:   d.ExternalLink,
		InjectedByAI:   d.InjectedByAI,
	}
}

func validTimestamp(s string) bool {
	if s == "" || s == "now" {
		return true
	}
	_, err := time.Parse(time.RFC3339, s)
	return err == nil
}

// ScenarioDefinition is a scenario file.
type ScenarioDefinition struct {
	ID                 string                               `yaml:"id"`
	Description        string                               `yaml:"description"`
	Duration           string                               `yaml:"duration"`
	SettlementDuration string                               `yaml:"settlement_duration"`
	SettlementType     models.SettlementType                `yaml:"settlement_type"`
	AffectedStreams    map[string]models.StreamModification `yaml:"affected_streams"`
	CascadeEffects     []models.CascadeRule                 `yaml:"cascade_effects"`
	ExternalEvents     []EventDefinition                    `yaml:"external_events"`

	Summary ScenarioSummary `yaml:"-"`
}

// Catalog holds every configuration table.
type Catalog struct {
	Streams       map[string]StreamMetric
	Relationships Relationships
	Templates     []EventTemplate
	Index         []ScenarioSummary
	Scenarios     map[string]ScenarioDefinition
}

// LoadEmbedded loads the tables compiled into the binary.
func LoadEmbedded() (*Catalog, error) {
	sub, err := fs.Sub(embedded, "data")
	if err != nil {
		return nil, err
	}
	return Load(sub)
}

// LoadDir loads tables from dir, or the embedded tables when dir is empty.
func LoadDir(dir string) (*Catalog, error) {
	if dir == "" {
		return LoadEmbedded()
	}
	return Load(os.DirFS(dir))
}

// Load reads and validates every table from fsys.
func Load(fsys fs.FS) (*Catalog, error) {
	var baseline struct {
		Streams map[string]StreamMetric `yaml:"streams"`
	}
	if err := decode(fsys, "baseline_metrics.yaml", &baseline); err != nil {
		return nil, err
	}

	var rel Relationships
	if err := decode(fsys, "relationships.yaml", &rel); err != nil {
		return nil, err
	}

	var templates struct {
		Templates []EventTemplate `yaml:"templates"`
	}
	if err := decode(fsys, "event_templates.yaml", &templates); err != nil {
		return nil, err
	}

	var index struct {
		Scenarios []ScenarioSummary `yaml:"scenarios"`
	}
	if err := decode(fsys, "scenarios/index.yaml", &index); err != nil {
		return nil, err
	}

	c := &Catalog{
		Streams:       baseline.Streams,
		Relationships: rel,
		Templates:     templates.Templates,
		Index:         index.Scenarios,
		Scenarios:     make(map[string]ScenarioDefinition, len(index.Scenarios)),
	}
	if c.Streams == nil {
		c.Streams = map[string]StreamMetric{}
	}

	for _, summary := range index.Scenarios {
		var def ScenarioDefinition
		if err := decode(fsys, path.Join("scenarios", summary.ID+".yaml"), &def); err != nil {
			return nil, err
		}
		def.Summary = summary
		c.Scenarios[summary.ID] = def
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func decode(fsys fs.FS, name string, out any) error {
	raw, err := fs.ReadFile(fsys, name)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", name, err)
	}
	if err := yaml.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to parse %s: %w", name, err)
	}
	return nil
}

// Validate checks every table and reports all problems at once.
func (c *Catalog) Validate() error {
	var errs *multierror.Error
	invalid := func(field, format string, args ...any) {
		errs = multierror.Append(errs, models.NewValidationError(field, format, args...))
	}
	checkDuration := func(field, value string) {
		if _, err := duration.Parse(value); err != nil {
			invalid(field, "%v", err)
		}
	}
	checkCondition := func(field, expr string) {
		if _, err := CompileCondition(expr); err != nil {
			invalid(field, "%v", err)
		}
	}

	for name, m := range c.Streams {
		switch m.Cadence {
		case "", CadenceHigh, CadenceMedium, CadenceLow:
		default:
			invalid("streams."+name, "unknown cadence %q", m.Cadence)
		}
		if m.EventsPerDay < 0 {
			invalid("streams."+name, "events_per_day must not be negative")
		}
	}

	for i, chain := range c.Relationships.EventChains {
		for j, step := range chain.Steps {
			for k, link := range step.Next {
				field := fmt.Sprintf("event_chains[%d].chain[%d].next[%d]", i, j, k)
				if link.Stream == "" {
					invalid(field, "stream is required")
				}
				if link.Probability < 0 || link.Probability > 1 {
					invalid(field, "probability must be between 0 and 1")
				}
				checkDuration(field+".delay", link.Delay)
				checkCondition(field+".condition", link.Condition)
			}
		}
	}
	for id, m := range c.Relationships.ProbabilityMatrices {
		field := "probability_matrices." + id
		if m.Trigger == "" {
			invalid(field, "trigger is required")
		}
		if len(m.Outcomes) == 0 {
			invalid(field, "at least one outcome is required")
		}
		for k, o := range m.Outcomes {
			if o.Weight < 0 {
				invalid(fmt.Sprintf("%s.outcomes[%d]", field, k), "weight must not be negative")
			}
			checkDuration(fmt.Sprintf("%s.outcomes[%d].delay", field, k), o.Delay)
			checkCondition(fmt.Sprintf("%s.outcomes[%d].condition", field, k), o.Condition)
		}
	}
	for i, ce := range c.Relationships.CascadingEffects {
		checkCondition(fmt.Sprintf("cascading_effects[%d].condition", i), ce.Condition)
		for k, e := range ce.Effects {
			field := fmt.Sprintf("cascading_effects[%d].effects[%d]", i, k)
			if e.Multiplier <= 0 {
				invalid(field, "multiplier must be positive")
			}
			checkDuration(field+".delay", e.Delay)
			checkDuration(field+".window", e.Window)
			checkCondition(field+".condition", e.Condition)
		}
	}
	for i, td := range c.Relationships.TemporalDependencies {
		field := fmt.Sprintf("temporal_dependencies[%d]", i)
		if td.Prerequisite == "" || td.Dependent == "" {
			invalid(field, "prerequisite and dependent are required")
		}
		checkDuration(field+".min_delay", td.MinDelay)
	}

	for i, t := range c.Templates {
		e := models.ExternalEvent{
			ID:             fmt.Sprintf("template-%d", i),
			Type:           t.Type,
			Title:          t.Title,
			Description:    t.Description,
			Severity:       t.Severity,
			ExpectedImpact: t.ExpectedImpact,
		}
		if err := e.Validate(); err != nil {
			invalid(fmt.Sprintf("templates[%d]", i), "%v", err)
		}
	}

	seen := make(map[string]bool, len(c.Index))
	for _, s := range c.Index {
		if seen[s.ID] {
			invalid("scenarios/index", "duplicate scenario id %q", s.ID)
		}
		seen[s.ID] = true
	}
	for _, id := range c.ScenarioIDs() {
		def := c.Scenarios[id]
		field := "scenarios/" + id
		if def.ID != id {
			invalid(field, "file declares id %q", def.ID)
		}
		if err := validateScenario(def); err != nil {
			invalid(field, "%v", err)
		}
		for k, e := range def.ExternalEvents {
			ev := e.ToEvent(time.Time{})
			if err := ev.Validate(); err != nil {
				invalid(fmt.Sprintf("%s.external_events[%d]", field, k), "%v", err)
			}
			if !validTimestamp(e.Timestamp) {
				invalid(fmt.Sprintf("%s.external_events[%d].timestamp", field, k), "must be \"now\" or RFC 3339")
			}
		}
	}

	return errs.ErrorOrNil()
}

func validateScenario(def ScenarioDefinition) error {
	m := models.ScenarioModifier{
		ID:                 def.ID,
		Description:        def.Description,
		Duration:           def.Duration,
		AffectedStreams:    def.AffectedStreams,
		SettlementDuration: def.SettlementDuration,
		SettlementType:     def.SettlementType,
	}
	if err := m.Validate(); err != nil {
		return err
	}
	for _, rule := range def.CascadeEffects {
		if rule.SourceStream == "" || rule.TargetStream == "" {
			return fmt.Errorf("cascade effect requires source_stream and target_stream")
		}
		for _, d := range []string{rule.Delay, rule.Window} {
			if _, err := duration.Parse(d); err != nil {
				return fmt.Errorf("cascade %s->%s: %w", rule.SourceStream, rule.TargetStream, err)
			}
		}
		if _, err := CompileCondition(rule.Condition); err != nil {
			return fmt.Errorf("cascade %s->%s: %w", rule.SourceStream, rule.TargetStream, err)
		}
	}
	return nil
}

// CheckStreams reports every stream referenced by the tables that known
// does not recognise.
func (c *Catalog) CheckStreams(known func(string) bool) error {
	var errs *multierror.Error
	check := func(field, stream string) {
		if stream != "" && !known(stream) {
			errs = multierror.Append(errs, models.NewValidationError(field, "unknown stream %q", stream))
		}
	}
	for name := range c.Streams {
		check("streams", name)
	}
	for _, chain := range c.Relationships.EventChains {
		for _, step := range chain.Steps {
			check("event_chains."+chain.ID, step.Stream)
			for _, link := range step.Next {
				check("event_chains."+chain.ID, link.Stream)
			}
		}
	}
	for id, m := range c.Relationships.ProbabilityMatrices {
		check("probability_matrices."+id, m.Trigger)
		for _, o := range m.Outcomes {
			check("probability_matrices."+id, o.Stream)
		}
	}
	for _, ce := range c.Relationships.CascadingEffects {
		check("cascading_effects", ce.Trigger)
		for _, e := range ce.Effects {
			check("cascading_effects", e.Stream)
		}
	}
	for _, td := range c.Relationships.TemporalDependencies {
		check("temporal_dependencies", td.Prerequisite)
		check("temporal_dependencies", td.Dependent)
	}
	for _, id := range c.ScenarioIDs() {
		for stream := range c.Scenarios[id].AffectedStreams {
			check("scenarios/"+id, stream)
		}
	}
	return errs.ErrorOrNil()
}

// EventsPerDay returns the baseline volume table with cadence defaults
// filled in.
func (c *Catalog) EventsPerDay() map[string]float64 {
	out := make(map[string]float64, len(c.Streams))
	for name, m := range c.Streams {
		v := m.EventsPerDay
		if v <= 0 {
			v = cadenceDefaults[m.CadenceOrDefault()]
		}
		out[name] = v
	}
	return out
}

// CadenceOrDefault returns the declared cadence, medium when unset.
func (m StreamMetric) CadenceOrDefault() Cadence {
	if m.Cadence == "" {
		return CadenceMedium
	}
	return m.Cadence
}

// StreamsByCadence groups configured streams by emission class, sorted by name.
func (c *Catalog) StreamsByCadence() map[Cadence][]string {
	out := make(map[Cadence][]string, len(Cadences))
	for name, m := range c.Streams {
		cad := m.CadenceOrDefault()
		out[cad] = append(out[cad], name)
	}
	for _, names := range out {
		sort.Strings(names)
	}
	return out
}

// StreamNames returns every configured stream, sorted.
func (c *Catalog) StreamNames() []string {
	names := make([]string, 0, len(c.Streams))
	for name := range c.Streams {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ScenarioIDs returns scenario ids in index order.
func (c *Catalog) ScenarioIDs() []string {
	ids := make([]string, 0, len(c.Index))
	for _, s := range c.Index {
		ids = append(ids, s.ID)
	}
	return ids
}

// Scenario returns the definition for id.
func (c *Catalog) Scenario(id string) (ScenarioDefinition, error) {
	def, ok := c.Scenarios[strings.TrimSpace(id)]
	if !ok {
		return ScenarioDefinition{}, &models.NotFoundError{Kind: "scenario", ID: id}
	}
	return def, nil
}
