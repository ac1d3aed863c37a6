package scenario

import (
	"time"

	"github.com/rewired-gh/streamsim/internal/catalog"
	"github.com/rewired-gh/streamsim/internal/models"
)

// Summary describes a catalog scenario for listing.
type Summary struct {
	ID                 string   `json:"id"`
	Name               string   `json:"name"`
	Category           string   `json:"category"`
	Tags               []string `json:"tags"`
	Description        string   `json:"description"`
	Duration           string   `json:"duration,omitempty"`
	SettlementDuration string   `json:"settlementDuration,omitempty"`
}

// Loader materialises catalog scenario definitions.
type Loader struct {
	cat *catalog.Catalog
}

func NewLoader(cat *catalog.Catalog) *Loader {
	return &Loader{cat: cat}
}

// Load builds a fresh modifier and its external events for id, stamped at
// now.
func (l *Loader) Load(id string, now time.Time) (models.ScenarioModifier, []models.ExternalEvent, error) {
	def, err := l.cat.Scenario(id)
	if err != nil {
		return models.ScenarioModifier{}, nil, err
	}

	events := make([]models.ExternalEvent, 0, len(def.ExternalEvents))
	related := make([]string, 0, len(def.ExternalEvents))
	for _, d := range def.ExternalEvents {
		ev := d.ToEvent(now)
		events = append(events, ev)
		related = append(related, ev.ID)
	}

	affected := make(map[string]models.StreamModification, len(def.AffectedStreams))
	for stream, mod := range def.AffectedStreams {
		affected[stream] = mod
	}

	mod := models.ScenarioModifier{
		ID:                 def.ID,
		Type:               def.Summary.Category,
		Description:        def.Description,
		StartTime:          now,
		Duration:           def.Duration,
		AffectedStreams:    affected,
		CascadeEffects:     append([]models.CascadeRule(nil), def.CascadeEffects...),
		RelatedEvents:      related,
		Status:             models.StatusActive,
		SettlementDuration: def.SettlementDuration,
		SettlementType:     def.SettlementType,
	}
	if mod.SettlementType == "" {
		mod.SettlementType = models.SettlementLinear
	}
	// Clone detaches probability shift maps from the catalog
	return mod.Clone(), events, nil
}

// List returns every catalog scenario in index order.
func (l *Loader) List() []Summary {
	out := make([]Summary, 0, len(l.cat.Index))
	for _, id := range l.cat.ScenarioIDs() {
		def := l.cat.Scenarios[id]
		out = append(out, Summary{
			ID:                 id,
			Name:               def.Summary.Name,
			Category:           def.Summary.Category,
			Tags:               append([]string{}, def.Summary.Tags...),
			Description:        def.Description,
			Duration:           def.Duration,
			SettlementDuration: def.SettlementDuration,
		})
	}
	return out
}
