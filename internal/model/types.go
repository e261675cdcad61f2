package model

// VersionedRecord captures schema and codec evolution for persistent data.
type VersionedRecord struct {
	SchemaVersion int `json:"schema_version"`
	CodecVersion  int `json:"codec_version"`
}

// ModelRecord is a demographic model as persisted by a store.
type ModelRecord struct {
	VersionedRecord
	SpeciesID       string           `json:"species_id"`
	ID              string           `json:"id"`
	Description     string           `json:"description"`
	LongDescription string           `json:"long_description,omitempty"`
	GenerationTime  float64          `json:"generation_time"`
	MutationRate    float64          `json:"mutation_rate"`
	Citations       []CitationRecord `json:"citations,omitempty"`
	History         HistoryRecord    `json:"history"`
}

type CitationRecord struct {
	Author  string   `json:"author"`
	Year    string   `json:"year"`
	DOI     string   `json:"doi"`
	Reasons []string `json:"reasons,omitempty"`
}

type HistoryRecord struct {
	Populations  []PopulationRecord `json:"populations"`
	InitialSizes []float64          `json:"initial_sizes"`
	GrowthRates  []float64          `json:"growth_rates"`
	Migration    [][]float64        `json:"migration"`
	Events       []EventRecord      `json:"events"`
}

type PopulationRecord struct {
	ID           string   `json:"id"`
	Description  string   `json:"description"`
	SamplingTime *float64 `json:"sampling_time"`
}

// EventRecord flattens the event payload variants. Unused fields are zero.
type EventRecord struct {
	Time       float64 `json:"time"`
	Kind       string  `json:"kind"`
	Population int     `json:"population,omitempty"`
	Size       float64 `json:"size,omitempty"`
	GrowthRate float64 `json:"growth_rate,omitempty"`
	SetGrowth  bool    `json:"set_growth,omitempty"`
	Source     int     `json:"source,omitempty"`
	Dest       int     `json:"dest,omitempty"`
	Rate       float64 `json:"rate,omitempty"`
	Proportion float64 `json:"proportion,omitempty"`
}

// ModelKey identifies a stored model.
type ModelKey struct {
	SpeciesID string `json:"species_id"`
	ModelID   string `json:"model_id"`
}

type DefectRecord struct {
	SpeciesID string `json:"species_id"`
	ModelID   string `json:"model_id"`
	Reason    string `json:"reason"`
}

// SnapshotRecord lists what one export persisted and which models were
// withheld because their source data do not build.
type SnapshotRecord struct {
	VersionedRecord
	ID           string         `json:"id"`
	CreatedAtUTC string         `json:"created_at_utc"`
	Models       []ModelKey     `json:"models"`
	Defects      []DefectRecord `json:"defects,omitempty"`
}
