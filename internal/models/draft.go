package models

// ParsedGuestDraft is an unvalidated candidate guest produced by an import
// source (spreadsheet or image recognition). Never persisted.
type ParsedGuestDraft struct {
	Name         string   `json:"name"`
	Code         string   `json:"code,omitempty"`
	Title        string   `json:"title,omitempty"`
	Note         string   `json:"note,omitempty"`
	Category     Category `json:"category,omitempty"`
	Phone        string   `json:"phone,omitempty"`
	HasSignature bool     `json:"hasSignature"`
	ForcedRound  *int     `json:"forcedRound,omitempty"`
}

// DrawMode selects the lottery eligibility pool
type DrawMode string

const (
	DrawDefault     DrawMode = "default"
	DrawAll         DrawMode = "all"
	DrawWinnersOnly DrawMode = "winners_only"
)

// Snapshot is a full copy of the registry state as exchanged with the local
// mirror and the remote store. Settings is a complete settings document and
// is nil when the source has none. SettingsPatch carries only the fields a
// partially written source holds; the remote store uses it.
type Snapshot struct {
	Guests        []Guest         `json:"guests"`
	Settings      *SystemSettings `json:"settings,omitempty"`
	SettingsPatch *SettingsPatch  `json:"-"`
}
