// Package normalizer validates and cleans raw import drafts before they reach
// reconciliation.
package normalizer

import (
	"fmt"
	"os"
	"strings"

	"golang.org/x/text/cases"
	"gopkg.in/yaml.v3"

	"github.com/extinguish558/jci-checkin-system-sub000/internal/models"
)

// CategoryRule maps a keyword found in a draft's title or note to a category.
type CategoryRule struct {
	Keyword  string          `yaml:"keyword"`
	Category models.Category `yaml:"category"`
}

// Rules configures the normalizer. Categories are evaluated in order and the
// first match wins.
type Rules struct {
	Blacklist  []string       `yaml:"blacklist"`
	Categories []CategoryRule `yaml:"categories"`
}

// DefaultRules returns the built-in header blacklist and category table.
func DefaultRules() Rules {
	return Rules{
		Blacklist: []string{
			"姓名", "Name", "職稱", "Title", "備註", "Note",
			"編號", "No", "序號", "類別", "Category", "簽名", "Signature",
		},
		Categories: []CategoryRule{
			{Keyword: "市長", Category: models.CategoryGov},
			{Keyword: "議員", Category: models.CategoryGov},
			{Keyword: "立委", Category: models.CategoryGov},
			{Keyword: "局長", Category: models.CategoryGov},
			{Keyword: "主任", Category: models.CategoryGov},
			{Keyword: "貴賓", Category: models.CategoryVIP},
			{Keyword: "VIP", Category: models.CategoryVIP},
			{Keyword: "理事長", Category: models.CategoryVIP},
			{Keyword: "董事長", Category: models.CategoryVIP},
			{Keyword: "會長", Category: models.CategoryVIP},
			{Keyword: "會友", Category: models.CategoryMember},
			{Keyword: "會員", Category: models.CategoryMember},
			{Keyword: "秘書", Category: models.CategoryMember},
			{Keyword: "來賓", Category: models.CategoryGuest},
		},
	}
}

// LoadRules reads a YAML rule file. Empty sections fall back to the defaults.
func LoadRules(path string) (Rules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Rules{}, fmt.Errorf("failed to read rules file: %w", err)
	}

	var rules Rules
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return Rules{}, fmt.Errorf("failed to parse rules file: %w", err)
	}

	def := DefaultRules()
	if len(rules.Blacklist) == 0 {
		rules.Blacklist = def.Blacklist
	}
	if len(rules.Categories) == 0 {
		rules.Categories = def.Categories
	}
	return rules, nil
}

// Report counts what a batch normalization kept and dropped.
type Report struct {
	Accepted int
	Rejected int
}

// Normalizer is a pure draft cleaner. Safe for concurrent use.
type Normalizer struct {
	blacklist map[string]struct{}
	rules     []CategoryRule
}

// New builds a Normalizer from rules.
func New(rules Rules) *Normalizer {
	n := &Normalizer{
		blacklist: make(map[string]struct{}, len(rules.Blacklist)),
		rules:     make([]CategoryRule, 0, len(rules.Categories)),
	}
	for _, token := range rules.Blacklist {
		n.blacklist[fold(strings.TrimSpace(token))] = struct{}{}
	}
	for _, r := range rules.Categories {
		if kw := strings.TrimSpace(r.Keyword); kw != "" {
			n.rules = append(n.rules, CategoryRule{Keyword: fold(kw), Category: r.Category})
		}
	}
	return n
}

// Normalize returns the cleaned draft, or false when the draft must be
// dropped (empty name or a spreadsheet header token).
func (n *Normalizer) Normalize(d models.ParsedGuestDraft) (models.ParsedGuestDraft, bool) {
	d.Name = strings.TrimSpace(d.Name)
	if d.Name == "" {
		return d, false
	}
	if _, ok := n.blacklist[fold(d.Name)]; ok {
		return d, false
	}

	d.Code = strings.TrimSpace(d.Code)
	d.Title = strings.TrimSpace(d.Title)
	d.Note = strings.TrimSpace(d.Note)
	d.Phone = strings.TrimSpace(d.Phone)
	d.Category = models.Category(strings.ToUpper(strings.TrimSpace(string(d.Category))))

	if d.Category == "" {
		d.Category = n.infer(d.Title, d.Note)
	}
	return d, true
}

// NormalizeBatch cleans drafts in order, dropping rejects individually.
func (n *Normalizer) NormalizeBatch(drafts []models.ParsedGuestDraft) ([]models.ParsedGuestDraft, Report) {
	out := make([]models.ParsedGuestDraft, 0, len(drafts))
	var rep Report
	for _, d := range drafts {
		clean, ok := n.Normalize(d)
		if !ok {
			rep.Rejected++
			continue
		}
		out = append(out, clean)
		rep.Accepted++
	}
	return out, rep
}

// infer returns the category of the first rule whose keyword appears in the
// title, then the note. Empty when nothing matches; reconciliation keeps any
// existing category in that case.
func (n *Normalizer) infer(title, note string) models.Category {
	for _, text := range []string{title, note} {
		if text == "" {
			continue
		}
		folded := fold(text)
		for _, r := range n.rules {
			if strings.Contains(folded, r.Keyword) {
				return r.Category
			}
		}
	}
	return ""
}

func fold(s string) string {
	return cases.Fold().String(s)
}
