// Package voice holds the static language → voice catalog that constrains
// which narration voices may be selected for a given output language.
package voice

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

var (
	// ErrUnknownLanguage is returned when a language is not in the catalog.
	ErrUnknownLanguage = errors.New("voice: unknown language")

	// ErrVoiceNotAllowed is returned when a voice is not listed for the language.
	ErrVoiceNotAllowed = errors.New("voice: voice not allowed for language")
)

// Language is one selectable output language and its ordered voices.
type Language struct {
	// Name is the display name used in selections and prompts ("English (US)").
	Name string `yaml:"name" json:"name"`

	// Code is the BCP-47 tag ("en-US").
	Code string `yaml:"code" json:"code"`

	// Voices lists the allowed voice IDs; the first is the default.
	Voices []string `yaml:"voices" json:"voices"`
}

// Selection is a validated (language, voice) pair.
type Selection struct {
	Language string
	Code     string
	Voice    string
}

// English reports whether the selection needs no translation. Catalog
// overrides may use any display name, so the language code counts too.
func (s Selection) English() bool {
	return IsEnglish(s.Language) || IsEnglish(s.Code)
}

// Catalog is an ordered, read-only set of languages.
type Catalog struct {
	languages []Language
}

// NewCatalog builds a catalog from langs. Names must be unique and every
// language must list at least one voice.
func NewCatalog(langs []Language) (*Catalog, error) {
	if len(langs) == 0 {
		return nil, errors.New("voice: catalog must contain at least one language")
	}
	seen := make(map[string]bool, len(langs))
	out := make([]Language, 0, len(langs))
	for i, l := range langs {
		if l.Name == "" {
			return nil, fmt.Errorf("voice: language[%d]: name is required", i)
		}
		key := strings.ToLower(l.Name)
		if seen[key] {
			return nil, fmt.Errorf("voice: duplicate language %q", l.Name)
		}
		seen[key] = true
		if len(l.Voices) == 0 {
			return nil, fmt.Errorf("voice: language %q has no voices", l.Name)
		}
		out = append(out, Language{Name: l.Name, Code: l.Code, Voices: slices.Clone(l.Voices)})
	}
	return &Catalog{languages: out}, nil
}

// Default returns the built-in catalog of IBM Watson V3 voices.
func Default() *Catalog {
	c, err := NewCatalog(defaultLanguages)
	if err != nil {
		panic(err)
	}
	return c
}

// Languages returns a copy of the catalog in display order.
func (c *Catalog) Languages() []Language {
	out := make([]Language, len(c.languages))
	for i, l := range c.languages {
		out[i] = Language{Name: l.Name, Code: l.Code, Voices: slices.Clone(l.Voices)}
	}
	return out
}

// Lookup finds a language by name, case-insensitively.
func (c *Catalog) Lookup(name string) (Language, bool) {
	for _, l := range c.languages {
		if strings.EqualFold(l.Name, strings.TrimSpace(name)) {
			return Language{Name: l.Name, Code: l.Code, Voices: slices.Clone(l.Voices)}, true
		}
	}
	return Language{}, false
}

// Resolve validates voiceID against language. An empty voiceID selects the
// language's first voice. The returned selection uses the catalog's
// canonical language name.
func (c *Catalog) Resolve(language, voiceID string) (Selection, error) {
	l, ok := c.Lookup(language)
	if !ok {
		return Selection{}, fmt.Errorf("%w: %q", ErrUnknownLanguage, language)
	}
	if voiceID == "" {
		return Selection{Language: l.Name, Code: l.Code, Voice: l.Voices[0]}, nil
	}
	if !slices.Contains(l.Voices, voiceID) {
		return Selection{}, fmt.Errorf("%w: %q is not offered for %s", ErrVoiceNotAllowed, voiceID, l.Name)
	}
	return Selection{Language: l.Name, Code: l.Code, Voice: voiceID}, nil
}

// IsEnglish reports whether language is an English variant, in which case
// no translation is needed. Both display names ("English (UK)") and BCP-47
// tags ("en-GB") are recognised.
func IsEnglish(language string) bool {
	l := strings.ToLower(strings.TrimSpace(language))
	return strings.HasPrefix(l, "english") || l == "en" || strings.HasPrefix(l, "en-") || strings.HasPrefix(l, "en_")
}

var defaultLanguages = []Language{
	{Name: "English (US)", Code: "en-US", Voices: []string{
		"en-US_AllisonV3Voice", "en-US_LisaV3Voice", "en-US_MichaelV3Voice",
		"en-US_EmilyV3Voice", "en-US_HenryV3Voice", "en-US_KevinV3Voice", "en-US_OliviaV3Voice",
	}},
	{Name: "English (UK)", Code: "en-GB", Voices: []string{
		"en-GB_CharlotteV3Voice", "en-GB_JamesV3Voice", "en-GB_KateV3Voice",
	}},
	{Name: "English (Australia)", Code: "en-AU", Voices: []string{
		"en-AU_HeidiExpressive", "en-AU_JackExpressive",
	}},
	{Name: "Spanish", Code: "es-ES", Voices: []string{
		"es-ES_LauraV3Voice", "es-ES_EnriqueV3Voice",
	}},
	{Name: "Spanish (Latin America)", Code: "es-LA", Voices: []string{
		"es-LA_SofiaV3Voice",
	}},
	{Name: "French", Code: "fr-FR", Voices: []string{
		"fr-FR_ReneeV3Voice", "fr-FR_NicolasV3Voice",
	}},
	{Name: "French (Canada)", Code: "fr-CA", Voices: []string{
		"fr-CA_LouiseV3Voice",
	}},
	{Name: "German", Code: "de-DE", Voices: []string{
		"de-DE_BirgitV3Voice", "de-DE_DieterV3Voice", "de-DE_ErikaV3Voice",
	}},
	{Name: "Italian", Code: "it-IT", Voices: []string{
		"it-IT_FrancescaV3Voice",
	}},
	{Name: "Japanese", Code: "ja-JP", Voices: []string{
		"ja-JP_EmiV3Voice",
	}},
	{Name: "Portuguese (Brazil)", Code: "pt-BR", Voices: []string{
		"pt-BR_IsabelaV3Voice",
	}},
	{Name: "Dutch", Code: "nl-NL", Voices: []string{
		"nl-NL_MerelV3Voice",
	}},
}
