// Package localization provides functionality for internationalization (i18n).
// It loads translation strings from JSON files and provides a simple way to get
// localized strings for different languages.
package localization

import (
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"path"
	"strings"
	"sync"
)

// DefaultLang is used when a key is missing in the requested language.
const DefaultLang = "en"

//go:embed locales/*.json
var embedded embed.FS

// Localizer manages the translations for the application.
// It holds a map of languages, each with its own map of translation keys and values.
type Localizer struct {
	translations map[string]map[string]string
	mu           sync.RWMutex
}

var (
	defaultOnce      sync.Once
	defaultLocalizer *Localizer
)

// Default returns the localizer built from the bundled locales.
func Default() *Localizer {
	defaultOnce.Do(func() {
		l, err := NewLocalizer(embedded, "locales")
		if err != nil {
			panic(fmt.Sprintf("localization: bundled locales are broken: %v", err))
		}
		defaultLocalizer = l
	})
	return defaultLocalizer
}

// NewLocalizer loads every <lang>.json file in dir of fsys.
func NewLocalizer(fsys fs.FS, dir string) (*Localizer, error) {
	l := &Localizer{
		translations: make(map[string]map[string]string),
	}

	files, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read localization directory: %w", err)
	}

	for _, file := range files {
		if file.IsDir() || !strings.HasSuffix(file.Name(), ".json") {
			continue
		}

		lang := strings.TrimSuffix(file.Name(), ".json")
		data, err := fs.ReadFile(fsys, path.Join(dir, file.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read localization file %s: %w", file.Name(), err)
		}

		var translations map[string]string
		if err := json.Unmarshal(data, &translations); err != nil {
			return nil, fmt.Errorf("failed to parse localization file %s: %w", file.Name(), err)
		}

		l.translations[lang] = translations
	}

	return l, nil
}

// GetString returns the localized string for a given key and language.
// If the language or the key is not found, it returns the key itself as a fallback.
func (l *Localizer) GetString(lang, key string) string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if langTranslations, ok := l.translations[lang]; ok {
		if value, ok := langTranslations[key]; ok {
			return value
		}
	}

	if lang != DefaultLang {
		if enTranslations, ok := l.translations[DefaultLang]; ok {
			if value, ok := enTranslations[key]; ok {
				return value
			}
		}
	}

	return key
}

// Format looks up key and formats it with args.
func (l *Localizer) Format(lang, key string, args ...any) string {
	return fmt.Sprintf(l.GetString(lang, key), args...)
}

// Match picks the best loaded language for an Accept-Language header value.
// Quality weights are ignored; the first supported tag wins.
func (l *Localizer) Match(acceptLanguage string) string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	for _, part := range strings.Split(acceptLanguage, ",") {
		tag, _, _ := strings.Cut(strings.TrimSpace(part), ";")
		tag = strings.ToLower(tag)
		if tag == "" {
			continue
		}
		if _, ok := l.translations[tag]; ok {
			return tag
		}
		base, _, _ := strings.Cut(tag, "-")
		if _, ok := l.translations[base]; ok {
			return base
		}
	}
	return DefaultLang
}
