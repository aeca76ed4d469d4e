// Пакет i18n — переводы подписей отчётов, API и CLI.
// Поддерживаемые языки: Français (fr, по умолчанию), English (en).
// T(ctx, key) и Tf(ctx, key, args...) берут язык из контекста.
package i18n

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/text/language"
)

// DefaultLang — язык по умолчанию и язык fallback.
const DefaultLang = "fr"

var (
	// SupportedLanguages — список поддерживаемых тегов языков.
	SupportedLanguages = []language.Tag{
		language.French,
		language.English,
	}

	matcher = language.NewMatcher(SupportedLanguages)
)

type contextKey string

const contextKeyLang contextKey = "i18n_lang"

// Bundle — хранилище переводов для всех языков.
type Bundle struct {
	mu       sync.RWMutex
	catalogs map[string]map[string]string // lang → key → translation
	logger   *slog.Logger
}

// NewBundle создаёт пустой Bundle. logger может быть nil.
func NewBundle(logger *slog.Logger) *Bundle {
	return &Bundle{
		catalogs: make(map[string]map[string]string),
		logger:   logger,
	}
}

// LoadMessages загружает плоский JSON-каталог {"key": "translation"}.
func (b *Bundle) LoadMessages(lang string, data []byte) error {
	var messages map[string]string
	if err := json.Unmarshal(data, &messages); err != nil {
		return fmt.Errorf("i18n: ошибка парсинга каталога %s: %w", lang, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.catalogs[lang] = messages

	if b.logger != nil {
		b.logger.Debug("i18n каталог загружен",
			slog.String("lang", lang),
			slog.Int("keys", len(messages)),
		)
	}
	return nil
}

// Translate возвращает перевод по ключу. Fallback — французский,
// затем сам ключ.
func (b *Bundle) Translate(lang, key string) string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if catalog, ok := b.catalogs[lang]; ok {
		if msg, ok := catalog[key]; ok {
			return msg
		}
	}
	if lang != DefaultLang {
		if msg, ok := b.catalogs[DefaultLang][key]; ok {
			return msg
		}
	}
	return key
}

// Translatef возвращает перевод с подстановкой аргументов.
func (b *Bundle) Translatef(lang, key string, args ...any) string {
	template := b.Translate(lang, key)
	if len(args) == 0 {
		return template
	}
	return formatFunc(template, args...)
}

// Keys возвращает ключи каталога языка.
func (b *Bundle) Keys(lang string) []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	keys := make([]string, 0, len(b.catalogs[lang]))
	for k := range b.catalogs[lang] {
		keys = append(keys, k)
	}
	return keys
}

var (
	defaultBundle *Bundle
	defaultOnce   sync.Once
)

// Default возвращает Bundle со встроенными каталогами.
// Каталоги встроены при компиляции, ошибка их разбора — ошибка сборки.
func Default() *Bundle {
	defaultOnce.Do(func() {
		b := NewBundle(nil)
		if err := LoadFromEmbedFS(b); err != nil {
			panic(err)
		}
		defaultBundle = b
	})
	return defaultBundle
}

// WithLang помещает язык в контекст.
func WithLang(ctx context.Context, lang string) context.Context {
	return context.WithValue(ctx, contextKeyLang, lang)
}

// LangFromContext извлекает язык из контекста. По умолчанию "fr".
func LangFromContext(ctx context.Context) string {
	if lang, ok := ctx.Value(contextKeyLang).(string); ok && lang != "" {
		return lang
	}
	return DefaultLang
}

// T возвращает перевод по ключу на языке из контекста.
func T(ctx context.Context, key string) string {
	return Default().Translate(LangFromContext(ctx), key)
}

// Tf — T с подстановкой аргументов.
func Tf(ctx context.Context, key string, args ...any) string {
	return Default().Translatef(LangFromContext(ctx), key, args...)
}

// formatFunc — fmt.Sprintf через переменную: формат-строки приходят
// из каталогов, статическая printf-проверка к ним неприменима.
//
//nolint:govet // обход go vet printf-анализатора
var formatFunc = fmt.Sprintf

// Normalize приводит код языка к поддерживаемому ("fr" или "en").
func Normalize(lang string) string {
	return MatchLanguage(lang)
}

// MatchLanguage определяет лучший язык из Accept-Language.
func MatchLanguage(acceptLanguage string) string {
	tag, _ := language.MatchStrings(matcher, acceptLanguage)
	base, _ := tag.Base()
	if base.String() == "en" {
		return "en"
	}
	return DefaultLang
}

// Tag возвращает language.Tag для кода языка.
func Tag(lang string) language.Tag {
	if lang == "en" {
		return language.English
	}
	return language.French
}
