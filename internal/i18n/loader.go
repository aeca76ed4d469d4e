// loader.go — загрузка каталогов переводов из embed.FS.
package i18n

import "fmt"

// Languages — коды языков встроенных каталогов.
var Languages = []string{"fr", "en"}

// LoadFromEmbedFS загружает locales/fr.json и locales/en.json.
func LoadFromEmbedFS(bundle *Bundle) error {
	for _, lang := range Languages {
		path := fmt.Sprintf("locales/%s.json", lang)
		data, err := LocaleFS.ReadFile(path)
		if err != nil {
			return fmt.Errorf("i18n: не удалось прочитать %s: %w", path, err)
		}
		if err := bundle.LoadMessages(lang, data); err != nil {
			return err
		}
	}
	return nil
}
