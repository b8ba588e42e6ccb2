package i18n

import (
	"embed"
	"fmt"
	"path"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Supported Languages
const (
	LangEN = "en"
	LangUZ = "uz"
	LangRU = "ru"
)

var Languages = []string{LangEN, LangRU, LangUZ}

//go:embed locales/*.yaml
var localeFiles embed.FS

var Locales = mustLoad()

func mustLoad() map[string]map[string]string {
	locales, err := load()
	if err != nil {
		panic(err)
	}
	return locales
}

func load() (map[string]map[string]string, error) {
	out := make(map[string]map[string]string, len(Languages))
	for _, lang := range Languages {
		data, err := localeFiles.ReadFile(path.Join("locales", lang+".yaml"))
		if err != nil {
			return nil, errors.Wrapf(err, "read locale %s", lang)
		}
		texts := map[string]string{}
		if err := yaml.Unmarshal(data, &texts); err != nil {
			return nil, errors.Wrapf(err, "parse locale %s", lang)
		}
		out[lang] = texts
	}
	return out, nil
}

// Supported reports whether lang has a locale file.
func Supported(lang string) bool {
	_, ok := Locales[lang]
	return ok
}

// Normalize maps a Telegram language code such as "ru-RU" to a supported language or fallback.
func Normalize(code, fallback string) string {
	code = strings.ToLower(code)
	if i := strings.IndexAny(code, "-_"); i > 0 {
		code = code[:i]
	}
	if Supported(code) {
		return code
	}
	return fallback
}

func GetMessage(lang, key string) string {
	if lang == "" {
		lang = LangEN
	}
	if texts, ok := Locales[lang]; ok {
		if msg, ok := texts[key]; ok {
			return msg
		}
	}
	// Fallback to English
	if msg, ok := Locales[LangEN][key]; ok {
		return msg
	}
	return key
}

// Format looks up key and fills its printf verbs with args.
func Format(lang, key string, args ...interface{}) string {
	return fmt.Sprintf(GetMessage(lang, key), args...)
}
