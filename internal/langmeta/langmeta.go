// Package langmeta holds the supported-language table for the consultation
// pipeline. Codes follow ISO 639; the set mirrors the languages the speech
// and translation providers are provisioned for.
package langmeta

// BaseLanguage is the pipeline-internal working language. All non-base input
// is translated to it before reasoning and replies are translated back.
const BaseLanguage = "en"

var languageNames = map[string]string{
	"en": "English",
	"hi": "Hindi",
	"ta": "Tamil",
	"te": "Telugu",
	"kn": "Kannada",
	"ml": "Malayalam",
	"bn": "Bengali",
	"gu": "Gujarati",
	"mr": "Marathi",
	"pa": "Punjabi",
	"as": "Assamese",
	"or": "Odia",
	"ur": "Urdu",
}

// IsSupported reports whether a language code is in the supported set.
func IsSupported(code string) bool {
	_, ok := languageNames[code]
	return ok
}

// Name returns the display name for a language code, or "Unknown".
func Name(code string) string {
	if name, ok := languageNames[code]; ok {
		return name
	}
	return "Unknown"
}

// Supported returns all supported language codes.
func Supported() []string {
	codes := make([]string, 0, len(languageNames))
	for code := range languageNames {
		codes = append(codes, code)
	}
	return codes
}
