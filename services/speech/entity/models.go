package entity

// ModelSizes lists the recognizer model presets, smallest first.
var ModelSizes = []string{"tiny", "base", "small", "medium", "large"}

// SupportedLanguages is the subset of recognizer languages the API
// advertises. The recognizer itself accepts any of its ~100 languages;
// auto-detection applies when no hint is given.
var SupportedLanguages = []string{
	"en", "es", "fr", "de", "it", "pt", "nl", "ru", "zh", "ja",
	"ko", "ar", "hi", "tr", "pl", "uk", "ro", "sv", "cs", "da",
	"fi", "no", "sk", "bg", "hr", "sl", "et", "lv", "lt", "el",
	"he", "id", "ms", "th", "vi", "fa", "af", "sq", "am", "hy",
}

// IsValidModelSize reports whether size names a known model preset.
func IsValidModelSize(size string) bool {
	for _, s := range ModelSizes {
		if s == size {
			return true
		}
	}
	return false
}
