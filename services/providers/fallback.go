package providers

import (
	"strings"
)

// FallbackProviderName identifies the built-in local responder
const FallbackProviderName = "local-fallback"

// fallbackTemplates maps language -> page context -> canned response.
// The "default" context is used when the page context is unknown.
var fallbackTemplates = map[string]map[string]string{
	"en": {
		"default": "I'm temporarily unable to reach the language models. Please try again in a moment.",
		"chat":    "I can't generate a full answer right now, but the rest of the application keeps working. Please retry shortly.",
		"editor":  "Content suggestions are temporarily unavailable. Your draft is safe; please try again in a moment.",
		"search":  "Smart search is temporarily unavailable. Standard keyword search still works.",
	},
	"es": {
		"default": "Temporalmente no puedo acceder a los modelos de lenguaje. Por favor, inténtalo de nuevo en un momento.",
		"chat":    "Ahora mismo no puedo generar una respuesta completa, pero el resto de la aplicación sigue funcionando.",
		"editor":  "Las sugerencias de contenido no están disponibles temporalmente. Tu borrador está a salvo.",
		"search":  "La búsqueda inteligente no está disponible temporalmente. La búsqueda normal sigue funcionando.",
	},
	"de": {
		"default": "Die Sprachmodelle sind vorübergehend nicht erreichbar. Bitte versuchen Sie es gleich noch einmal.",
		"chat":    "Ich kann gerade keine vollständige Antwort erzeugen, der Rest der Anwendung funktioniert aber weiter.",
		"editor":  "Inhaltsvorschläge sind vorübergehend nicht verfügbar. Ihr Entwurf ist gesichert.",
		"search":  "Die intelligente Suche ist vorübergehend nicht verfügbar. Die Standardsuche funktioniert weiterhin.",
	},
}

// LocalFallback returns a deterministic canned response keyed by detected
// language and page context. It is side-effect free and cannot fail, which
// makes it the guaranteed last link of the fallback chain.
func LocalFallback(prompt, pageContext, locale string) string {
	lang := normalizeLanguage(locale)
	if lang == "" {
		lang = detectLanguage(prompt)
	}

	contexts, ok := fallbackTemplates[lang]
	if !ok {
		contexts = fallbackTemplates["en"]
	}

	if text, ok := contexts[strings.ToLower(pageContext)]; ok {
		return text
	}
	return contexts["default"]
}

// normalizeLanguage reduces a BCP 47 tag to a supported base language
func normalizeLanguage(locale string) string {
	locale = strings.ToLower(strings.TrimSpace(locale))
	if locale == "" {
		return ""
	}
	if idx := strings.IndexAny(locale, "-_"); idx > 0 {
		locale = locale[:idx]
	}
	if _, ok := fallbackTemplates[locale]; ok {
		return locale
	}
	return "en"
}

// detectLanguage applies a few cheap heuristics to guess the prompt language.
// It only needs to be good enough to pick a canned response.
func detectLanguage(prompt string) string {
	lower := strings.ToLower(prompt)
	for _, marker := range []string{"¿", "¡", " el ", " la ", " qué ", " cómo ", " por favor"} {
		if strings.Contains(lower, marker) {
			return "es"
		}
	}
	for _, marker := range []string{" der ", " die ", " das ", " und ", " nicht ", " bitte"} {
		if strings.Contains(lower, marker) {
			return "de"
		}
	}
	return "en"
}
