package webhook

import (
	"strings"
)

// PlatformRegistry maps webhook URLs to platform formatters.
type PlatformRegistry struct {
	formatters map[Platform]PlatformFormatter
}

// NewPlatformRegistry creates a PlatformRegistry with all built-in formatters.
func NewPlatformRegistry() *PlatformRegistry {
	r := &PlatformRegistry{
		formatters: make(map[Platform]PlatformFormatter),
	}
	for _, f := range []PlatformFormatter{
		&SlackFormatter{},
		&TeamsFormatter{},
		&DiscordFormatter{},
		&GoogleChatFormatter{},
		&GenericFormatter{},
	} {
		r.formatters[f.Platform()] = f
	}
	return r
}

// Detect picks the platform for url. A known override wins; otherwise the
// host pattern decides, falling back to PlatformGeneric.
func (r *PlatformRegistry) Detect(url string, override string) Platform {
	if override != "" {
		if _, ok := r.formatters[Platform(override)]; ok {
			return Platform(override)
		}
	}

	lowerURL := strings.ToLower(url)
	switch {
	case strings.Contains(lowerURL, "hooks.slack.com"):
		return PlatformSlack
	case strings.Contains(lowerURL, "discord.com/api/webhooks"):
		return PlatformDiscord
	case strings.Contains(lowerURL, ".webhook.office.com"), strings.Contains(lowerURL, ".logic.azure.com"):
		return PlatformTeams
	case strings.Contains(lowerURL, "chat.googleapis.com"):
		return PlatformGoogleChat
	}
	return PlatformGeneric
}

// Get returns the PlatformFormatter for the given platform.
// Returns the GenericFormatter if the platform is not registered.
func (r *PlatformRegistry) Get(p Platform) PlatformFormatter {
	if f, ok := r.formatters[p]; ok {
		return f
	}
	return r.formatters[PlatformGeneric]
}

// CheckDeprecation warns about webhook URL patterns the platform is retiring.
func (r *PlatformRegistry) CheckDeprecation(url string) (warning string, isDeprecated bool) {
	if strings.Contains(strings.ToLower(url), ".webhook.office.com") {
		return "Teams Connectors are retiring. Migrate to Power Automate Workflows.", true
	}
	return "", false
}
