package sdk

import "fmt"

// ConsentFeature identifies one of the engine's consent-gated features.
// The string value is the identifier used on the wire.
type ConsentFeature string

const (
	ConsentSessions    ConsentFeature = "sessions"
	ConsentEvents      ConsentFeature = "events"
	ConsentViews       ConsentFeature = "views"
	ConsentScrolls     ConsentFeature = "scrolls"
	ConsentClicks      ConsentFeature = "clicks"
	ConsentForms       ConsentFeature = "forms"
	ConsentCrashes     ConsentFeature = "crashes"
	ConsentAttribution ConsentFeature = "attribution"
	ConsentUsers       ConsentFeature = "users"
	ConsentStarRating  ConsentFeature = "star-rating"
	ConsentLocation    ConsentFeature = "location"
)

var allConsentFeatures = []ConsentFeature{
	ConsentSessions,
	ConsentEvents,
	ConsentViews,
	ConsentScrolls,
	ConsentClicks,
	ConsentForms,
	ConsentCrashes,
	ConsentAttribution,
	ConsentUsers,
	ConsentStarRating,
	ConsentLocation,
}

// AllConsentFeatures returns every known feature in declaration order.
func AllConsentFeatures() []ConsentFeature {
	out := make([]ConsentFeature, len(allConsentFeatures))
	copy(out, allConsentFeatures)
	return out
}

// String returns the wire identifier.
func (f ConsentFeature) String() string {
	return string(f)
}

// Valid reports whether f is one of the known features.
func (f ConsentFeature) Valid() bool {
	for _, known := range allConsentFeatures {
		if f == known {
			return true
		}
	}
	return false
}

// ParseConsentFeature maps a wire identifier back to a ConsentFeature.
func ParseConsentFeature(s string) (ConsentFeature, error) {
	f := ConsentFeature(s)
	if !f.Valid() {
		return "", fmt.Errorf("unknown consent feature %q", s)
	}
	return f, nil
}

// FeatureIDs converts features to the raw identifiers accepted by
// Client.AddConsent and Client.RemoveConsent.
//
// Example:
//
//	client.AddConsent(sdk.FeatureIDs(sdk.ConsentEvents, sdk.ConsentViews))
func FeatureIDs(features ...ConsentFeature) []string {
	ids := make([]string, len(features))
	for i, f := range features {
		ids[i] = string(f)
	}
	return ids
}

// FeatureGroups maps a group name to the features it combines. Groups must
// be registered with Client.GroupFeatures before consent is given for them.
type FeatureGroups map[string][]ConsentFeature

// wire returns the groups as plain identifier lists. A group with no
// features is sent as an empty list rather than null.
func (g FeatureGroups) wire() map[string][]string {
	out := make(map[string][]string, len(g))
	for name, features := range g {
		ids := FeatureIDs(features...)
		out[name] = ids
	}
	return out
}
