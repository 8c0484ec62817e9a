package model

import (
	"encoding/json"
	"sort"
)

// EndpointRateLimit is a per-endpoint rate rule: Requests allowed per
// Window seconds.
type EndpointRateLimit struct {
	Requests int     `json:"requests"`
	Window   float64 `json:"window"`
}

// CountryRule expresses an allow/block decision for a country code.
type CountryRule struct {
	Blocked bool `json:"blocked"`
}

// DynamicRules is the security policy document pulled periodically from
// the management service. It is immutable once constructed; callers that
// need to mutate should build a new value.
type DynamicRules struct {
	IPBlacklist      map[string]struct{}         `json:"-"`
	IPWhitelist      map[string]struct{}         `json:"-"`
	CountryRules     map[string]CountryRule      `json:"country_rules,omitempty"`
	EndpointLimits   map[string]EndpointRateLimit `json:"endpoint_limits,omitempty"`
	GlobalRateLimit  EndpointRateLimit           `json:"global_rate_limit"`
	FeatureFlags     map[string]bool             `json:"feature_flags,omitempty"`
	Version          string                      `json:"version"`
	ETag             string                      `json:"etag,omitempty"`
	TTLSeconds       float64                     `json:"ttl_seconds,omitempty"`
}

// dynamicRulesWire is the JSON wire shape: sets are transmitted as sorted
// slices since Go maps have no canonical JSON array form.
type dynamicRulesWire struct {
	IPBlacklist     []string                     `json:"ip_blacklist,omitempty"`
	IPWhitelist     []string                     `json:"ip_whitelist,omitempty"`
	CountryRules    map[string]CountryRule       `json:"country_rules,omitempty"`
	EndpointLimits  map[string]EndpointRateLimit `json:"endpoint_limits,omitempty"`
	GlobalRateLimit EndpointRateLimit            `json:"global_rate_limit"`
	FeatureFlags    map[string]bool              `json:"feature_flags,omitempty"`
	Version         string                       `json:"version"`
	ETag            string                       `json:"etag,omitempty"`
	TTLSeconds      float64                      `json:"ttl_seconds,omitempty"`
}

// MarshalJSON renders the IP sets as string slices for wire transport.
func (r DynamicRules) MarshalJSON() ([]byte, error) {
	w := dynamicRulesWire{
		IPBlacklist:     setToSlice(r.IPBlacklist),
		IPWhitelist:     setToSlice(r.IPWhitelist),
		CountryRules:    r.CountryRules,
		EndpointLimits:  r.EndpointLimits,
		GlobalRateLimit: r.GlobalRateLimit,
		FeatureFlags:    r.FeatureFlags,
		Version:         r.Version,
		ETag:            r.ETag,
		TTLSeconds:      r.TTLSeconds,
	}
	return json.Marshal(w)
}

// UnmarshalJSON parses the wire shape back into set form.
func (r *DynamicRules) UnmarshalJSON(data []byte) error {
	var w dynamicRulesWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	r.IPBlacklist = sliceToSet(w.IPBlacklist)
	r.IPWhitelist = sliceToSet(w.IPWhitelist)
	r.CountryRules = w.CountryRules
	r.EndpointLimits = w.EndpointLimits
	r.GlobalRateLimit = w.GlobalRateLimit
	r.FeatureFlags = w.FeatureFlags
	r.Version = w.Version
	r.ETag = w.ETag
	r.TTLSeconds = w.TTLSeconds
	return nil
}

func setToSlice(s map[string]struct{}) []string {
	if len(s) == 0 {
		return nil
	}
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func sliceToSet(s []string) map[string]struct{} {
	if len(s) == 0 {
		return nil
	}
	out := make(map[string]struct{}, len(s))
	for _, v := range s {
		out[v] = struct{}{}
	}
	return out
}

// EmergencyMode reports the state of the conventional "emergency_mode"
// feature flag, defaulting to false when the flag or the document is absent.
func (r DynamicRules) EmergencyMode() bool {
	if r.FeatureFlags == nil {
		return false
	}
	return r.FeatureFlags["emergency_mode"]
}

// IPBanned reports whether ip appears in the blacklist and not in the
// whitelist.
func (r DynamicRules) IPBanned(ip string) bool {
	if _, whitelisted := r.IPWhitelist[ip]; whitelisted {
		return false
	}
	_, blacklisted := r.IPBlacklist[ip]
	return blacklisted
}
