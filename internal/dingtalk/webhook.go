package dingtalk

import (
	"regexp"
	"strings"
	"sync"
)

// ResolveVia names the lookup strategy that produced a webhook
type ResolveVia string

const (
	ViaExact      ResolveVia = "exact"
	ViaNormalized ResolveVia = "normalized"
	ViaSubstring  ResolveVia = "substring"
	ViaStatic     ResolveVia = "static" // Configured webhookUrl, used after a registry miss
)

// Resolution is the outcome of a webhook lookup
type Resolution struct {
	URL string
	Key string // Registry key that matched; empty for static
	Via ResolveVia
}

// WebhookRegistry maps conversation and user identifiers to session webhooks.
//
// Entries never expire. A session webhook goes stale once DingTalk closes the reply window and
// is replaced when the next message for the same conversation arrives.
type WebhookRegistry struct {
	mu    sync.RWMutex
	hooks map[string]string
	order []string // Keys in first-registration order
}

// NewWebhookRegistry creates an empty registry
func NewWebhookRegistry() *WebhookRegistry {
	return &WebhookRegistry{hooks: make(map[string]string)}
}

// Set stores url under key; the last write for a key wins
func (r *WebhookRegistry) Set(key, url string) {
	if key == "" || url == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.hooks[key]; !exists {
		r.order = append(r.order, key)
	}
	r.hooks[key] = url
}

// Get returns the webhook stored under exactly key
func (r *WebhookRegistry) Get(key string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	url, ok := r.hooks[key]
	return url, ok
}

// Keys returns all registered keys in registration order
func (r *WebhookRegistry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Resolve finds the webhook for an outbound target.
//
// Lookup order: the target as given, the target with its dingtalk: prefix stripped, then the first
// registered key that contains the normalized id or is contained in it. The substring step is
// ambiguous when two conversation ids share a substring (e.g. "conv1" and "conv12"); the earliest
// registered key wins in that case.
func (r *WebhookRegistry) Resolve(target string) (Resolution, bool) {
	normalized := NormalizeTarget(target)

	r.mu.RLock()
	defer r.mu.RUnlock()

	if url, ok := r.hooks[target]; ok {
		return Resolution{URL: url, Key: target, Via: ViaExact}, true
	}
	if url, ok := r.hooks[normalized]; ok {
		return Resolution{URL: url, Key: normalized, Via: ViaNormalized}, true
	}
	if normalized == "" {
		return Resolution{}, false
	}
	for _, key := range r.order {
		if strings.Contains(key, normalized) || strings.Contains(normalized, key) {
			return Resolution{URL: r.hooks[key], Key: key, Via: ViaSubstring}, true
		}
	}
	return Resolution{}, false
}

var (
	targetRolePrefix = regexp.MustCompile(`^dingtalk:(user|channel|group):`)
	targetPrefix     = regexp.MustCompile(`^dingtalk:`)
)

// NormalizeTarget strips the dingtalk: namespace and role segment from a target
func NormalizeTarget(target string) string {
	target = targetRolePrefix.ReplaceAllString(target, "")
	return targetPrefix.ReplaceAllString(target, "")
}
