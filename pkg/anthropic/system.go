package anthropic

// CacheTTL is a prompt-cache lifetime accepted by the API.
type CacheTTL string

// Cache lifetimes. CacheDefault leaves the TTL to the API (five minutes).
const (
	CacheDefault CacheTTL = ""
	Cache5m      CacheTTL = "5m"
	Cache1h      CacheTTL = "1h"
)

// SystemPrompt returns text as a single cached system block. Agent system
// prompts repeat verbatim across every round of a tool loop, so the
// breakpoint sits on the whole prompt. Empty text yields no blocks.
func SystemPrompt(text string, ttl CacheTTL) []SystemBlock {
	if text == "" {
		return nil
	}
	switch ttl {
	case Cache5m, Cache1h:
	default:
		ttl = CacheDefault
	}
	return []SystemBlock{{Text: text, CacheControl: &CacheControl{TTL: string(ttl)}}}
}
