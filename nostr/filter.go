package nostr

// Filter is a NIP-01 subscription filter, restricted to the fields this
// library uses. The #d and #t members filter on tag values.
type Filter struct {
	IDs      []string `json:"ids,omitempty"`
	Kinds    []int    `json:"kinds,omitempty"`
	Authors  []string `json:"authors,omitempty"`
	DTags    []string `json:"#d,omitempty"`
	Hashtags []string `json:"#t,omitempty"`
	Since    int64    `json:"since,omitempty"`
	Limit    int      `json:"limit,omitempty"`
}

// Matches reports whether the event satisfies the filter. Used to route
// inbound events to local subscriptions; relays do the same server-side.
func (f Filter) Matches(ev *Event) bool {
	if len(f.IDs) > 0 && !contains(f.IDs, ev.ID) {
		return false
	}
	if len(f.Kinds) > 0 && !containsInt(f.Kinds, ev.Kind) {
		return false
	}
	if len(f.Authors) > 0 && !contains(f.Authors, ev.Pubkey) {
		return false
	}
	if len(f.DTags) > 0 && !contains(f.DTags, ev.TagValue("d")) {
		return false
	}
	if len(f.Hashtags) > 0 && !contains(f.Hashtags, ev.TagValue("t")) {
		return false
	}
	if f.Since > 0 && ev.CreatedAt < f.Since {
		return false
	}
	return true
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func containsInt(list []int, v int) bool {
	for _, n := range list {
		if n == v {
			return true
		}
	}
	return false
}
