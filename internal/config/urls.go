package config

import (
	"net/url"

	"github.com/samber/lo"
)

// HostsFromURLs extracts and deduplicates the hostnames of urls, in the
// order first seen. Entries that don't parse as absolute URLs with a
// host are skipped. An operator seeding the headless navigator with URLs
// shouldn't also have to repeat each host in --allow-list.
func HostsFromURLs(urls []string) []string {
	parsed := lo.FilterMap(urls, func(raw string, _ int) (string, bool) {
		u, err := url.Parse(raw)
		if err != nil || u.Hostname() == "" {
			return "", false
		}
		return u.Hostname(), true
	})
	return lo.Uniq(parsed)
}

// MergeAllowList combines explicit allow-list entries with hosts derived
// from seed URLs, deduplicated, explicit entries first.
func MergeAllowList(explicit, urls []string) []string {
	combined := append(append([]string{}, explicit...), HostsFromURLs(urls)...)
	return lo.Uniq(combined)
}
