// Package source loads guardrail rule sets from disk or Git and serves them
// to the engine through a cache.
//
// FileSource reads every .yaml and .yml file under a path, checks each
// file's schema version against SupportedVersions, and merges them into a
// single compiled RuleSet. GitSource clones a repository and loads the
// rule directory inside it, using the HEAD commit as the version.
//
// CachedSource implements guardrail.RuleProvider. It keeps the last good
// rule set and caches per-organization views in a MemoryCache or a
// RedisCache. Reload swaps the rule set and invalidates the cache; a failed
// reload leaves the previous rules in effect. Watcher triggers Reload when
// rule files change.
package source
