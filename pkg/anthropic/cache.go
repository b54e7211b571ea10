package anthropic

// BuildCachedSystemBlocks constructs system content blocks with a cache
// breakpoint. The visual analyzers send the same system prompt for every
// page of a run, so the first call writes the cache and the rest read it.
func BuildCachedSystemBlocks(text string) []SystemBlock {
	return []SystemBlock{
		{
			Text: text,
			CacheControl: &CacheControl{
				TTL: "5m",
			},
		},
	}
}
