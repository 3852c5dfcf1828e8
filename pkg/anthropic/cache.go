package anthropic

// BuildCachedSystemBlocks splits a system prompt into a stable prefix marked
// as a cache breakpoint and an optional uncached suffix. The taxonomy prompt
// is identical for every row of a batch, so only the first call pays for it.
func BuildCachedSystemBlocks(stable, variable string) []SystemBlock {
	blocks := []SystemBlock{
		{
			Text:         stable,
			CacheControl: &CacheControl{},
		},
	}
	if variable != "" {
		blocks = append(blocks, SystemBlock{Text: variable})
	}
	return blocks
}
