/*
Package tilegraph is a demand-driven raster processing graph.  Applications pull
rectangular tiles of pixels from a terminal node; each node pulls what it needs from
its inputs and returns a tile whose status says whether the data are full, partial,
empty or absent.

Packages

	tg         core types: rectangles, scalar types, tiles, keyword lists, logging
	node       node contract, graph arena, type registry, state save/load and copy
	source     memory, image file and SRTM tile sources, shared source wrapper
	filter     band selector, histogram and scalar remappers, convolution, cache, resampler
	combiner   mosaic, closest-to-center, maximum and weighted blend combiners
	chain      builds the fixed stage chain behind an opened image
	replicate  clones a graph per worker thread and pulls tiles concurrently
	elevation  heights above MSL and the ellipsoid from a directory of rasters
	config     TOML configuration

Graph state round trips through a keyword list:

	reg, _ := tilegraph.NewRegistry()
	k, _ := node.SaveGraph(g, terminal)
	g2, terminal2, _ := node.LoadGraph(k, reg)
*/
package tilegraph
