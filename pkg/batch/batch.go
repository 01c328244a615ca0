// Package batch drives extraction and decoding of many assets against
// one archive: a bounded worker pool with per-entry failure isolation
// and request-ordered results.
package batch

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"

	log "github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/asset-forge/pakex/pkg/common"
	"github.com/asset-forge/pakex/pkg/pak"
	"github.com/asset-forge/pakex/pkg/uasset"
	"github.com/asset-forge/pakex/pkg/usmap"
)

// Result is the outcome for one requested asset path. Exactly one of
// Asset and Err is set.
type Result struct {
	Path  string
	Asset *uasset.DecodedAsset
	Err   error
}

// Options tunes a batch run.
type Options struct {
	// Workers bounds concurrent extractions. Defaults to 4, or fewer
	// when the batch is smaller.
	Workers int
}

const defaultWorkers = 4

// Run extracts and decodes every requested asset path. Results are
// indexed by request position regardless of completion order. Entry
// failures are isolated per result; archive-level failures cancel the
// remaining work and are returned.
func Run(ctx context.Context, archive *pak.Archive, schema *usmap.Schema, paths []string, opts Options) ([]Result, error) {
	workers := opts.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}
	if workers > len(paths) {
		workers = len(paths)
	}

	results := make([]Result, len(paths))
	var failed atomic.Int64

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i, p := range paths {
		i, p := i, p
		results[i].Path = p
		g.Go(func() error {
			// Cancellation is honored at entry granularity: an entry
			// either runs to completion or never starts.
			if err := ctx.Err(); err != nil {
				results[i].Err = err
				return nil
			}

			asset, err := decodeOne(archive, schema, p)
			if err != nil {
				if common.IsFatal(err) {
					results[i].Err = err
					return err
				}
				log.Warn().Msgf("asset %s failed: %v", p, err)
				results[i].Err = err
				failed.Add(1)
				return nil
			}
			results[i].Asset = asset
			return nil
		})
	}

	err := g.Wait()
	if err != nil {
		// The run-fatal error also stands in for entries that never
		// produced an outcome before cancellation.
		for i := range results {
			if results[i].Asset == nil && results[i].Err == nil {
				results[i].Err = err
			}
		}
		return results, err
	}

	log.Info().Msgf("batch complete: %d assets, %d failed", len(paths), failed.Load())
	return results, nil
}

// decodeOne extracts an asset's header entry plus its optional
// export-data sibling and decodes the concatenated bytes.
func decodeOne(archive *pak.Archive, schema *usmap.Schema, path string) (*uasset.DecodedAsset, error) {
	base := TrimAssetSuffix(path)

	data, err := archive.Extract(base + ".uasset")
	if err != nil {
		return nil, err
	}

	// The export-data file is optional; anything but a miss is a real
	// failure.
	exportData, err := archive.Extract(base + ".uexp")
	if err == nil {
		data = append(data, exportData...)
	} else if !errors.Is(err, common.ErrNotFound) {
		return nil, err
	}

	return uasset.Decode(base+".uasset", data, schema)
}

// TrimAssetSuffix drops a trailing .uasset or .uexp extension so
// requests may name an asset either way.
func TrimAssetSuffix(p string) string {
	p = strings.TrimSuffix(p, ".uexp")
	p = strings.TrimSuffix(p, ".uasset")
	return p
}
