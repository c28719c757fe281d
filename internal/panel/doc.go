// Package panel serves the greenhouse live-view page.
//
// The page (index.html plus everything under static/) is embedded into the
// binary with go:embed. When a directory is configured and exists, assets
// are served from it instead, so the page can be edited without a rebuild.
//
// Only the index and static/ paths are served; anything else is passed to
// the caller's not-found handler.
package panel
