package download

// Package download runs download tasks: it waits for an admission slot, drives
// the yt-dlp collaborator with a cancellation-aware progress callback, places
// the result under a collision-free name, remuxes it for streaming and reports
// every phase on the progress bus.
