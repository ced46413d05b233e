package platform

// Package platform contains filesystem and external tooling glue: output
// directory helpers, collision-safe file placement, and the yt-dlp backed
// metadata, listing, and fetch collaborators.
