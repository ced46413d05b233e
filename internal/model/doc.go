package model

// Package model defines domain data structures shared across the service:
// fetch tasks, their phases, progress events, quality selection, and the
// listing entities returned by media discovery. Structures carry JSON tags so
// they can be written to clients without an intermediate representation.
