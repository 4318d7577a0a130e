package store

import "errors"

// ErrNotFound is returned when a lookup by ID finds no row.
var ErrNotFound = errors.New("store: not found")

// ErrDuplicateDeployment is returned by CreateDeployment when a deployment
// with the same ID already exists — the first ingest wins (§8 invariant 8).
var ErrDuplicateDeployment = errors.New("store: deployment already exists")

// ErrNoJobClaimed is returned by ClaimNextJob when the queue is empty.
var ErrNoJobClaimed = errors.New("store: no queued job available")
