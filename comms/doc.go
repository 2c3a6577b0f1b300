// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package comms ties endpoints, their registry slots and the dispatch and
// sender loops together.
//
// Interface replaces a process-wide endpoint list, event table and queue
// vectors with one value created by New. Endpoint index, registry slot and
// queue pair index are the same number for every endpoint it owns.
package comms
