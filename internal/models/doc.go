// TuneTrail - Music Recommendation Serving Plane
// Copyright 2026 TuneTrail Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tunetrail/tunetrail

// Package models defines the core domain entities of the TuneTrail serving
// plane: organizations, users, API keys, listening sessions, interactions,
// impressions, and the plan table that governs feature availability and
// quotas.
//
// All entities are plain structs with goccy/go-json-compatible tags. Free-form
// context blobs from clients are modelled as tagged enums plus a documented
// Extensions map rather than open JSON objects.
package models
