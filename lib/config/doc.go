// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads webtrack configuration.
//
// Configuration comes from a single file named by the WEBTRACK_CONFIG
// environment variable (via [Load]) or a --config flag (via
// [LoadFile]). There is no discovery and no fallback search path.
//
// The file is YAML (.yaml, .yml) or JSON with comments (.json,
// .jsonc); the extension selects the decoder. Unknown keys are
// errors. Durations are Go duration strings ("5s", "250ms").
//
// Environment sections (development, staging, production) override
// base values when [Config].Environment matches. After overrides,
// ${VAR} and ${VAR:-default} are expanded in the endpoint and the
// script directory; ${WEBTRACK_ENV} resolves to the environment.
//
// [Config.TrackerConfig] converts the file model into the
// tracker's runtime configuration.
package config
