// Package configs provides embedded configuration templates for caseweave.
//
// Templates are embedded at build time using Go's //go:embed directive so
// they ship with every distribution. They are written out by:
//   - `caseweave config init` → ~/.config/caseweave/config.yaml
//   - `caseweave init`        → .caseweave.yaml in the case directory
//
// Configuration precedence (see internal/config.Load):
//  1. Hardcoded defaults (internal/config.NewConfig)
//  2. User config (~/.config/caseweave/config.yaml)
//  3. Case config (.caseweave.yaml)
//  4. Environment variables (CASEWEAVE_*)
package configs

import _ "embed"

// UserConfigTemplate is the template for user/machine-level configuration:
// data directory, Redis endpoint, VRAM, LLM provider.
//
//go:embed user-config.example.yaml
var UserConfigTemplate string

// CaseConfigTemplate is the template for case-level configuration:
// search tuning, correlation thresholds, ingestion settings that travel
// with a case directory.
//
//go:embed case-config.example.yaml
var CaseConfigTemplate string
