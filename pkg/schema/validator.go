// Package schema validates engine payloads against the versioned JSON
// contracts under docs/contracts. Contracts are addressed by name and
// version, not raw file paths, so callers stay stable when a new contract
// revision lands.
package schema

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// Contract names a payload shape the engine publishes or consumes.
type Contract string

const (
	// ContractEngineConfig covers the engine configuration document.
	ContractEngineConfig Contract = "engine-config"
	// ContractAlert covers the webhook alert payload for incident
	// lifecycle events.
	ContractAlert Contract = "alert"
)

// CurrentVersion is the contract revision this build writes and validates.
const CurrentVersion = "v1"

// ContractPath resolves a named contract to its schema file under the repo
// or install root. An empty version resolves to CurrentVersion.
func ContractPath(root, version string, c Contract) string {
	if version == "" {
		version = CurrentVersion
	}
	return filepath.Join(root, "docs", "contracts", version, string(c)+".schema.json")
}

// Validate checks payload against a named contract under root.
func Validate(root, version string, c Contract, payload interface{}) error {
	return ValidateAgainstSchema(ContractPath(root, version, c), payload)
}

// ValidateAgainstSchema validates an arbitrary payload against a JSON schema
// file addressed by path. Prefer Validate for the engine's own contracts.
func ValidateAgainstSchema(schemaPath string, payload interface{}) error {
	schemaBytes, err := os.ReadFile(schemaPath)
	if err != nil {
		return fmt.Errorf("read schema %s: %w", schemaPath, err)
	}

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewBytesLoader(schemaBytes),
		gojsonschema.NewBytesLoader(payloadBytes),
	)
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}

	if result.Valid() {
		return nil
	}

	errors := make([]string, 0, len(result.Errors()))
	for _, issue := range result.Errors() {
		errors = append(errors, issue.String())
	}
	return fmt.Errorf("payload failed schema validation: %s", strings.Join(errors, "; "))
}
