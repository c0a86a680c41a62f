package statemachine

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/ternarybob/arbor"
	"gopkg.in/yaml.v3"

	"github.com/ternarybob/narro/internal/interfaces"
	"github.com/ternarybob/narro/internal/models"
)

// LoadDefinitionsFromFiles loads entity lifecycle tables from TOML and YAML
// files in the given directory and registers each one. Files that fail to
// parse or validate are logged and skipped; they never reach the service.
// Returns the number of tables registered.
func LoadDefinitionsFromFiles(svc interfaces.StateMachineService, definitionsDir string, logger arbor.ILogger) (int, error) {
	if _, err := os.Stat(definitionsDir); os.IsNotExist(err) {
		logger.Debug().Str("dir", definitionsDir).Msg("State definitions directory does not exist, skipping")
		return 0, nil
	}

	logger.Info().Str("dir", definitionsDir).Msg("Loading state definitions from files")

	entries, err := os.ReadDir(definitionsDir)
	if err != nil {
		return 0, fmt.Errorf("failed to read state definitions directory: %w", err)
	}

	loadedCount := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".toml" && ext != ".yaml" && ext != ".yml" {
			continue
		}

		filePath := filepath.Join(definitionsDir, entry.Name())

		raw, err := os.ReadFile(filePath)
		if err != nil {
			logger.Warn().Err(err).Str("file", entry.Name()).Msg("Failed to read state definition file")
			continue
		}

		var def models.EntityTypeDefinition
		if ext == ".toml" {
			err = toml.Unmarshal(raw, &def)
		} else {
			err = yaml.Unmarshal(raw, &def)
		}
		if err != nil {
			logger.Warn().Err(err).Str("file", entry.Name()).Msg("Failed to parse state definition file")
			continue
		}

		// Default the entity type name to the file stem
		if def.Name == "" {
			def.Name = strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name()))
		}

		if err := svc.RegisterEntityType(&def); err != nil {
			logger.Warn().Err(err).Str("file", entry.Name()).Str("entity_type", def.Name).Msg("State definition rejected")
			continue
		}

		logger.Info().Str("file", entry.Name()).Str("entity_type", def.Name).Msg("State definition loaded from file")
		loadedCount++
	}

	if loadedCount > 0 {
		logger.Info().Int("count", loadedCount).Msg("State definitions loaded from files")
	} else {
		logger.Debug().Msg("No state definitions loaded from files")
	}

	return loadedCount, nil
}
