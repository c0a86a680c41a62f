package badger

import (
	"context"
	"errors"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/narro/internal/interfaces"
)

// SeedSecrets copies configured secrets into the key/value store so that
// credential resolution can treat the store as the runtime source of truth.
// Keys already present keep their stored value; a credential rotated through
// the store is never clobbered by a stale config file.
func SeedSecrets(ctx context.Context, kv interfaces.KeyValueStorage, secrets map[string]string, logger arbor.ILogger) (int, error) {
	seeded := 0
	skipped := 0

	for key, value := range secrets {
		if value == "" {
			logger.Warn().Str("key", key).Msg("Skipping secret with empty value")
			skipped++
			continue
		}

		_, err := kv.GetPair(ctx, key)
		if err == nil {
			skipped++
			continue
		}
		if !errors.Is(err, interfaces.ErrKeyNotFound) {
			return seeded, err
		}

		if err := kv.Set(ctx, key, value, "Seeded from config"); err != nil {
			return seeded, err
		}
		logger.Debug().Str("key", key).Msg("Seeded secret into key/value store")
		seeded++
	}

	if seeded > 0 || skipped > 0 {
		logger.Debug().
			Int("seeded", seeded).
			Int("skipped", skipped).
			Msg("Finished seeding secrets")
	}

	return seeded, nil
}
