package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "regdesk.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
database:
  driver: memory
notify:
  min_interval: 120ms
form:
  weapons: [Sabre]
admins: [100, 200]
moderation:
  allow_override: true
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, DriverMemory, cfg.Database.Driver)
	assert.Equal(t, 120*time.Millisecond, cfg.Notify.MinInterval)
	assert.Equal(t, []string{"Sabre"}, cfg.Form.Weapons)
	assert.Equal(t, []string{"Junior", "Adult", "Veteran"}, cfg.Form.Categories, "untouched sections keep defaults")
	assert.Equal(t, []int64{100, 200}, cfg.Admins)
	assert.True(t, cfg.Moderation.AllowOverride)
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"REGDESK_TELEGRAM_TOKEN": "123:abc",
		"REGDESK_KAFKA_BROKERS":  "k1:9092, k2:9092,",
		"REGDESK_ADMIN_IDS":      "1,2",
		"REGDESK_DATABASE_URL":   "",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg := Default()
	require.NoError(t, cfg.applyEnv(lookup))
	assert.Equal(t, "123:abc", cfg.Telegram.Token)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, []int64{1, 2}, cfg.Admins)
	assert.Equal(t, "regdesk.db", cfg.Database.URL, "empty env values are ignored")

	env["REGDESK_ADMIN_IDS"] = "1,x"
	assert.Error(t, Default().applyEnv(lookup))
}

func TestValidate(t *testing.T) {
	t.Run("webhook mode needs public url and secret", func(t *testing.T) {
		cfg := Default()
		cfg.Bot.Mode = BotModeWebhook
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "public_url")
		assert.Contains(t, err.Error(), "webhook_secret")
	})

	t.Run("confirm labels must differ", func(t *testing.T) {
		cfg := Default()
		cfg.Form.ConfirmNo = cfg.Form.ConfirmYes
		assert.Error(t, cfg.Validate())
	})

	t.Run("unknown driver", func(t *testing.T) {
		cfg := Default()
		cfg.Database.Driver = "oracle"
		assert.Error(t, cfg.Validate())
	})
}
