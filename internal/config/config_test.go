package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validOptions() Options {
	return Options{
		ServerAddr:       "localhost:8080",
		StoreDriver:      StoreDriverPostgres,
		DatabaseDSN:      "host=localhost user=postgres password=postgres dbname=postgres sslmode=disable",
		SigningKey:       "c29tZV9zZWNyZXQ=",
		AllowedOrigins:   []string{"http://localhost:3000"},
		HostUsername:     "NewTalentsG",
		HostPasswordHash: "$2a$10$abcdefghijklmnopqrstuuP5Jq4o1Xx0Vw1Yk5K6Qe0Jj2jv0Zf1O",
		TypingTimeout:    1500 * time.Millisecond,
		MaxTextLength:    4096,
		MaxImageBytes:    1 << 20,
	}
}

func TestNewConfig(t *testing.T) {
	tcases := []struct {
		name   string
		modify func(o *Options)
		err    bool
	}{
		{
			name:   "valid config",
			modify: func(o *Options) {},
			err:    false,
		},
		{
			name:   "badger without DSN",
			modify: func(o *Options) { o.StoreDriver = StoreDriverBadger; o.DatabaseDSN = "" },
			err:    false,
		},
		{
			name:   "empty address",
			modify: func(o *Options) { o.ServerAddr = "" },
			err:    true,
		},
		{
			name:   "postgres without DSN",
			modify: func(o *Options) { o.DatabaseDSN = "" },
			err:    true,
		},
		{
			name:   "unknown store driver",
			modify: func(o *Options) { o.StoreDriver = "mysql" },
			err:    true,
		},
		{
			name:   "empty signing key",
			modify: func(o *Options) { o.SigningKey = "" },
			err:    true,
		},
		{
			name:   "invalid signing key",
			modify: func(o *Options) { o.SigningKey = "invalid_base64" },
			err:    true,
		},
		{
			name:   "blank host username",
			modify: func(o *Options) { o.HostUsername = "  " },
			err:    true,
		},
		{
			name:   "missing host password hash",
			modify: func(o *Options) { o.HostPasswordHash = "" },
			err:    true,
		},
		{
			name:   "zero typing timeout",
			modify: func(o *Options) { o.TypingTimeout = 0 },
			err:    true,
		},
		{
			name:   "zero text limit",
			modify: func(o *Options) { o.MaxTextLength = 0 },
			err:    true,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			opts := validOptions()
			tc.modify(&opts)

			config, err := NewConfig(opts)
			if tc.err {
				assert.Error(t, err, "expected error for config: %s", tc.name)
				return
			}
			assert.NoError(t, err, "expected no error for config: %s", tc.name)

			assert.Equal(t, opts.ServerAddr, config.ServerAddr, "expected server address to match")
			assert.Equal(t, opts.DatabaseDSN, config.DatabaseDSN, "expected database DSN to match")
			assert.Equal(t, opts.AllowedOrigins, config.AllowedOrigins, "expected allowed origins to match")
			assert.Equal(t, []byte("some_secret"), config.SigningKey, "expected signing key to be decoded")
			assert.Equal(t, []byte(opts.HostPasswordHash), config.HostPasswordHash)
		})
	}
}

func TestLoadOptions(t *testing.T) {
	envFile := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("GOMEET_HOST_USERNAME=fromfile\nGOMEET_MAX_TEXT_LENGTH=10\n"), 0o600))

	t.Setenv("GOMEET_MAX_TEXT_LENGTH", "20")
	t.Setenv("GOMEET_ALLOWED_ORIGINS", "http://a.test,http://b.test")
	t.Setenv("GOMEET_TYPING_TIMEOUT", "2s")

	opts, err := LoadOptions(envFile, filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	t.Cleanup(func() { os.Unsetenv("GOMEET_HOST_USERNAME") })

	assert.Equal(t, "fromfile", opts.HostUsername, "expected value from the env file")
	assert.Equal(t, 20, opts.MaxTextLength, "expected the environment to win over the env file")
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, opts.AllowedOrigins)
	assert.Equal(t, 2*time.Second, opts.TypingTimeout)
	assert.Equal(t, StoreDriverBadger, opts.StoreDriver, "expected default store driver")
	assert.Equal(t, "localhost:8000", opts.ServerAddr)
}

func Test_decodeSigningKey(t *testing.T) {
	tcases := []struct {
		name         string
		base64Secret string
		expectedKey  []byte
		expectError  bool
	}{
		{
			name:         "valid base64 secret",
			base64Secret: "c29tZV9zZWNyZXQ=",
			expectedKey:  []byte("some_secret"),
			expectError:  false,
		},
		{
			name:         "invalid base64 secret",
			base64Secret: "invalid_base64",
			expectedKey:  nil,
			expectError:  true,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			key, err := decodeSigningSecret(tc.base64Secret)
			if tc.expectError {
				assert.Error(t, err, "expected error for base64 secret: %s", tc.base64Secret)
			} else {
				assert.NoError(t, err, "expected no error for base64 secret: %s", tc.base64Secret)
				assert.Equal(t, tc.expectedKey, key, "expected decoded key to match for base64 secret: %s", tc.base64Secret)
			}
		})
	}
}
