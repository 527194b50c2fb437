package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setEnv(t *testing.T, kv map[string]string) {
	t.Helper()
	for k, v := range kv {
		t.Setenv(k, v)
	}
}

func baseEnv() map[string]string {
	return map[string]string{
		"SUBMISSION_STORAGE":     "cassandra",
		"SURVEY_INTERVAL_MINUTES": "20",
		"MINI_BATCH_NUMBER":     "4",
		"RETRY_COUNT":           "3",
		"UPTIME_DAYS_FOR_SCORE": "30",
	}
}

func TestLoad_Valid(t *testing.T) {
	setEnv(t, baseEnv())

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, StorageCassandra, cfg.SubmissionStorage)
	assert.Equal(t, DispatcherPods, cfg.Dispatcher)
	assert.Equal(t, 20*60_000_000_000, int(cfg.SurveyInterval()))
	assert.Equal(t, 4, cfg.MiniBatchNumber())
	assert.Equal(t, 3, cfg.RetryCount())
	assert.Equal(t, 30, cfg.UptimeDaysForScore())
}

func TestLoad_TestEnvSelectsProcessDispatcher(t *testing.T) {
	env := baseEnv()
	env["TEST_ENV"] = "1"
	setEnv(t, env)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, DispatcherProcesses, cfg.Dispatcher)
}

func TestLoad_UnknownSubmissionStorage(t *testing.T) {
	env := baseEnv()
	env["SUBMISSION_STORAGE"] = "mongodb"
	setEnv(t, env)

	_, err := Load()
	require.Error(t, err)
}

func TestLoad_MissingRequiredInt(t *testing.T) {
	env := baseEnv()
	delete(env, "RETRY_COUNT")
	setEnv(t, env)
	os.Unsetenv("RETRY_COUNT")

	_, err := Load()
	require.Error(t, err)
}

func TestChainSelectorPercentageThreshold_Default(t *testing.T) {
	setEnv(t, baseEnv())

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 0.5, cfg.ChainSelectorPercentageThreshold())
}
