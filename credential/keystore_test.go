package credential

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/BaSui01/credpool/types"
)

func secrets(creds []Credential) []string {
	out := make([]string, len(creds))
	for i, c := range creds {
		out[i] = c.Secret()
	}
	return out
}

func TestKeyStore_MergeOrderAndDedupe(t *testing.T) {
	// 编号允许有空洞，超出上限的编号被忽略
	env := map[string]string{
		"GROQ_API_KEY_1":  "k-one",
		"GROQ_API_KEY_3":  "k-three",
		"GROQ_API_KEY":    "k-legacy",
		"GROQ_KEYS_LIST":  "k-list-a, k-one ,,k-list-b",
		"GROQ_API_KEY_2":  "your_groq_key_here",
		"GROQ_API_KEY_11": "k-beyond-cap",
	}
	ks, err := LoadKeyStore([]ServiceSpec{{Name: "groq"}},
		WithLookupEnv(envMap(env)),
		WithKeyStoreLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)

	creds, err := ks.Load("groq")
	require.NoError(t, err)
	assert.Equal(t, []string{"k-one", "k-three", "k-legacy", "k-list-a", "k-list-b"}, secrets(creds))

	for i, c := range creds {
		assert.Equal(t, i, c.index)
		assert.Equal(t, HashKey(c.Secret()), c.Hash())
		assert.Len(t, c.Hash(), 8)
	}
}

func TestKeyStore_SecureFileMergedAdditively(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".keys_secure.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"huggingface":["hf-file-1","hf-env-1"],"grok":["g-1"]}`), 0o600))

	env := map[string]string{"HF_API_KEY_150": "hf-env-1"}
	ks, err := LoadKeyStore([]ServiceSpec{
		{Name: "huggingface", EnvPrefix: "HF", MaxNumbered: 200},
		{Name: "grok"},
	}, WithLookupEnv(envMap(env)), WithSecureFile(path))
	require.NoError(t, err)

	hf, err := ks.Load("huggingface")
	require.NoError(t, err)
	assert.Equal(t, []string{"hf-env-1", "hf-file-1"}, secrets(hf))

	grok, err := ks.Load("grok")
	require.NoError(t, err)
	assert.Equal(t, []string{"g-1"}, secrets(grok))
	assert.Equal(t, map[string]int{"huggingface": 2, "grok": 1}, ks.Summary())
}

func TestKeyStore_BrokenSecureFileIsSkipped(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys.json")
	require.NoError(t, os.WriteFile(path, []byte(`{not json`), 0o600))

	ks, err := LoadKeyStore([]ServiceSpec{{Name: "grok"}},
		WithLookupEnv(envMap(map[string]string{"GROK_API_KEY_1": "g-env"})),
		WithSecureFile(path))
	require.NoError(t, err)
	assert.Equal(t, 1, ks.Size("grok"))
}

func TestKeyStore_MissingSecureFileIsEmpty(t *testing.T) {
	ks, err := LoadKeyStore([]ServiceSpec{{Name: "grok"}},
		WithLookupEnv(envMap(nil)),
		WithSecureFile(filepath.Join(t.TempDir(), "absent.json")))
	require.NoError(t, err)
	assert.Equal(t, 0, ks.Size("grok"))
}

func TestKeyStore_ConfigurationErrorNamesVariable(t *testing.T) {
	ks, err := LoadKeyStore([]ServiceSpec{
		{Name: "elevenlabs"},
		{Name: "huggingface", EnvPrefix: "HF"},
	}, WithLookupEnv(envMap(nil)))
	require.NoError(t, err)

	_, err = ks.Load("elevenlabs")
	require.Error(t, err)
	assert.True(t, IsConfigurationError(err))
	assert.Contains(t, err.Error(), "ELEVENLABS_API_KEY_1")

	_, err = ks.Load("huggingface")
	assert.Contains(t, err.Error(), "HF_API_KEY_1")

	_, err = ks.Load("not-configured")
	assert.Equal(t, types.ErrConfiguration, types.GetErrorCode(err))
	assert.Contains(t, err.Error(), "NOT_CONFIGURED_API_KEY_1")
}

func TestKeyStore_RejectsDuplicateService(t *testing.T) {
	_, err := LoadKeyStore([]ServiceSpec{{Name: "grok"}, {Name: "grok"}}, WithLookupEnv(envMap(nil)))
	assert.Error(t, err)
}

func TestCredential_MasksSecret(t *testing.T) {
	c := newCredential("grok", "super-secret-value", 0)

	assert.NotContains(t, c.String(), "super-secret-value")
	data, err := c.MarshalJSON()
	require.NoError(t, err)
	assert.NotContains(t, string(data), "super-secret-value")
	assert.Contains(t, string(data), c.Hash())
	assert.Equal(t, "super-secret-value", c.Secret())
}
