package app

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type httpOptions struct {
	Addr    string        `mapstructure:"addr"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type testOptions struct {
	HTTP      *httpOptions `mapstructure:"http"`
	APIKey    string       `mapstructure:"api-key"`
	completed bool
	invalid   bool
}

func newTestOptions() *testOptions {
	return &testOptions{HTTP: &httpOptions{Addr: ":8000", Timeout: 30 * time.Second}}
}

func (o *testOptions) Flags() (fss NamedFlagSets) {
	fs := fss.FlagSet("http")
	fs.StringVar(&o.HTTP.Addr, "http.addr", o.HTTP.Addr, "listen address")
	fs.DurationVar(&o.HTTP.Timeout, "http.timeout", o.HTTP.Timeout, "request timeout")
	fss.FlagSet("llm").StringVar(&o.APIKey, "api-key", o.APIKey, "api key")
	return fss
}

func (o *testOptions) Complete() error {
	o.completed = true
	return nil
}

func (o *testOptions) Validate() error {
	if o.invalid {
		return errors.New("invalid")
	}
	return nil
}

func execute(t *testing.T, opts *testOptions, args ...string) error {
	t.Helper()
	a := NewApp(
		WithName("apptest"),
		WithOptions(opts),
		WithNoVersion(),
		WithSilence(),
	)
	a.Command().SetArgs(args)
	return a.Command().Execute()
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "apptest.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestNamedFlagSetsOrder(t *testing.T) {
	var fss NamedFlagSets
	fss.FlagSet("b")
	fss.FlagSet("a")
	fss.FlagSet("b")
	assert.Equal(t, []string{"b", "a"}, fss.Order)
	assert.Len(t, fss.FlagSets, 2)
}

func TestLoadConfigPrecedence(t *testing.T) {
	cfg := writeConfig(t, "http:\n  addr: \":9000\"\n  timeout: 5s\napi-key: from-file\n")

	tests := []struct {
		name        string
		env         map[string]string
		args        []string
		wantAddr    string
		wantTimeout time.Duration
	}{
		{
			name:        "配置文件",
			args:        []string{"--config", cfg},
			wantAddr:    ":9000",
			wantTimeout: 5 * time.Second,
		},
		{
			name:        "环境变量覆盖配置文件",
			env:         map[string]string{"APPTEST_HTTP_ADDR": ":9100"},
			args:        []string{"--config", cfg},
			wantAddr:    ":9100",
			wantTimeout: 5 * time.Second,
		},
		{
			name:        "命令行覆盖环境变量",
			env:         map[string]string{"APPTEST_HTTP_ADDR": ":9100"},
			args:        []string{"--config", cfg, "--http.addr", ":9200", "--http.timeout", "1m"},
			wantAddr:    ":9200",
			wantTimeout: time.Minute,
		},
		{
			name:        "无配置文件时使用环境变量",
			env:         map[string]string{"APPTEST_HTTP_TIMEOUT": "2s"},
			args:        []string{"--config", writeConfig(t, "{}\n")},
			wantAddr:    ":8000",
			wantTimeout: 2 * time.Second,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			opts := newTestOptions()
			require.NoError(t, execute(t, opts, tt.args...))
			assert.Equal(t, tt.wantAddr, opts.HTTP.Addr)
			assert.Equal(t, tt.wantTimeout, opts.HTTP.Timeout)
			assert.True(t, opts.completed)
		})
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("APPTEST_SECRET", "s3cret")
	cfg := writeConfig(t, "api-key: ${APPTEST_SECRET}\nhttp:\n  addr: $APPTEST_UNSET\n")

	opts := newTestOptions()
	require.NoError(t, execute(t, opts, "--config", cfg))
	assert.Equal(t, "s3cret", opts.APIKey)
	assert.Equal(t, "$APPTEST_UNSET", opts.HTTP.Addr)
}

func TestRunFuncAndValidate(t *testing.T) {
	cfg := writeConfig(t, "{}\n")

	opts := newTestOptions()
	opts.invalid = true
	err := execute(t, opts, "--config", cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid")

	called := false
	a := NewApp(
		WithName("apptest"),
		WithOptions(newTestOptions()),
		WithNoVersion(),
		WithSilence(),
		WithRunFunc(func() error {
			called = true
			return nil
		}),
	)
	a.Command().SetArgs([]string{"--config", cfg})
	require.NoError(t, a.Command().Execute())
	assert.True(t, called)
}

func TestMissingConfigFile(t *testing.T) {
	err := execute(t, newTestOptions(), "--config", filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestEnvPrefix(t *testing.T) {
	assert.Equal(t, "MEDRAG", EnvPrefix("medrag"))
	assert.Equal(t, "MED_RAG", EnvPrefix("med-rag"))
}
