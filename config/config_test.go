package config

import (
	"flag"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidate(t *testing.T) {
	good := Config{R: 4, I: 0, MaxOut: 100, ChkptInt: 50}
	assert.NoError(t, good.Validate())

	cases := []Config{
		{R: 0, I: 0, MaxOut: 100, ChkptInt: 50},
		{R: 4, I: -1, MaxOut: 100, ChkptInt: 50},
		{R: 4, I: 4, MaxOut: 100, ChkptInt: 50},
		{R: 4, I: 0, MaxOut: 0, ChkptInt: 50},
		{R: 4, I: 0, MaxOut: 100, ChkptInt: 0},
		{R: 4, I: 0, MaxOut: 100, ChkptInt: 100},
	}
	for _, c := range cases {
		assert.Error(t, c.Validate(), "%+v should be invalid", c)
	}
}

func TestF(t *testing.T) {
	assert.Equal(t, 1, Config{R: 4}.F())
	assert.Equal(t, 2, Config{R: 7}.F())
	assert.Equal(t, 0, Config{R: 1}.F())
}

func TestFromFlags(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	build := FromFlags(fs)
	err := fs.Parse([]string{"-r", "7", "-i", "2", "-max-out", "50", "-chkpt-int", "10", "-log-level", "debug", "-log-console=false"})
	assert.NoError(t, err)

	cfg := build()
	assert.Equal(t, 7, cfg.R)
	assert.Equal(t, 2, cfg.I)
	assert.Equal(t, 50, cfg.MaxOut)
	assert.Equal(t, 10, cfg.ChkptInt)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.False(t, cfg.LogConsole)
	assert.NoError(t, cfg.Validate())
}
