package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
queue-name = "images.fifo"
region = "us-east-2"
log-level = "debug"

[producer]
bucket = "njit-cs-643"
threshold = 92.5
max-labels = 5

[consumer]
batches = 0
until-sentinel = true
report-path = "/var/lib/pipeline/results.txt"
`

func TestParseConfigFile(t *testing.T) {
	tests := []struct {
		command    string
		wantScoped map[string]string
	}{
		{
			command: "producer",
			wantScoped: map[string]string{
				"bucket":     "njit-cs-643",
				"threshold":  "92.5",
				"max-labels": "5",
			},
		},
		{
			command: "consumer",
			wantScoped: map[string]string{
				"batches":        "0",
				"until-sentinel": "true",
				"report-path":    "/var/lib/pipeline/results.txt",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.command, func(t *testing.T) {
			settings, err := parseConfigFile([]byte(sampleConfig), tt.command)

			require.NoError(t, err)
			assert.Equal(t, map[string]string{
				"queue-name": "images.fifo",
				"region":     "us-east-2",
				"log-level":  "debug",
			}, settings.shared)
			assert.Equal(t, tt.wantScoped, settings.scoped)
		})
	}
}

func TestParseConfigFileErrors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{name: "invalid toml", data: `queue-name = `},
		{name: "array value", data: `regions = ["us-east-1"]`},
		{name: "command is not a table", data: `producer = "yes"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseConfigFile([]byte(tt.data), "producer")
			assert.Error(t, err)
		})
	}
}
