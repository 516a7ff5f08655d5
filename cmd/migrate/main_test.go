package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTargets(t *testing.T) {
	tests := []struct {
		in      string
		want    []string
		wantErr bool
	}{
		{"postgres", []string{"postgres"}, false},
		{"postgres,bigquery", []string{"postgres", "bigquery"}, false},
		{" BigQuery , postgres,bigquery", []string{"bigquery", "postgres"}, false},
		{"", nil, true},
		{" , ", nil, true},
		{"postgres,mysql", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseTargets(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
