package aws

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAWSConfig_DefaultRegion(t *testing.T) {
	cfg, err := LoadAWSConfig(context.Background(), "", "")
	require.NoError(t, err)
	assert.Equal(t, "us-east-1", cfg.Region)
	assert.Nil(t, cfg.BaseEndpoint)
}

func TestLoadAWSConfig_WithEndpointOverride(t *testing.T) {
	cfg, err := LoadAWSConfig(context.Background(), "ap-south-1", "http://localhost:4566")
	require.NoError(t, err)
	assert.Equal(t, "ap-south-1", cfg.Region)
	require.NotNil(t, cfg.BaseEndpoint)
	assert.Equal(t, "http://localhost:4566", *cfg.BaseEndpoint)
}
