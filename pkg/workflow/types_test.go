package workflow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/flowstack/flowstack/pkg/apperrors"
)

func TestRetryConfigDelay(t *testing.T) {
	cfg := &RetryConfig{MaxRetries: 3, RetryDelayMs: 100, BackoffMultiplier: 2}

	assert.Equal(t, time.Duration(0), cfg.Delay(1))
	assert.Equal(t, 100*time.Millisecond, cfg.Delay(2))
	assert.Equal(t, 200*time.Millisecond, cfg.Delay(3))
	assert.Equal(t, 400*time.Millisecond, cfg.Delay(4))
}

func TestRetryConfigDelayDefaultMultiplier(t *testing.T) {
	cfg := &RetryConfig{MaxRetries: 2, RetryDelayMs: 50}

	assert.Equal(t, 50*time.Millisecond, cfg.Delay(2))
	assert.Equal(t, 50*time.Millisecond, cfg.Delay(3))
}

func TestNodeTimeout(t *testing.T) {
	n := &Node{TimeoutMs: 1500}
	assert.Equal(t, 1500*time.Millisecond, n.Timeout())

	assert.Equal(t, time.Duration(0), (&Node{}).Timeout())
}

func TestNodeErrorMessage(t *testing.T) {
	node := &Node{ID: "n1", Kind: KindHTTP, Name: "fetch"}
	cause := apperrors.Newf(apperrors.CodeHTTP, "executor", "GET / returned 500")

	err := NewNodeError(node, 3, cause)
	assert.Contains(t, err.Error(), "node 'fetch' (http) failed on attempt 3")
	assert.Equal(t, apperrors.CodeHTTP, apperrors.CodeOf(err))

	single := NewNodeError(node, 1, cause)
	assert.Contains(t, single.Error(), "node 'fetch' (http) failed:")
}

func TestNewFailureCarriesCode(t *testing.T) {
	node := &Node{ID: "n1", Kind: KindAgent}
	out := NewFailure(node, time.Now(), apperrors.Newf(apperrors.CodeGate, "executor", "Gate condition not met"))

	assert.Equal(t, StatusFailed, out.Status)
	assert.Equal(t, apperrors.CodeGate, out.ErrorCode)
	assert.False(t, out.Success())
}

func TestContextConfigEffectiveMode(t *testing.T) {
	var nilCfg *ContextConfig
	assert.Equal(t, ContextModeSimple, nilCfg.EffectiveMode())
	assert.Equal(t, ContextModeSimple, (&ContextConfig{}).EffectiveMode())
	assert.Equal(t, ContextModeAdvanced, (&ContextConfig{Mode: "advanced"}).EffectiveMode())
}
