package backend

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/thicket-db/thicket/internal/kcv"
)

func TestErrorClassification(t *testing.T) {
	cfgErr := configErr("resolve", "bad identifier", nil)
	capErr := capabilityErr("lock", "nothing usable")
	stoErr := storageErr("write", "flush failed", errors.New("io"))
	incErr := incompatibilityErr("version gate", "too old")

	assert.True(t, IsConfiguration(cfgErr))
	assert.False(t, IsConfiguration(capErr))

	assert.True(t, IsCapability(capErr))
	assert.False(t, IsCapability(stoErr))

	assert.True(t, IsStorage(stoErr))
	assert.True(t, IsIncompatible(incErr))

	assert.False(t, IsConfiguration(errors.New("plain")))
	assert.False(t, IsConfiguration(nil))
}

func TestErrorClassificationThroughWrapping(t *testing.T) {
	err := fmt.Errorf("initialize: %w", capabilityErr("lock", "nothing usable"))
	assert.True(t, IsCapability(err))
}

func TestErrorMessageIncludesCodeAndCause(t *testing.T) {
	err := storageErr("open store", "store \"edgestore\"", errors.New("disk full"))
	msg := err.Error()
	assert.Contains(t, msg, "STORAGE")
	assert.Contains(t, msg, "open store")
	assert.Contains(t, msg, "disk full")
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("disk full")
	err := storageErr("open store", "edgestore", cause)
	assert.ErrorIs(t, err, cause)
}

func TestIsTransientSeesThroughBackendError(t *testing.T) {
	cause := kcv.Transient(errors.New("node down"))
	err := storageErr("retry", "exhausted", cause)
	assert.True(t, IsTransient(err))
	assert.False(t, IsTransient(errors.New("permanent")))
}
