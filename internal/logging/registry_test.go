package logging

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestGetLogger_ReturnsSameInstanceForSameComponent(t *testing.T) {
	a := GetLogger("test-component-a")
	b := GetLogger("test-component-a")

	assert.Same(t, a, b)
}

func TestGetLogger_DistinctComponentsGetDistinctLoggers(t *testing.T) {
	a := GetLogger("test-component-b")
	c := GetLogger("test-component-c")

	assert.NotSame(t, a, c)
}

func TestSetLevel_AppliesToExistingAndFutureLoggers(t *testing.T) {
	defer SetLevel(logrus.InfoLevel)

	existing := GetLogger("test-component-d")

	SetLevel(logrus.WarnLevel)
	assert.Equal(t, logrus.WarnLevel, existing.GetLevel())

	future := GetLogger("test-component-e")
	assert.Equal(t, logrus.WarnLevel, future.GetLevel())
}
