package observability

import (
	"testing"

	. "github.com/onsi/gomega"
	"go.uber.org/zap"
)

func TestNewLoggerLevels(t *testing.T) {
	g := NewGomegaWithT(t)

	for level, want := range map[string]zap.AtomicLevel{
		"debug":   zap.NewAtomicLevelAt(zap.DebugLevel),
		"WARNING": zap.NewAtomicLevelAt(zap.WarnLevel),
		"error":   zap.NewAtomicLevelAt(zap.ErrorLevel),
		"":        zap.NewAtomicLevelAt(zap.InfoLevel),
	} {
		log := NewLogger(LogConfig{Level: level, Format: "json"})
		g.Expect(log.Core().Enabled(want.Level())).To(BeTrue(), level)
		g.Expect(log.Core().Enabled(want.Level()-1)).To(BeFalse(), level)
	}
}
