// Package skip decides which per-item failures are recorded as warnings
// instead of failing the surrounding job.
package skip

import (
	"errors"
	"sync"

	config "github.com/tigerroll/rorefcat/pkg/batch/core/config"
	"github.com/tigerroll/rorefcat/pkg/batch/support/util/exception"
)

// SkipPolicy determines whether an item-level error may be skipped.
type SkipPolicy interface {
	// ShouldSkip reports whether err is skippable and the limit still allows it.
	// A true result counts as one skip.
	ShouldSkip(err error) bool
	// CanSkip reports whether further skips are allowed.
	CanSkip() bool
	// GetSkipCount returns the number of skips granted so far.
	GetSkipCount() int
	// GetSkipLimit returns the configured limit; 0 means unlimited.
	GetSkipLimit() int
}

type kindPolicy struct {
	mu                  sync.Mutex
	skipLimit           int
	skippableExceptions []string
	count               int
}

var _ SkipPolicy = (*kindPolicy)(nil)

// NewSkipPolicy creates a SkipPolicy from an ItemSkipConfig.
func NewSkipPolicy(cfg config.ItemSkipConfig) SkipPolicy {
	return &kindPolicy{skipLimit: cfg.SkipLimit, skippableExceptions: cfg.SkippableExceptions}
}

func (p *kindPolicy) ShouldSkip(err error) bool {
	if err == nil {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.skipLimit > 0 && p.count >= p.skipLimit {
		return false
	}
	if !p.matches(err) {
		return false
	}
	p.count++
	return true
}

func (p *kindPolicy) matches(err error) bool {
	for _, typeName := range p.skippableExceptions {
		if exception.IsErrorOfType(err, typeName) {
			return true
		}
	}
	// Errors without a registered kind fall back to their own flag.
	var be *exception.BatchError
	return errors.As(err, &be) && be.Kind == nil && be.IsSkippable()
}

func (p *kindPolicy) CanSkip() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.skipLimit == 0 || p.count < p.skipLimit
}

func (p *kindPolicy) GetSkipCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.count
}

func (p *kindPolicy) GetSkipLimit() int {
	return p.skipLimit
}
