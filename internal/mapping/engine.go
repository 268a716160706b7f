package mapping

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/Jativax/sq-qb-integration-sub000/internal/config"
	"github.com/Jativax/sq-qb-integration-sub000/internal/domain/order"
	"github.com/Jativax/sq-qb-integration-sub000/internal/domain/receipt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// DefaultStrategyName is always registered and cannot be removed.
const DefaultStrategyName = "default"

var ErrCannotHandle = errors.New("strategy cannot handle record")

var transformsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "mapping_transforms_total",
	Help: "Transformation attempts by strategy and result",
}, []string{"strategy", "result"})

// Context carries the per-invocation inputs a strategy needs beyond the
// order itself: which strategy was requested and the QuickBooks references
// to write into the receipt.
type Context struct {
	StrategyName string
	Mapping      config.Mapping
}

type Strategy interface {
	Name() string
	Description() string
	// CanHandle is consulted before Transform; returning false aborts the
	// transformation with ErrCannotHandle instead of producing a malformed
	// receipt.
	CanHandle(o *order.Order, mctx Context) bool
	Transform(o *order.Order, mctx Context) (*receipt.SalesReceipt, error)
	ConfigSchema() map[string]string
}

type Info struct {
	Name         string            `json:"name"`
	Description  string            `json:"description"`
	ConfigSchema map[string]string `json:"config_schema"`
}

// Engine is a concurrency-safe registry of transformation strategies.
type Engine struct {
	mu         sync.RWMutex
	strategies map[string]Strategy
	logger     *slog.Logger
}

func NewEngine(logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		strategies: make(map[string]Strategy),
		logger:     logger,
	}
	e.Register(&DefaultStrategy{})
	return e
}

// Register adds a strategy, overwriting (with a warning) any strategy
// already registered under the same name.
func (e *Engine) Register(s Strategy) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.strategies[s.Name()]; exists {
		e.logger.Warn("overwriting mapping strategy", "strategy", s.Name())
	}
	e.strategies[s.Name()] = s
}

// Unregister removes a strategy. The default strategy is protected.
func (e *Engine) Unregister(name string) error {
	if name == DefaultStrategyName {
		return fmt.Errorf("cannot unregister the %q strategy", DefaultStrategyName)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.strategies[name]; !exists {
		return fmt.Errorf("strategy %q is not registered", name)
	}
	delete(e.strategies, name)
	return nil
}

// Transform resolves the requested strategy and runs it. An unregistered
// strategy name falls back to the default with a warning rather than
// failing: a configuration typo must not block the pipeline.
func (e *Engine) Transform(o *order.Order, mctx Context) (*receipt.SalesReceipt, error) {
	name := mctx.StrategyName
	if name == "" {
		name = DefaultStrategyName
	}

	e.mu.RLock()
	s, ok := e.strategies[name]
	if !ok {
		e.logger.Warn("unknown mapping strategy, falling back to default", "strategy", name)
		s = e.strategies[DefaultStrategyName]
		name = DefaultStrategyName
	}
	e.mu.RUnlock()

	if !s.CanHandle(o, mctx) {
		transformsTotal.WithLabelValues(name, "failure").Inc()
		return nil, fmt.Errorf("strategy %q: order %s: %w", name, orderID(o), ErrCannotHandle)
	}

	r, err := s.Transform(o, mctx)
	if err != nil {
		transformsTotal.WithLabelValues(name, "failure").Inc()
		return nil, fmt.Errorf("strategy %q: %w", name, err)
	}

	transformsTotal.WithLabelValues(name, "success").Inc()
	return r, nil
}

func (e *Engine) StrategyInfo(name string) (Info, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	s, ok := e.strategies[name]
	if !ok {
		return Info{}, false
	}
	return Info{Name: s.Name(), Description: s.Description(), ConfigSchema: s.ConfigSchema()}, true
}

func (e *Engine) AllStrategyInfo() []Info {
	e.mu.RLock()
	defer e.mu.RUnlock()

	infos := make([]Info, 0, len(e.strategies))
	for _, s := range e.strategies {
		infos = append(infos, Info{Name: s.Name(), Description: s.Description(), ConfigSchema: s.ConfigSchema()})
	}
	return infos
}

func orderID(o *order.Order) string {
	if o == nil {
		return "<nil>"
	}
	return o.ID
}
