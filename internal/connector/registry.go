package connector

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Factory builds an unopened Connector from connection parameters.
type Factory func(p Params) (Connector, error)

var (
	regMu     sync.RWMutex
	factories = map[string]Factory{}
)

// Register registers (or replaces) the Factory for a driver kind. It is
// typically called from driver packages' init() functions.
func Register(kind string, f Factory) {
	regMu.Lock()
	defer regMu.Unlock()
	factories[strings.ToLower(kind)] = f
}

// New builds a Connector for kind. The connection is not opened.
func New(kind string, p Params) (Connector, error) {
	regMu.RLock()
	f, ok := factories[strings.ToLower(strings.TrimSpace(kind))]
	regMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("connector: unsupported driver %q (registered: %s)", kind, strings.Join(Kinds(), ", "))
	}
	return f(p)
}

// Kinds lists registered driver kinds in sorted order.
func Kinds() []string {
	regMu.RLock()
	defer regMu.RUnlock()
	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
