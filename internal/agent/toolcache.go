package agent

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"

	"github.com/jkaninda/ruhusa/internal/tools"
)

// toolCache holds read-only tool results for one turn. It prevents redundant
// executions when the model repeats a lookup with identical parameters, and
// is cleared whenever a side-effecting tool runs.
type toolCache struct {
	entries map[string]*tools.Result
}

func newToolCache() *toolCache {
	return &toolCache{entries: make(map[string]*tools.Result)}
}

func (c *toolCache) Get(toolName string, params map[string]any) (*tools.Result, bool) {
	r, ok := c.entries[cacheKey(toolName, params)]
	return r, ok
}

func (c *toolCache) Set(toolName string, params map[string]any, r *tools.Result) {
	c.entries[cacheKey(toolName, params)] = r
}

// Clear drops every entry.
func (c *toolCache) Clear() {
	clear(c.entries)
}

// cacheKey creates a deterministic key from tool name and parameters.
// encoding/json sorts map keys, so equal params give equal keys.
func cacheKey(toolName string, params map[string]any) string {
	data, _ := json.Marshal(params)
	h := sha256.Sum256(append([]byte(toolName+"|"), data...))
	return fmt.Sprintf("%x", h[:16])
}
