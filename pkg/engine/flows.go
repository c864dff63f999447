package engine

import (
	"context"
	"strconv"
	"sync"

	"github.com/dukex/convoflow/pkg/models"
	"github.com/dukex/convoflow/pkg/persistence"
	"golang.org/x/sync/singleflight"
)

// FlowCache keeps published graphs in memory. Versions are immutable, so
// entries never expire; concurrent loads of one key share a single query.
type FlowCache struct {
	flows    persistence.FlowRepository
	group    singleflight.Group
	mu       sync.RWMutex
	versions map[string]*models.FlowGraph
}

func NewFlowCache(flows persistence.FlowRepository) *FlowCache {
	return &FlowCache{flows: flows, versions: make(map[string]*models.FlowGraph)}
}

func cacheKey(chatbotID string, version int) string {
	return chatbotID + "@" + strconv.Itoa(version)
}

// Version returns a specific published version of the chatbot's flow.
func (c *FlowCache) Version(ctx context.Context, chatbotID string, version int) (*models.FlowGraph, error) {
	if version <= 0 {
		return c.Latest(ctx, chatbotID)
	}

	key := cacheKey(chatbotID, version)

	c.mu.RLock()
	graph, ok := c.versions[key]
	c.mu.RUnlock()

	if ok {
		return graph, nil
	}

	loaded, err, _ := c.group.Do(key, func() (any, error) {
		graph, err := c.flows.Version(ctx, chatbotID, version)
		if err != nil {
			return nil, err
		}

		return c.store(graph), nil
	})
	if err != nil {
		return nil, err
	}

	return loaded.(*models.FlowGraph), nil
}

// Latest returns the newest published version. It always asks the store,
// since a newer version may have been published.
func (c *FlowCache) Latest(ctx context.Context, chatbotID string) (*models.FlowGraph, error) {
	loaded, err, _ := c.group.Do("latest:"+chatbotID, func() (any, error) {
		graph, err := c.flows.Latest(ctx, chatbotID)
		if err != nil {
			return nil, err
		}

		return c.store(graph), nil
	})
	if err != nil {
		return nil, err
	}

	return loaded.(*models.FlowGraph), nil
}

// store caches graph, returning the already cached instance of its version if any.
func (c *FlowCache) store(graph *models.FlowGraph) *models.FlowGraph {
	key := cacheKey(graph.ChatbotID, graph.Version)

	c.mu.Lock()
	defer c.mu.Unlock()

	if cached, ok := c.versions[key]; ok {
		return cached
	}

	c.versions[key] = graph

	return graph
}
