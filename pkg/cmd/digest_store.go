package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/dukex/notiflow/pkg/digest"
)

var supportedDigestStores = []string{"memory", "redis", "rediss"}

// NewDigestStore picks the digest store from a URL: "memory" or a redis:// URL.
func NewDigestStore(ctx context.Context, url string) (digest.Store, error) {
	switch parseDigestStoreProvider(url) {
	case "redis", "rediss":
		return digest.NewRedisStoreFromURL(ctx, url)
	case "memory":
		return digest.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unsupported digest store: %s", url)
	}
}

func parseDigestStoreProvider(url string) string {
	if url == "" {
		return "memory"
	}

	provider, _, _ := strings.Cut(url, "://")
	for _, supported := range supportedDigestStores {
		if provider == supported {
			return provider
		}
	}

	return ""
}
