package metadata

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/jellydator/ttlcache/v3"
	"github.com/rs/zerolog/log"

	"github.com/devicelocator/locator-relay/internal/config"
	apperrors "github.com/devicelocator/locator-relay/internal/errors"
)

const externalIPKey = "external-ip"

// Lookup resolves the host's external IP from the cloud metadata server. The
// value is only displayed, so failures fall back to localhost.
type Lookup struct {
	http  *resty.Client
	url   string
	cache *ttlcache.Cache[string, string]
}

func NewLookup(url string, ttl time.Duration) *Lookup {
	return &Lookup{
		http: resty.New().
			SetTimeout(config.MetadataTimeout).
			SetHeader("Metadata-Flavor", "Google"),
		url: url,
		cache: ttlcache.New[string, string](
			ttlcache.WithTTL[string, string](ttl),
			ttlcache.WithDisableTouchOnHit[string, string](),
		),
	}
}

// ExternalIP never fails. Only successful lookups are cached.
func (l *Lookup) ExternalIP(ctx context.Context) string {
	if item := l.cache.Get(externalIPKey); item != nil {
		return item.Value()
	}

	ip, err := l.lookup(ctx)
	if err != nil {
		log.Warn().Err(err).Str("url", l.url).Msg("external ip lookup failed, using fallback")
		return config.MetadataFallbackHost
	}

	l.cache.Set(externalIPKey, ip, ttlcache.DefaultTTL)
	return ip
}

func (l *Lookup) lookup(ctx context.Context) (string, error) {
	resp, err := l.http.R().SetContext(ctx).Get(l.url)
	if err != nil {
		return "", apperrors.MetadataLookup(err)
	}
	if !resp.IsSuccess() {
		return "", apperrors.MetadataLookup(fmt.Errorf("status %d", resp.StatusCode()))
	}

	ip := strings.TrimSpace(resp.String())
	if ip == "" {
		return "", apperrors.MetadataLookup(fmt.Errorf("empty response"))
	}
	return ip, nil
}
