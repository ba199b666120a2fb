package workerpool

import (
	"golang.org/x/sync/singleflight"
)

// AppLoader resolves an (name, version) app identity to its on-disk
// directory and worker configuration. Implementations typically wrap
// internal/resolver plus a manifest file read.
type AppLoader interface {
	Load(name, version string) (dir string, cfg WorkerConfig, err error)
}

// CachingLoader wraps an AppLoader with singleflight, collapsing
// concurrent manifest reads for the same app identity into one disk
// read. Every concurrent Acquire for a cold lane still spawns its own
// worker process — only the (cheap but redundant) manifest parse is
// deduplicated, since reading and unmarshalling the same TOML file N
// times for N simultaneous cold acquisitions is pure waste.
type CachingLoader struct {
	inner AppLoader
	group singleflight.Group
}

// NewCachingLoader wraps inner with a singleflight-deduplicated Load.
func NewCachingLoader(inner AppLoader) *CachingLoader {
	return &CachingLoader{inner: inner}
}

type loadResult struct {
	dir string
	cfg WorkerConfig
}

func (c *CachingLoader) Load(name, version string) (string, WorkerConfig, error) {
	key := name + "@" + version
	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		dir, cfg, err := c.inner.Load(name, version)
		if err != nil {
			return nil, err
		}
		return loadResult{dir: dir, cfg: cfg}, nil
	})
	if err != nil {
		return "", WorkerConfig{}, err
	}
	r := v.(loadResult)
	return r.dir, r.cfg, nil
}
