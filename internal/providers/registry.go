package providers

import "sync"

var providerMu sync.RWMutex
var providerRegistry = make(map[string]Provider)

func Register(name string, p Provider) {
	providerMu.Lock()
	providerRegistry[name] = p
	providerMu.Unlock()
}

func Get(name string) Provider {
	providerMu.RLock()
	p := providerRegistry[name]
	providerMu.RUnlock()
	return p
}
