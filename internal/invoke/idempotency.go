package invoke

// idemSweepBatch bounds the expired-entry scan performed on each write so a
// cache insert stays O(1) amortized regardless of cache size.
const idemSweepBatch = 64

// idemGet returns a cached result for key if present and unexpired. Expired
// entries encountered on the read path are dropped immediately.
func (r *Registry) idemGet(key string) (Result, bool) {
	if key == "" {
		return Result{}, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.idem[key]
	if !ok {
		return Result{}, false
	}
	if r.nowFn().After(entry.expiresAt) {
		delete(r.idem, key)
		return Result{}, false
	}
	return entry.result, true
}

// idemPut stores a terminal result under key and opportunistically sweeps a
// bounded number of expired entries.
func (r *Registry) idemPut(key string, res Result) {
	if key == "" {
		return
	}
	now := r.nowFn()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.idem[key] = idemEntry{result: res, expiresAt: now.Add(r.idemTTL)}

	scanned := 0
	for k, entry := range r.idem {
		if scanned >= idemSweepBatch {
			break
		}
		scanned++
		if now.After(entry.expiresAt) {
			delete(r.idem, k)
		}
	}
}
