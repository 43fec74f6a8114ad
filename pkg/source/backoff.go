package source

import "time"

// backoff returns exponential backoff delay: 1s, 2s, 4s, 8s, 16s, 30s max.
func backoff(failures int) time.Duration {
	if failures < 1 {
		return 0
	}
	if failures > 6 {
		return 30 * time.Second
	}
	d := time.Duration(1<<uint(failures-1)) * time.Second
	if d > 30*time.Second {
		d = 30 * time.Second
	}
	return d
}
