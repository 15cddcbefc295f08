// Package cache provides Redis connectivity for the shared revocation cache.
//
// It wraps github.com/redis/go-redis/v9 with connection management, key
// prefixing and health monitoring. Values are short strings with a TTL;
// a miss is reported as found=false rather than an error.
//
// # Usage
//
//	client, err := cache.Connect(ctx, cfg.Redis)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	_ = client.Set(ctx, "acc-42", hash, 5*time.Minute)
//	hash, found, err := client.Get(ctx, "acc-42")
package cache
