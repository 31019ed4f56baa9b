// Command loadtest drives concurrent encrypt/decrypt traffic through the
// library against an in-process authority simulator and reports throughput
// and error mix. Useful for sizing the key cache and validating acquisition
// dedup under contention.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kenneth/record-encryption/internal/authority/sim"
	"github.com/kenneth/record-encryption/internal/cache"
	"github.com/kenneth/record-encryption/internal/crypto"
	"github.com/kenneth/record-encryption/internal/metrics"
	"github.com/kenneth/record-encryption/internal/session"
)

func main() {
	var (
		duration    = flag.Duration("duration", 30*time.Second, "Test duration")
		workers     = flag.Int("workers", 8, "Number of worker goroutines")
		identities  = flag.Int("identities", 50, "Number of distinct caller identities")
		records     = flag.Int("records", 200, "Number of distinct records")
		sharedRatio = flag.Float64("shared-ratio", 0.3, "Fraction of operations using the shared-access path")
		payloadSize = flag.Int("payload-size", 512, "Plaintext size in bytes")
		verbose     = flag.Bool("verbose", false, "Enable verbose logging")
	)
	flag.Parse()

	logger := logrus.New()
	if *verbose {
		logger.SetLevel(logrus.DebugLevel)
	} else {
		logger.SetLevel(logrus.InfoLevel)
	}

	simulator, err := sim.NewRandom()
	if err != nil {
		logger.WithError(err).Fatal("failed to create simulator")
	}

	// Every record belongs to identity record%identities; grants let the
	// next identity read it, so shared acquisitions always succeed.
	owners := make([]crypto.Identity, *identities)
	for i := range owners {
		owners[i] = crypto.Identity(fmt.Sprintf("load-user-%03d", i))
	}
	for r := 0; r < *records; r++ {
		owner := owners[r%len(owners)]
		grantee := owners[(r+1)%len(owners)]
		simulator.Share(fmt.Sprintf("record-%04d", r), owner, grantee)
	}

	m := metrics.NewMetrics()
	sessions := make([]*session.Session, len(owners))
	for i, identity := range owners {
		sessions[i], err = session.New(session.Config{
			Identity:  identity,
			Authority: simulator.ClientFor(identity),
			Keys:      cache.NewMemoryStore(),
			Logger:    logger,
			Metrics:   m,
		})
		if err != nil {
			logger.WithError(err).Fatal("failed to create session")
		}
	}

	payload := make([]byte, *payloadSize)
	for i := range payload {
		payload[i] = byte('a' + i%26)
	}
	plaintext := string(payload)

	var ops, failures int64
	ctx, cancel := context.WithTimeout(context.Background(), *duration)
	defer cancel()

	logger.WithFields(logrus.Fields{
		"workers":    *workers,
		"identities": *identities,
		"records":    *records,
		"duration":   *duration,
	}).Info("starting load")

	start := time.Now()
	var wg sync.WaitGroup
	for w := 0; w < *workers; w++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			for ctx.Err() == nil {
				r := rng.Intn(*records)
				recordID := fmt.Sprintf("record-%04d", r)
				ownerIdx := r % len(owners)

				owner := owners[ownerIdx]

				var err error
				if rng.Float64() < *sharedRatio {
					// Grantee traffic uses the shared derivation on
					// both sides.
					grantee := sessions[(ownerIdx+1)%len(owners)]
					scope := crypto.SharedScope(recordID, owner)
					var frame string
					frame, err = sessions[ownerIdx].Encrypt(ctx, scope, plaintext)
					if err == nil {
						_, err = grantee.Decrypt(ctx, scope, frame)
					}
				} else {
					var frame string
					frame, err = sessions[ownerIdx].EncryptRecord(ctx, recordID, owner, plaintext)
					if err == nil {
						_, err = sessions[ownerIdx].DecryptRecord(ctx, recordID, owner, frame)
					}
				}

				atomic.AddInt64(&ops, 1)
				if err != nil && ctx.Err() == nil {
					atomic.AddInt64(&failures, 1)
					logger.WithError(err).Debug("operation failed")
				}
			}
		}(int64(w))
	}
	wg.Wait()

	elapsed := time.Since(start)
	total := atomic.LoadInt64(&ops)
	failed := atomic.LoadInt64(&failures)
	logger.WithFields(logrus.Fields{
		"operations": total,
		"failures":   failed,
		"elapsed":    elapsed.Round(time.Millisecond),
		"ops_per_s":  fmt.Sprintf("%.0f", float64(total)/elapsed.Seconds()),
	}).Info("load complete")
}
