// Command dedi-gateway-migrate upgrades a gateway database in place
// from the combined admission bucket to the split sent/received layout.
// Early releases kept every admission request in one "requests" bucket;
// the storage layer now reads "sent_requests" and "received_requests".
//
// The tool backs the database file up first, classifies each legacy
// record by direction, and copies it into the matching bucket. Re-runs
// are safe: records already present in a target bucket are skipped. The
// legacy bucket is kept for rollback unless -delete-old is given.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	bolt "go.etcd.io/bbolt"

	"github.com/Firefox2100/dedi-gateway/pkg/log"
)

var (
	legacyBucket   = []byte("requests")
	sentBucket     = []byte("sent_requests")
	receivedBucket = []byte("received_requests")
)

var (
	dataDir   = flag.String("data-dir", "/var/lib/dedi-gateway", "gateway data directory")
	dryRun    = flag.Bool("dry-run", false, "report the migration plan without writing")
	backupTo  = flag.String("backup", "", "backup destination (default <database>.backup)")
	deleteOld = flag.Bool("delete-old", false, "drop the legacy bucket after a successful migration")
)

// plan is what an inspection pass found in the legacy bucket.
type plan struct {
	sent       int
	received   int
	unreadable int
}

func (p plan) total() int {
	return p.sent + p.received + p.unreadable
}

func main() {
	flag.Parse()
	logger := log.New(os.Stderr, false)

	dbPath := filepath.Join(*dataDir, "gateway.db")
	if _, err := os.Stat(dbPath); err != nil {
		logger.Fatal().Err(err).Str("path", dbPath).Msg("Cannot read database")
	}

	if !*dryRun {
		dst := *backupTo
		if dst == "" {
			dst = dbPath + ".backup"
		}
		if err := backup(dbPath, dst); err != nil {
			logger.Fatal().Err(err).Msg("Backup failed")
		}
		logger.Info().Str("path", dst).Msg("Backup written")
	}

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		logger.Fatal().Err(err).Str("path", dbPath).Msg("Cannot open database")
	}
	defer db.Close()

	p, err := inspect(db)
	if err != nil {
		logger.Fatal().Err(err).Msg("Inspection failed")
	}
	if p.total() == 0 {
		logger.Info().Msg("No legacy admission records, nothing to do")
		return
	}

	logger.Info().
		Int("sent", p.sent).
		Int("received", p.received).
		Int("unreadable", p.unreadable).
		Msg("Planned migration")

	if *dryRun {
		logger.Info().Msg("Dry run, database untouched")
		return
	}

	moved, dropped, err := apply(db, *deleteOld)
	if err != nil {
		logger.Fatal().Err(err).Msg("Migration failed")
	}

	logger.Info().
		Int("moved", moved).
		Bool("legacy_dropped", dropped).
		Msg("Migration complete")
	switch {
	case *deleteOld && !dropped:
		logger.Warn().Msg("Legacy bucket kept: it still holds unreadable records")
	case !*deleteOld:
		logger.Info().Msg("Legacy bucket kept for rollback; re-run with -delete-old to drop it")
	}
}

// classify decides the direction of a legacy record. Newer records
// carry an explicit sent flag; the oldest only remember a target URL,
// which outgoing requests alone have.
func classify(value []byte) (sent bool, err error) {
	var record struct {
		Sent      *bool  `json:"sent"`
		TargetURL string `json:"targetUrl"`
	}
	if err := json.Unmarshal(value, &record); err != nil {
		return false, err
	}
	if record.Sent != nil {
		return *record.Sent, nil
	}
	return record.TargetURL != "", nil
}

// inspect counts the legacy records by direction without writing.
func inspect(db *bolt.DB) (plan, error) {
	var p plan
	err := db.View(func(tx *bolt.Tx) error {
		legacy := tx.Bucket(legacyBucket)
		if legacy == nil {
			return nil
		}
		return legacy.ForEach(func(_, v []byte) error {
			sent, err := classify(v)
			switch {
			case err != nil:
				p.unreadable++
			case sent:
				p.sent++
			default:
				p.received++
			}
			return nil
		})
	})
	return p, err
}

// apply copies legacy records into the direction buckets inside one
// transaction. Records whose keys already exist in the target are left
// alone so interrupted runs can be repeated. The legacy bucket is only
// dropped when every record in it was readable, since unreadable ones
// have no other home.
func apply(db *bolt.DB, dropLegacy bool) (moved int, dropped bool, err error) {
	err = db.Update(func(tx *bolt.Tx) error {
		legacy := tx.Bucket(legacyBucket)
		if legacy == nil {
			return nil
		}

		sent, err := tx.CreateBucketIfNotExists(sentBucket)
		if err != nil {
			return err
		}
		received, err := tx.CreateBucketIfNotExists(receivedBucket)
		if err != nil {
			return err
		}

		unreadable := 0
		err = legacy.ForEach(func(k, v []byte) error {
			isSent, err := classify(v)
			if err != nil {
				unreadable++
				return nil
			}

			target := received
			if isSent {
				target = sent
			}
			if target.Get(k) != nil {
				return nil
			}
			if err := target.Put(k, v); err != nil {
				return fmt.Errorf("copying record %s: %w", k, err)
			}
			moved++
			return nil
		})
		if err != nil {
			return err
		}

		if dropLegacy && unreadable == 0 {
			if err := tx.DeleteBucket(legacyBucket); err != nil {
				return err
			}
			dropped = true
		}
		return nil
	})
	return moved, dropped, err
}

// backup copies the database file before any write touches it.
func backup(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
