// Package chain wraps the sqlite-backed blockchain store consumed by the DNS
// resolver and the sync layer. Opening the store validates the backend before
// construction and degrades to an in-memory database when the file backend is
// unusable, which happens on Android devices with restrictive storage.
package chain

import (
	"fmt"
	"sync"

	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/HodlOnToYourButts/Alfis-android/client/internal/config"
)

// MemoryDSN is the transient fallback backend.
const MemoryDSN = "file::memory:?cache=shared"

// Block is one chain entry. Payload validation lives in the sync layer; the
// store only persists what it is given.
type Block struct {
	Index      uint64 `gorm:"primaryKey;column:idx"`
	Timestamp  int64
	Hash       string `gorm:"uniqueIndex;size:64"`
	PrevHash   string `gorm:"size:64"`
	Difficulty uint32
	Nonce      uint64
	PubKey     string
}

// DomainRecord is one DNS record registered through the chain.
type DomainRecord struct {
	ID         uint   `gorm:"primaryKey"`
	Name       string `gorm:"index;size:255"`
	Type       string `gorm:"size:16"`
	TTL        uint32
	Data       string
	BlockIndex uint64
}

// Chain is the shared handle to the blockchain state. Mutations come from the
// sync layer, reads from the resolver and the stats surface; every access
// holds the lock only for the duration of one query.
type Chain struct {
	mu       sync.Mutex
	db       *gorm.DB
	origin   string
	inMemory bool
}

// Open initializes the store at path with a pre-flight connectivity check and
// a supervised construction step. If the file backend fails for any reason it
// retries once against the in-memory backend; failure of both is fatal.
func Open(settings *config.Settings, path string) (*Chain, error) {
	fileErr := preflight(path)
	if fileErr == nil {
		chain, err := construct(settings, path, false)
		if err == nil {
			return chain, nil
		}
		fileErr = err
	}

	log.Warnf("failed to open chain database at %s, falling back to in-memory backend: %v", path, fileErr)

	chain, memErr := construct(settings, MemoryDSN, true)
	if memErr != nil {
		return nil, multierror.Append(
			fmt.Errorf("file backend %s: %w", path, fileErr),
			fmt.Errorf("in-memory backend: %w", memErr),
		)
	}
	return chain, nil
}

// preflight opens a throwaway handle, runs a trivial query and closes it
// again. This separates "storage unusable" from "chain construction failed".
func preflight(dsn string) error {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get database handle: %w", err)
	}
	defer func() {
		if err := sqlDB.Close(); err != nil {
			log.Warnf("closing pre-flight database handle: %v", err)
		}
	}()

	if err := db.Exec("SELECT 1").Error; err != nil {
		return fmt.Errorf("database not functional: %w", err)
	}
	return nil
}

// construct builds the chain inside an isolation boundary: a panic anywhere in
// migration or origin validation is converted into an error instead of
// crashing the host process.
func construct(settings *config.Settings, dsn string, inMemory bool) (chain *Chain, err error) {
	defer func() {
		if r := recover(); r != nil {
			chain = nil
			err = fmt.Errorf("chain construction panicked: %v", r)
		}
	}()

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.AutoMigrate(&Block{}, &DomainRecord{}); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}

	chain = &Chain{db: db, origin: settings.Origin, inMemory: inMemory}
	if err := chain.validateOrigin(); err != nil {
		return nil, err
	}
	return chain, nil
}

// validateOrigin rejects a database populated by a different chain.
func (c *Chain) validateOrigin() error {
	var first Block
	result := c.db.Order("idx asc").First(&first)
	if result.Error != nil {
		if result.Error == gorm.ErrRecordNotFound {
			return nil
		}
		return fmt.Errorf("read first block: %w", result.Error)
	}
	if c.origin != "" && first.Hash != c.origin {
		return fmt.Errorf("database origin %s does not match configured origin %s", first.Hash, c.origin)
	}
	return nil
}

// Height returns the index of the newest block, zero on an empty chain.
func (c *Chain) Height() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	var last Block
	if err := c.db.Order("idx desc").First(&last).Error; err != nil {
		return 0
	}
	return last.Index
}

// Origin returns the configured first-block hash.
func (c *Chain) Origin() string {
	return c.origin
}

// InMemory reports whether the store runs on the transient fallback backend.
func (c *Chain) InMemory() bool {
	return c.inMemory
}

// DomainRecords returns the records registered for the given name.
func (c *Chain) DomainRecords(name string) ([]DomainRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var records []DomainRecord
	if err := c.db.Where("name = ?", name).Find(&records).Error; err != nil {
		return nil, fmt.Errorf("query records for %s: %w", name, err)
	}
	return records, nil
}

// AddBlock persists one block and its domain records. Called by the sync
// layer only.
func (c *Chain) AddBlock(block Block, records []DomainRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&block).Error; err != nil {
			return fmt.Errorf("store block %d: %w", block.Index, err)
		}
		for i := range records {
			records[i].BlockIndex = block.Index
			if err := tx.Create(&records[i]).Error; err != nil {
				return fmt.Errorf("store record %s: %w", records[i].Name, err)
			}
		}
		return nil
	})
}

// Close releases the underlying database handle.
func (c *Chain) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	sqlDB, err := c.db.DB()
	if err != nil {
		return fmt.Errorf("get database handle: %w", err)
	}
	return sqlDB.Close()
}
