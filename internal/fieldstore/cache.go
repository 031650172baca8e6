package fieldstore

import (
	"learner_state_engine/internal/model"
	"learner_state_engine/internal/repository"
)

// RequestCache holds the state rows one request will touch so a render of
// many blocks issues a single query. It never spans requests and needs no
// locking: a request runs on one goroutine.
type RequestCache struct {
	learnerID uint
	courseID  string
	records   map[string]*model.StateRecord
	warmed    map[string]bool
}

func NewRequestCache(learnerID uint, courseID string) *RequestCache {
	return &RequestCache{
		learnerID: learnerID,
		courseID:  courseID,
		records:   make(map[string]*model.StateRecord),
		warmed:    make(map[string]bool),
	}
}

// Warm prefetches the rows for a block set in one query. Blocks without a
// row are remembered as warmed-and-absent so later reads skip the database.
func (c *RequestCache) Warm(repo *repository.StateRecordRepository, blockIDs []string) error {
	recs, err := repo.ForBlockSet(c.learnerID, c.courseID, blockIDs)
	if err != nil {
		return err
	}
	for i := range recs {
		rec := recs[i]
		c.records[rec.BlockID] = &rec
	}
	for _, id := range blockIDs {
		c.warmed[id] = true
	}
	return nil
}

// Get returns the cached row. The second result is false when the block was
// never warmed (the caller must fall through to the repository); a warmed
// block with no row returns (nil, true).
func (c *RequestCache) Get(blockID string) (*model.StateRecord, bool) {
	if !c.warmed[blockID] {
		return nil, false
	}
	return c.records[blockID], true
}

// Put records a row after a write-through so later reads in the same request
// see the new value.
func (c *RequestCache) Put(rec *model.StateRecord) {
	c.records[rec.BlockID] = rec
	c.warmed[rec.BlockID] = true
}

// Evict forgets one block, used after a delete.
func (c *RequestCache) Evict(blockID string) {
	delete(c.records, blockID)
	c.warmed[blockID] = true
}
