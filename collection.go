package storagecore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"

	"github.com/rkapps/storage-core/pkg/fs"
	"github.com/rkapps/storage-core/record"
)

// collectionLog owns the append-only file of one collection and its
// in-memory offset map. It has no locking of its own; the owning
// [Repository] serializes every call.
type collectionLog[K comparable, M Model[K]] struct {
	name    string
	path    string
	file    fs.File
	offsets map[K]int64
	log     *zap.Logger
}

// openCollectionLog opens (creating if absent) dir/<name>.bin and replays
// it to rebuild the offset map. dir must already exist.
func openCollectionLog[K comparable, M Model[K]](ctx context.Context, fsys fs.FS, name, dir string, logger *zap.Logger) (*collectionLog[K, M], error) {
	path := filepath.Join(dir, name+".bin")

	file, err := fsys.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log %s: %w", path, err)
	}

	c := &collectionLog[K, M]{
		name:    name,
		path:    path,
		file:    file,
		offsets: make(map[K]int64),
		log:     logger,
	}

	err = c.replay(ctx)
	if err != nil {
		_ = file.Close()

		return nil, fmt.Errorf("replay log %s: %w", path, err)
	}

	return c, nil
}

// replay scans the log from offset 0 and rebuilds the offset map: ACTIVE
// frames set the key's offset, DELETED frames remove it. Replay stops at
// the first unreadable or unknown frame without discarding entries already
// indexed, so a corrupt tail never masks the valid prefix. The file
// position is left at end of file afterward via the next append's seek.
func (c *collectionLog[K, M]) replay(ctx context.Context) error {
	var offset int64

	for {
		err := ctx.Err()
		if err != nil {
			return fmt.Errorf("replay canceled: %w", context.Cause(ctx))
		}

		header, payload, err := record.ReadFrame(c.file, offset)
		if err != nil {
			if errors.Is(err, record.ErrEndOfLog) {
				return nil
			}

			// Torn tail, CRC mismatch, unknown version: keep the valid
			// prefix and stop.
			c.log.Warn("replay stopped at unreadable frame",
				zap.String("collection", c.name),
				zap.Int64("offset", offset),
				zap.Error(err))

			return nil
		}

		var model M

		err = bson.Unmarshal(payload, &model)
		if err != nil {
			c.log.Warn("replay stopped at undecodable payload",
				zap.String("collection", c.name),
				zap.Int64("offset", offset),
				zap.Error(err))

			return nil
		}

		switch header.RecordType {
		case record.TypeActive:
			c.offsets[model.Key()] = offset
		case record.TypeDeleted:
			delete(c.offsets, model.Key())
		default:
			c.log.Warn("replay stopped at unknown record type",
				zap.String("collection", c.name),
				zap.Int64("offset", offset),
				zap.Uint8("record_type", header.RecordType))

			return nil
		}

		offset += int64(header.Length)
	}
}

// append encodes model and writes one frame, returning the frame offset.
func (c *collectionLog[K, M]) append(model M, recordType byte) (int64, error) {
	payload, err := bson.Marshal(model)
	if err != nil {
		return 0, fmt.Errorf("encode %s: %w", c.name, err)
	}

	hasVector := false
	if emb, ok := any(model).(VectorEmbedding); ok {
		hasVector = len(emb.Vector()) > 0
	}

	offset, err := record.WriteFrame(c.file, recordType, payload, hasVector)
	if err != nil {
		return 0, fmt.Errorf("append %s: %w", c.name, err)
	}

	return offset, nil
}

// insert appends an ACTIVE frame and points the key at it. A key already
// present is simply overwritten; its history stays on disk.
func (c *collectionLog[K, M]) insert(model M) error {
	offset, err := c.append(model, record.TypeActive)
	if err != nil {
		return err
	}

	c.offsets[model.Key()] = offset

	return nil
}

// delete appends a tombstone carrying the full model and removes the key.
// Deleting an absent key still writes the tombstone.
func (c *collectionLog[K, M]) delete(model M) error {
	_, err := c.append(model, record.TypeDeleted)
	if err != nil {
		return err
	}

	delete(c.offsets, model.Key())

	return nil
}

// findByID reads and decodes the live frame for key. ok is false when the
// key is not live. CRC failures propagate to the caller.
func (c *collectionLog[K, M]) findByID(key K) (M, bool, error) {
	var zero M

	offset, live := c.offsets[key]
	if !live {
		return zero, false, nil
	}

	model, err := c.readModel(offset)
	if err != nil {
		return zero, false, err
	}

	return model, true, nil
}

// findAll decodes every live frame. Frames that fail to read or decode are
// skipped with a warning so partial corruption does not hide the rest of
// the collection. Order is unspecified.
func (c *collectionLog[K, M]) findAll(ctx context.Context) ([]M, error) {
	models := make([]M, 0, len(c.offsets))

	for key, offset := range c.offsets {
		err := ctx.Err()
		if err != nil {
			return nil, fmt.Errorf("find all canceled: %w", context.Cause(ctx))
		}

		model, err := c.readModel(offset)
		if err != nil {
			c.log.Warn("skipping unreadable record",
				zap.String("collection", c.name),
				zap.Any("key", key),
				zap.Int64("offset", offset),
				zap.Error(err))

			continue
		}

		models = append(models, model)
	}

	return models, nil
}

// readModel reads the frame at offset and decodes its payload.
func (c *collectionLog[K, M]) readModel(offset int64) (M, error) {
	var model M

	_, payload, err := record.ReadFrame(c.file, offset)
	if err != nil {
		return model, err
	}

	err = bson.Unmarshal(payload, &model)
	if err != nil {
		return model, fmt.Errorf("decode %s at %d: %w", c.name, offset, err)
	}

	return model, nil
}

// flush fsyncs the log file.
func (c *collectionLog[K, M]) flush() error {
	err := c.file.Sync()
	if err != nil {
		return fmt.Errorf("sync %s: %w", c.path, err)
	}

	return nil
}

// close releases the file handle.
func (c *collectionLog[K, M]) close() error {
	err := c.file.Close()
	if err != nil {
		return fmt.Errorf("close %s: %w", c.path, err)
	}

	return nil
}
