// Package storage persists training runs in a BoltDB file: the gob encoded model, the run
// report and a pointer to the active run.
package storage

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.etcd.io/bbolt"

	"attrition/pkg/io"
	"attrition/pkg/model"
)

const (
	modelsBucket = "models" // run id -> gob encoded model
	runsBucket   = "runs"   // run id -> JSON run report
	metaBucket   = "meta"   // bookkeeping keys

	activeKey = "active"
)

var ErrNoActiveRun = errors.New("no active training run")

// Run is the persisted report of a training run
type Run struct {
	ID         string          `json:"id"`
	CreatedAt  time.Time       `json:"created_at"`
	Records    int             `json:"records"`
	Stats      json.RawMessage `json:"stats"`
	Importance json.RawMessage `json:"importance,omitempty"`
}

type Store struct {
	db *bbolt.DB
}

// Open opens (or creates) the database file and its buckets.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{modelsBucket, runsBucket, metaBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("create %s bucket: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close releases the database file. Calls on a closed store fail with bbolt.ErrDatabaseNotOpen.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// SaveRun stores the model and its report and marks the run active, in one transaction.
func (s *Store) SaveRun(run Run, m *model.Model) error {
	var buf bytes.Buffer
	if err := io.SaveModel(m, &buf); err != nil {
		return err
	}
	report, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("marshal run: %w", err)
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket([]byte(modelsBucket)).Put([]byte(run.ID), buf.Bytes()); err != nil {
			return err
		}
		if err := tx.Bucket([]byte(runsBucket)).Put([]byte(run.ID), report); err != nil {
			return err
		}
		return tx.Bucket([]byte(metaBucket)).Put([]byte(activeKey), []byte(run.ID))
	})
}

// Activate makes a stored run the active one.
func (s *Store) Activate(id string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if tx.Bucket([]byte(runsBucket)).Get([]byte(id)) == nil {
			return fmt.Errorf("run %s not found", id)
		}
		return tx.Bucket([]byte(metaBucket)).Put([]byte(activeKey), []byte(id))
	})
}

// LoadActive returns the active run and its model.
func (s *Store) LoadActive() (Run, *model.Model, error) {
	var id string
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket([]byte(metaBucket)).Get([]byte(activeKey))
		if v == nil {
			return ErrNoActiveRun
		}
		id = string(v)
		return nil
	})
	if err != nil {
		return Run{}, nil, err
	}
	return s.LoadRun(id)
}

// LoadRun returns a stored run and its model.
func (s *Store) LoadRun(id string) (Run, *model.Model, error) {
	var run Run
	var m *model.Model
	err := s.db.View(func(tx *bbolt.Tx) error {
		report := tx.Bucket([]byte(runsBucket)).Get([]byte(id))
		encoded := tx.Bucket([]byte(modelsBucket)).Get([]byte(id))
		if report == nil || encoded == nil {
			return fmt.Errorf("run %s not found", id)
		}
		if err := json.Unmarshal(report, &run); err != nil {
			return fmt.Errorf("unmarshal run %s: %w", id, err)
		}
		var err error
		m, err = io.LoadModel(bytes.NewReader(encoded))
		return err
	})
	if err != nil {
		return Run{}, nil, err
	}
	return run, m, nil
}

// ListRuns returns every stored run, newest first.
func (s *Store) ListRuns() ([]Run, error) {
	var runs []Run
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(runsBucket)).ForEach(func(_, v []byte) error {
			var run Run
			if err := json.Unmarshal(v, &run); err != nil {
				return fmt.Errorf("unmarshal run: %w", err)
			}
			runs = append(runs, run)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(runs, func(i, j int) bool {
		return runs[i].CreatedAt.After(runs[j].CreatedAt)
	})
	return runs, nil
}

// ActiveID returns the id of the active run, or "" when none is set.
func (s *Store) ActiveID() (string, error) {
	var id string
	err := s.db.View(func(tx *bbolt.Tx) error {
		id = string(tx.Bucket([]byte(metaBucket)).Get([]byte(activeKey)))
		return nil
	})
	return id, err
}
