// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package ordermatch

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// orderStore keeps one JSON file per order under
// <dbdir>/ORDERS/MY/MAKER and <dbdir>/ORDERS/MY/TAKER.
type orderStore struct {
	makerDir string
	takerDir string
}

func newOrderStore(dbDir string) (*orderStore, error) {
	s := &orderStore{
		makerDir: filepath.Join(dbDir, "ORDERS", "MY", "MAKER"),
		takerDir: filepath.Join(dbDir, "ORDERS", "MY", "TAKER"),
	}
	for _, dir := range []string{s.makerDir, s.takerDir} {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("error creating order directory %s: %w", dir, err)
		}
	}
	return s, nil
}

func orderFileName(dir string, id uuid.UUID) string {
	return filepath.Join(dir, id.String()+".json")
}

// writeJSON writes through a temporary file, so a crash never leaves a
// truncated order behind.
func writeJSON(path string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", filepath.Base(path), err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0600); err != nil {
		return fmt.Errorf("failed to write %s: %w", tmp, err)
	}
	return os.Rename(tmp, path)
}

func removeFile(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func (s *orderStore) saveMakerOrder(o *MakerOrder) error {
	return writeJSON(orderFileName(s.makerDir, o.UUID), o)
}

func (s *orderStore) deleteMakerOrder(id uuid.UUID) error {
	return removeFile(orderFileName(s.makerDir, id))
}

func (s *orderStore) saveTakerOrder(o *TakerOrder) error {
	return writeJSON(orderFileName(s.takerDir, o.Request.UUID), o)
}

func (s *orderStore) deleteTakerOrder(id uuid.UUID) error {
	return removeFile(orderFileName(s.takerDir, id))
}

// loadDir decodes every <uuid>.json file in dir. Unreadable files are
// reported through bad and skipped.
func loadDir[T any](dir string, bad func(path string, err error)) ([]*T, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var orders []*T
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		if _, err := uuid.Parse(strings.TrimSuffix(name, ".json")); err != nil {
			continue
		}
		path := filepath.Join(dir, name)
		b, err := os.ReadFile(path)
		if err != nil {
			bad(path, err)
			continue
		}
		o := new(T)
		if err := json.Unmarshal(b, o); err != nil {
			bad(path, err)
			continue
		}
		orders = append(orders, o)
	}
	return orders, nil
}

func (s *orderStore) loadMakerOrders(bad func(string, error)) ([]*MakerOrder, error) {
	orders, err := loadDir[MakerOrder](s.makerDir, bad)
	if err != nil {
		return nil, err
	}
	for _, o := range orders {
		if o.Matches == nil {
			o.Matches = make(map[uuid.UUID]*MakerMatch)
		}
	}
	return orders, nil
}

func (s *orderStore) loadTakerOrders(bad func(string, error)) ([]*TakerOrder, error) {
	orders, err := loadDir[TakerOrder](s.takerDir, bad)
	if err != nil {
		return nil, err
	}
	valid := orders[:0]
	for _, o := range orders {
		if o.Request == nil {
			continue
		}
		if o.Matches == nil {
			o.Matches = make(map[uuid.UUID]*TakerMatch)
		}
		if o.OrderType == "" {
			o.OrderType = GoodTillCancelled
		}
		valid = append(valid, o)
	}
	return valid, nil
}
