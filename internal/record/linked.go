package record

import "sync"

// LinkedIndex maps exchange order/algo IDs to the record and purpose they
// serve. Created by whoever places an order, consulted when events arrive,
// deleted when the order terminates.
type LinkedIndex struct {
	mu    sync.RWMutex
	byID  map[string]LinkedOrder
}

// NewLinkedIndex creates an empty index.
func NewLinkedIndex() *LinkedIndex {
	return &LinkedIndex{byID: make(map[string]LinkedOrder)}
}

// Put registers an exchange order for a record.
func (l *LinkedIndex) Put(exchangeID, recordID string, purpose Purpose) {
	if exchangeID == "" {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.byID[exchangeID] = LinkedOrder{ExchangeID: exchangeID, RecordID: recordID, Purpose: purpose}
}

// Resolve looks up the intent behind an exchange ID.
func (l *LinkedIndex) Resolve(exchangeID string) (LinkedOrder, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	lo, ok := l.byID[exchangeID]
	return lo, ok
}

// Remove drops a terminated exchange order from the index.
func (l *LinkedIndex) Remove(exchangeID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.byID, exchangeID)
}

// RemoveByRecord drops every entry belonging to a record.
func (l *LinkedIndex) RemoveByRecord(recordID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for id, lo := range l.byID {
		if lo.RecordID == recordID {
			delete(l.byID, id)
		}
	}
}
