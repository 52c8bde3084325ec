package fund

// Queue is the FIFO ledger of pending intents for one (asset, kind) pair. It
// is a monotonic read/write index pair over a sparse slot map: Pop only
// advances the read index and never deletes slot data, so settled requests
// stay addressable by accessor for history lookups.
type Queue struct {
	store Storage
	asset string
	kind  RequestKind
}

// NewQueue binds a queue view to the provided storage backend. The queue
// holds no state of its own; concurrent views over the same pair observe the
// same indices.
func NewQueue(store Storage, asset string, kind RequestKind) *Queue {
	return &Queue{store: store, asset: asset, kind: kind}
}

func (q *Queue) meta() (queueMeta, error) {
	if q == nil || q.store == nil {
		return queueMeta{}, ErrNilState
	}
	var meta queueMeta
	if _, err := q.store.KVGet(queueMetaKey(q.asset, q.kind), &meta); err != nil {
		return queueMeta{}, err
	}
	return meta, nil
}

// Len returns the number of requests awaiting processing.
func (q *Queue) Len() (uint64, error) {
	meta, err := q.meta()
	if err != nil {
		return 0, err
	}
	return meta.WriteIndex - meta.ReadIndex, nil
}

// Push appends a request and returns the slot it was written to.
func (q *Queue) Push(r *Request) (uint64, error) {
	if r == nil {
		return 0, ErrRequestNotFound
	}
	meta, err := q.meta()
	if err != nil {
		return 0, err
	}
	slot := meta.WriteIndex
	if err := q.store.KVPut(queueSlotKey(q.asset, q.kind, slot), toStoredRequest(r)); err != nil {
		return 0, err
	}
	meta.WriteIndex++
	if err := q.store.KVPut(queueMetaKey(q.asset, q.kind), meta); err != nil {
		return 0, err
	}
	return slot, nil
}

// Front returns the request at the head of the queue along with its slot.
// Calling Front on an empty queue returns ErrQueueEmpty.
func (q *Queue) Front() (*Request, uint64, error) {
	meta, err := q.meta()
	if err != nil {
		return nil, 0, err
	}
	if meta.ReadIndex >= meta.WriteIndex {
		return nil, 0, ErrQueueEmpty
	}
	request, ok, err := q.Get(meta.ReadIndex)
	if err != nil {
		return nil, 0, err
	}
	if !ok {
		return nil, 0, ErrRequestNotFound
	}
	return request, meta.ReadIndex, nil
}

// Pop advances the read index past the current head. The slot data remains
// in storage. Popping an empty queue returns ErrQueueEmpty.
func (q *Queue) Pop() error {
	meta, err := q.meta()
	if err != nil {
		return err
	}
	if meta.ReadIndex >= meta.WriteIndex {
		return ErrQueueEmpty
	}
	meta.ReadIndex++
	return q.store.KVPut(queueMetaKey(q.asset, q.kind), meta)
}

// Get performs a random-access lookup by slot. It reports false for slots
// that were never written.
func (q *Queue) Get(slot uint64) (*Request, bool, error) {
	if q == nil || q.store == nil {
		return nil, false, ErrNilState
	}
	var stored storedRequest
	ok, err := q.store.KVGet(queueSlotKey(q.asset, q.kind, slot), &stored)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	request, err := fromStoredRequest(&stored)
	if err != nil {
		return nil, false, err
	}
	return request, true, nil
}

// Update rewrites the request stored at the given slot. The processing pass
// uses it to persist terminal status transitions.
func (q *Queue) Update(slot uint64, r *Request) error {
	if q == nil || q.store == nil {
		return ErrNilState
	}
	if r == nil {
		return ErrRequestNotFound
	}
	meta, err := q.meta()
	if err != nil {
		return err
	}
	if slot >= meta.WriteIndex {
		return ErrRequestNotFound
	}
	return q.store.KVPut(queueSlotKey(q.asset, q.kind, slot), toStoredRequest(r))
}

// Indices exposes the raw cursor pair for inspection.
func (q *Queue) Indices() (readIndex, writeIndex uint64, err error) {
	meta, err := q.meta()
	if err != nil {
		return 0, 0, err
	}
	return meta.ReadIndex, meta.WriteIndex, nil
}
