package supplychain

import (
	"github.com/ethereum/go-ethereum/common"
)

// CreateBatchOperation records a group of existing product codes operated on
// together. The caller must be the owner or a verified participant.
func (e *Engine) CreateBatchOperation(caller common.Address, codes []uint64) (uint64, error) {
	if err := e.guardMutation(); err != nil {
		return 0, err
	}
	if e.requireOwner(caller) != nil && !e.access.IsVerified(caller) {
		return 0, ErrNotParticipant
	}
	if len(codes) == 0 {
		return 0, ErrEmptyBatch
	}
	if uint64(len(codes)) > e.constants.BatchLimit {
		return 0, ErrBatchLimitExceeded
	}
	for _, code := range codes {
		if _, err := e.loadItem(code); err != nil {
			return 0, err
		}
	}
	id, err := e.nextCounter(batchCounterKey)
	if err != nil {
		return 0, err
	}
	op := &BatchOperation{
		ID:           id,
		Operator:     caller,
		ProductCodes: append([]uint64(nil), codes...),
		Timestamp:    e.now(),
	}
	if err := e.state.KVPut(batchKey(id), op); err != nil {
		return 0, err
	}
	e.emit(NewBatchOperationEvent(EventTypeBatchOperationCreated, op))
	return id, nil
}

// CompleteBatchOperation marks the batch done. Only its operator may do so.
func (e *Engine) CompleteBatchOperation(caller common.Address, id uint64) error {
	if err := e.guardMutation(); err != nil {
		return err
	}
	op, err := e.BatchOperation(id)
	if err != nil {
		return err
	}
	if op.Operator != caller {
		return ErrNotOperator
	}
	if op.IsCompleted {
		return ErrBatchCompleted
	}
	op.IsCompleted = true
	if err := e.state.KVPut(batchKey(id), op); err != nil {
		return err
	}
	e.emit(NewBatchOperationEvent(EventTypeBatchOperationCompleted, op))
	return nil
}

// BatchOperation returns batch id.
func (e *Engine) BatchOperation(id uint64) (*BatchOperation, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	op := new(BatchOperation)
	ok, err := e.state.KVGet(batchKey(id), op)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrBatchNotFound
	}
	return op, nil
}
