package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/realleaders/portal/pkg/kvstore"
)

const keyFlash = "flash_notices"

// Notice levels
const (
	NoticeInfo    = "info"
	NoticeSuccess = "success"
	NoticeError   = "error"
)

// Notice is a one-shot message shown on the next rendered page
type Notice struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

// flash queues notices in the tab store
type flash struct {
	kv *kvstore.Store
}

func (f flash) add(ctx context.Context, n Notice) error {
	notices, err := f.peek(ctx)
	if err != nil {
		return err
	}
	data, err := json.Marshal(append(notices, n))
	if err != nil {
		return fmt.Errorf("failed to encode notices: %w", err)
	}
	return f.kv.Set(ctx, keyFlash, string(data))
}

// take returns queued notices and removes them
func (f flash) take(ctx context.Context) ([]Notice, error) {
	notices, err := f.peek(ctx)
	if err != nil || len(notices) == 0 {
		return notices, err
	}
	return notices, f.kv.Delete(ctx, keyFlash)
}

func (f flash) peek(ctx context.Context) ([]Notice, error) {
	raw, err := f.kv.Get(ctx, keyFlash)
	if errors.Is(err, kvstore.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var notices []Notice
	if err := json.Unmarshal([]byte(raw), &notices); err != nil {
		// unreadable queue, start over
		return nil, nil
	}
	return notices, nil
}
