package portfolio

import (
	"context"
	"fmt"

	"github.com/STTM-NSU/trading-sim/internal/store"
)

// Load restores the account from the store. It reports false when nothing was stored.
func (p *Portfolio) Load(ctx context.Context) (bool, error) {
	var st state
	exists, err := store.LoadJSON(ctx, p.store, store.AccountKey, &st)
	if err != nil || !exists {
		return false, err
	}
	if st.Cash < 0 || st.StartingCash < 0 {
		return false, store.Corrupt(store.AccountKey, fmt.Errorf("negative cash %f", st.Cash))
	}
	if st.Holdings == nil {
		st.Holdings = make(map[string]Holding)
	}
	for id, h := range st.Holdings {
		if !(h.Quantity > 0) || h.AverageCost < 0 {
			return false, store.Corrupt(store.AccountKey, fmt.Errorf("bad holding %s", id))
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = st
	p.dirty = false
	return true, nil
}

// FlushToStore persists the account if it changed since the last flush.
func (p *Portfolio) FlushToStore(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.dirty {
		return nil
	}
	if err := p.flush(ctx); err != nil {
		return err
	}
	p.dirty = false
	return nil
}

// Reset empties the account, sets cash and persists immediately.
func (p *Portfolio) Reset(ctx context.Context, cash float64) error {
	if cash < 0 {
		return fmt.Errorf("%w: got %f", ErrNegativeCash, cash)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = newState(cash)
	if err := p.flush(ctx); err != nil {
		return err
	}
	p.dirty = false
	p.logger.Infof("account reset with cash %.2f", cash)
	return nil
}

func (p *Portfolio) flush(ctx context.Context) error {
	if err := store.SaveJSON(ctx, p.store, store.AccountKey, p.state); err != nil {
		return fmt.Errorf("%w: can't flush account", err)
	}
	return nil
}
