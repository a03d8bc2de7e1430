// Package memstore is an in-memory database.Store with the same upsert and
// cursor semantics as the Postgres repository.
package memstore

import (
	"context"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/curvestream/indexer/internal/database"
)

type transferKey struct {
	chainID  int64
	txHash   common.Hash
	logIndex uint
}

type snapshotKey struct {
	chainID int64
	pair    common.Address
	block   uint64
}

type chartKey struct {
	tokenID  int64
	interval string
	bucket   int64
}

type Store struct {
	mu sync.RWMutex

	tokens    map[int64]*database.Token
	cursors   map[int64]uint64
	pools     map[int64]*database.DexPool
	transfers map[transferKey]*database.TransferRecord
	snapshots map[snapshotKey]*database.PairSnapshot
	balances  map[int64][]*database.Balance
	charts    map[chartKey]*database.ChartAggregate
	stats     map[int64]*database.TokenStats

	// FailWrites, when set, makes every write return it.
	FailWrites error
}

var _ database.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		tokens:    make(map[int64]*database.Token),
		cursors:   make(map[int64]uint64),
		pools:     make(map[int64]*database.DexPool),
		transfers: make(map[transferKey]*database.TransferRecord),
		snapshots: make(map[snapshotKey]*database.PairSnapshot),
		balances:  make(map[int64][]*database.Balance),
		charts:    make(map[chartKey]*database.ChartAggregate),
		stats:     make(map[int64]*database.TokenStats),
	}
}

// AddToken seeds a token row.
func (s *Store) AddToken(t *database.Token) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *t
	s.tokens[t.ID] = &cp
	if t.LastProcessedBlock > 0 {
		s.cursors[t.ID] = t.LastProcessedBlock
	}
}

func (s *Store) tokenLocked(id int64) *database.Token {
	t, ok := s.tokens[id]
	if !ok {
		return nil
	}
	cp := *t
	cp.LastProcessedBlock = s.cursors[id]
	return &cp
}

func (s *Store) ListTokens(ctx context.Context, filter database.TokenFilter) ([]*database.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*database.Token
	for id := range s.tokens {
		t := s.tokenLocked(id)
		if filter.Match(t) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ChainID != out[j].ChainID {
			return out[i].ChainID < out[j].ChainID
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) GetToken(ctx context.Context, id int64) (*database.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t := s.tokenLocked(id)
	if t == nil {
		return nil, database.ErrNotFound
	}
	return t, nil
}

func (s *Store) UpsertCursor(ctx context.Context, tokenID, chainID int64, block uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWrites != nil {
		return s.FailWrites
	}
	if block > s.cursors[tokenID] {
		s.cursors[tokenID] = block
	}
	return nil
}

// Cursor returns the raw cursor, present or not.
func (s *Store) Cursor(tokenID int64) uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cursors[tokenID]
}

func (s *Store) UpsertTransfers(ctx context.Context, records []*database.TransferRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWrites != nil {
		return s.FailWrites
	}
	s.putTransfersLocked(records)
	return nil
}

func (s *Store) putTransfersLocked(records []*database.TransferRecord) {
	for _, r := range records {
		key := transferKey{r.ChainID, r.TxHash, r.LogIndex}
		if _, exists := s.transfers[key]; exists {
			continue
		}
		cp := *r
		s.transfers[key] = &cp
	}
}

func (s *Store) RecordGraduation(ctx context.Context, g *database.Graduation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWrites != nil {
		return s.FailWrites
	}
	s.putTransfersLocked([]*database.TransferRecord{g.Buy, g.Grad})
	if _, exists := s.pools[g.Pool.TokenID]; !exists {
		cp := *g.Pool
		cp.LastProcessedBlock = g.Pool.GraduationBlock - 1
		cp.LastProcessedSyncBlock = g.Pool.GraduationBlock - 1
		s.pools[g.Pool.TokenID] = &cp
	}
	if t, ok := s.tokens[g.Pool.TokenID]; ok {
		t.Graduated = true
	}
	return nil
}

// Transfers returns every record of the token ordered by block and log index.
func (s *Store) Transfers(tokenID int64) []*database.TransferRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.transfersLocked(tokenID)
}

func (s *Store) transfersLocked(tokenID int64) []*database.TransferRecord {
	var out []*database.TransferRecord
	for _, r := range s.transfers {
		if r.TokenID == tokenID {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].BlockNumber != out[j].BlockNumber {
			return out[i].BlockNumber < out[j].BlockNumber
		}
		return out[i].LogIndex < out[j].LogIndex
	})
	return out
}

func (s *Store) GraduationRecord(ctx context.Context, tokenID int64) (*database.TransferRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.transfersLocked(tokenID) {
		if r.Side == database.SideGraduation {
			return r, nil
		}
	}
	return nil, database.ErrNotFound
}

func (s *Store) Movements(ctx context.Context, tokenID int64) ([]database.Movement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []database.Movement
	for _, r := range s.transfersLocked(tokenID) {
		out = append(out, database.Movement{From: r.From, To: r.To, Amount: new(big.Int).Set(r.Amount)})
	}
	return out, nil
}

func (s *Store) trades(tokenID int64) []*database.TransferRecord {
	var out []*database.TransferRecord
	for _, r := range s.transfersLocked(tokenID) {
		if r.Side.IsTrade() && r.Price.IsPositive() {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].BlockTime.Before(out[j].BlockTime) })
	return out
}

func (s *Store) Trades(ctx context.Context, tokenID int64, since time.Time) ([]*database.TransferRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*database.TransferRecord
	for _, r := range s.trades(tokenID) {
		if !r.BlockTime.Before(since) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *Store) LastTradeBefore(ctx context.Context, tokenID int64, before time.Time) (*database.TransferRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var last *database.TransferRecord
	for _, r := range s.trades(tokenID) {
		if r.BlockTime.Before(before) {
			last = r
		}
	}
	if last == nil {
		return nil, database.ErrNotFound
	}
	return last, nil
}

func (s *Store) LastTrade(ctx context.Context, tokenID int64, source database.Source) (*database.TransferRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var last *database.TransferRecord
	for _, r := range s.transfersLocked(tokenID) {
		if r.Source == source && r.Side.IsTrade() && r.Price.IsPositive() {
			last = r
		}
	}
	if last == nil {
		return nil, database.ErrNotFound
	}
	return last, nil
}

// AddPool seeds a pool with its cursors as given.
func (s *Store) AddPool(p *database.DexPool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.pools[p.TokenID] = &cp
}

func (s *Store) GetPool(ctx context.Context, tokenID int64) (*database.DexPool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.pools[tokenID]
	if !ok {
		return nil, database.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *Store) AdvanceSwapCursor(ctx context.Context, tokenID int64, block uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWrites != nil {
		return s.FailWrites
	}
	if p, ok := s.pools[tokenID]; ok && block > p.LastProcessedBlock {
		p.LastProcessedBlock = block
	}
	return nil
}

func (s *Store) AdvanceSyncCursor(ctx context.Context, tokenID int64, block uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWrites != nil {
		return s.FailWrites
	}
	if p, ok := s.pools[tokenID]; ok && block > p.LastProcessedSyncBlock {
		p.LastProcessedSyncBlock = block
	}
	return nil
}

func (s *Store) UpsertSnapshots(ctx context.Context, snapshots []*database.PairSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWrites != nil {
		return s.FailWrites
	}
	for _, snap := range snapshots {
		k := snapshotKey{snap.ChainID, snap.PairAddress, snap.BlockNumber}
		if prev, ok := s.snapshots[k]; ok && prev.LogIndex > snap.LogIndex {
			continue
		}
		cp := *snap
		s.snapshots[k] = &cp
	}
	return nil
}

// Snapshots returns the pair's snapshots ordered by block.
func (s *Store) Snapshots(chainID int64, pair common.Address) []*database.PairSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*database.PairSnapshot
	for k, snap := range s.snapshots {
		if k.chainID == chainID && k.pair == pair {
			cp := *snap
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BlockNumber < out[j].BlockNumber })
	return out
}

func (s *Store) LatestSnapshot(ctx context.Context, chainID int64, pair common.Address) (*database.PairSnapshot, error) {
	snaps := s.Snapshots(chainID, pair)
	if len(snaps) == 0 {
		return nil, database.ErrNotFound
	}
	return snaps[len(snaps)-1], nil
}

func (s *Store) ReplaceBalances(ctx context.Context, tokenID int64, balances []*database.Balance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWrites != nil {
		return s.FailWrites
	}
	cp := make([]*database.Balance, 0, len(balances))
	for _, b := range balances {
		c := *b
		cp = append(cp, &c)
	}
	s.balances[tokenID] = cp
	return nil
}

func (s *Store) Balances(ctx context.Context, tokenID int64) ([]*database.Balance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*database.Balance, 0, len(s.balances[tokenID]))
	for _, b := range s.balances[tokenID] {
		c := *b
		out = append(out, &c)
	}
	return out, nil
}

func (s *Store) UpsertCharts(ctx context.Context, tokenID int64, interval string, from time.Time, charts []*database.ChartAggregate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWrites != nil {
		return s.FailWrites
	}
	for k := range s.charts {
		if k.tokenID == tokenID && k.interval == interval && k.bucket >= from.Unix() {
			delete(s.charts, k)
		}
	}
	for _, c := range charts {
		cp := *c
		s.charts[chartKey{tokenID, interval, c.BucketTime.Unix()}] = &cp
	}
	return nil
}

// Charts returns the token's buckets for interval ordered by time.
func (s *Store) Charts(tokenID int64, interval string) []*database.ChartAggregate {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*database.ChartAggregate
	for k, c := range s.charts {
		if k.tokenID == tokenID && k.interval == interval {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BucketTime.Before(out[j].BucketTime) })
	return out
}

func (s *Store) UpsertStats(ctx context.Context, stats *database.TokenStats) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWrites != nil {
		return s.FailWrites
	}
	cp := *stats
	s.stats[stats.TokenID] = &cp
	return nil
}

func (s *Store) Stats(tokenID int64) (*database.TokenStats, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.stats[tokenID]
	if !ok {
		return nil, false
	}
	cp := *st
	return &cp, true
}
