package application

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"sync"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	bookingDomain "github.com/seaport-ferry/service-booking/internal/domain/booking"
	"github.com/seaport-ferry/service-booking/pkg/domain"
	"github.com/seaport-ferry/service-booking/pkg/kafka"
)

// memRepo is an in-memory BookingRepository with optimistic version checks.
type memRepo struct {
	mu       sync.Mutex
	rows     map[int64]bookingDomain.Snapshot
	nextID   int64
	failSave bool
	// conflicts is the number of upcoming updates rejected as stale.
	conflicts int
}

func newMemRepo() *memRepo {
	return &memRepo{rows: make(map[int64]bookingDomain.Snapshot)}
}

func (r *memRepo) seed(s bookingDomain.Snapshot) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	s.ID = r.nextID
	if s.Version == 0 {
		s.Version = 1
	}
	r.rows[s.ID] = s
	return s.ID
}

func (r *memRepo) get(id int64) bookingDomain.Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rows[id]
}

func (r *memRepo) put(s bookingDomain.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows[s.ID] = s
}

func (r *memRepo) FindByID(_ context.Context, id int64) (*bookingDomain.Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.rows[id]
	if !ok {
		return nil, domain.NewNotFoundError("booking", strconv.FormatInt(id, 10))
	}
	return bookingDomain.ReconstructBooking(s), nil
}

func (r *memRepo) FindByCode(_ context.Context, code string) (*bookingDomain.Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.rows {
		if s.Code == code {
			return bookingDomain.ReconstructBooking(s), nil
		}
	}
	return nil, domain.NewNotFoundError("booking", code)
}

func (r *memRepo) FindByCustomerID(_ context.Context, customerID uuid.UUID, page, limit int) ([]*bookingDomain.Booking, int64, error) {
	return r.filter(func(s bookingDomain.Snapshot) bool { return s.CustomerID == customerID }, page, limit)
}

func (r *memRepo) ListAll(_ context.Context, status bookingDomain.BookingStatus, page, limit int) ([]*bookingDomain.Booking, int64, error) {
	return r.filter(func(s bookingDomain.Snapshot) bool { return status == "" || s.Status == status }, page, limit)
}

func (r *memRepo) filter(keep func(bookingDomain.Snapshot) bool, page, limit int) ([]*bookingDomain.Booking, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []int64
	for id, s := range r.rows {
		if keep(s) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] > ids[j] })

	start := (page - 1) * limit
	if start > len(ids) {
		start = len(ids)
	}
	end := start + limit
	if end > len(ids) {
		end = len(ids)
	}
	out := make([]*bookingDomain.Booking, 0, end-start)
	for _, id := range ids[start:end] {
		out = append(out, bookingDomain.ReconstructBooking(r.rows[id]))
	}
	return out, int64(len(ids)), nil
}

func (r *memRepo) CountByStatus(_ context.Context) (map[string]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := map[string]int64{}
	for _, s := range r.rows {
		out[string(s.Status)]++
	}
	return out, nil
}

func (r *memRepo) FindWithOpenDeadlines(_ context.Context) ([]*bookingDomain.Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*bookingDomain.Booking
	for _, s := range r.rows {
		if s.Status == bookingDomain.StatusWaitingForPayment || s.Status == bookingDomain.StatusInReview {
			out = append(out, bookingDomain.ReconstructBooking(s))
		}
	}
	return out, nil
}

func (r *memRepo) Save(_ context.Context, bk *bookingDomain.Booking) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failSave {
		return errors.New("database unavailable")
	}
	r.nextID++
	bk.AssignID(r.nextID)
	r.rows[bk.ID()] = bk.Snapshot()
	return nil
}

func (r *memRepo) Update(_ context.Context, bk *bookingDomain.Booking) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.rows[bk.ID()]
	if !ok {
		return domain.NewNotFoundError("booking", strconv.FormatInt(bk.ID(), 10))
	}
	if r.conflicts > 0 {
		r.conflicts--
		return domain.NewConflictError("booking was modified by another request")
	}
	if cur.Version != bk.Version()-1 {
		return domain.NewConflictError("booking was modified by another request")
	}
	r.rows[bk.ID()] = bk.Snapshot()
	return nil
}

type mockCapacity struct{ mock.Mock }

func (m *mockCapacity) Reserve(ctx context.Context, scheduleID int64, passengers int, vehicleIDs []int64) error {
	return m.Called(ctx, scheduleID, passengers, vehicleIDs).Error(0)
}

func (m *mockCapacity) Release(ctx context.Context, scheduleID, bookingID int64, passengers int, vehicleIDs []int64) error {
	return m.Called(ctx, scheduleID, bookingID, passengers, vehicleIDs).Error(0)
}

type mockPayment struct{ mock.Mock }

func (m *mockPayment) ConfirmPayment(ctx context.Context, bookingID int64) (bool, error) {
	args := m.Called(ctx, bookingID)
	return args.Bool(0), args.Error(1)
}

func (m *mockPayment) IssueRefund(ctx context.Context, bookingID, amountCents int64, idempotencyKey string) (bool, error) {
	args := m.Called(ctx, bookingID, amountCents, idempotencyKey)
	return args.Bool(0), args.Error(1)
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []Notification
}

func (n *recordingNotifier) Notify(_ context.Context, msg Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, msg)
	return nil
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []kafka.CloudEvent
}

func (p *recordingPublisher) PublishEventWithKey(_ context.Context, _, _ string, event kafka.CloudEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = e.Type
	}
	return out
}
