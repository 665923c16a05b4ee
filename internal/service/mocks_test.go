package service_test

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/boddenberg/campus-market-api/internal/domain"
)

// --- Mocks ---

// mockNotificationStore keeps notifications in memory. The RPC path counts
// the stored rows unless rpcErr is set.
type mockNotificationStore struct {
	mu            sync.Mutex
	notifications map[string]*domain.Notification
	nextID        int

	rpcErr        error
	markAllRPCErr error
	markByTypeErr error
	markReadErr   error
	createErr     error

	rpcCalls  int
	scanCalls int
	purged    time.Time
}

func newMockNotificationStore() *mockNotificationStore {
	return &mockNotificationStore{notifications: make(map[string]*domain.Notification)}
}

func (m *mockNotificationStore) add(n domain.Notification) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifications[n.ID] = &n
}

func (m *mockNotificationStore) unread(userID string) []domain.Notification {
	var out []domain.Notification
	for _, n := range m.notifications {
		if n.UserID == userID && !n.IsRead {
			out = append(out, *n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *mockNotificationStore) ListNotifications(_ context.Context, userID string, unreadOnly bool, _, _ int) ([]domain.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Notification
	for _, n := range m.notifications {
		if n.UserID == userID && (!unreadOnly || !n.IsRead) {
			out = append(out, *n)
		}
	}
	return out, nil
}

func (m *mockNotificationStore) GetNotification(_ context.Context, id string) (*domain.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.notifications[id]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "notification", ID: id}
	}
	cp := *n
	return &cp, nil
}

func (m *mockNotificationStore) CreateNotification(_ context.Context, nn *domain.NewNotification) (*domain.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return nil, m.createErr
	}
	m.nextID++
	n := &domain.Notification{
		ID:        fmt.Sprintf("notif-%d", m.nextID),
		UserID:    nn.UserID,
		Type:      nn.Type,
		Title:     nn.Title,
		Body:      nn.Body,
		Link:      nn.Link,
		RelatedID: nn.RelatedID,
		CreatedAt: time.Now(),
	}
	m.notifications[n.ID] = n
	cp := *n
	return &cp, nil
}

func (m *mockNotificationStore) MarkNotificationRead(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.markReadErr != nil {
		return m.markReadErr
	}
	if n, ok := m.notifications[id]; ok {
		n.IsRead = true
	}
	return nil
}

func (m *mockNotificationStore) FindUnreadNotification(_ context.Context, userID string, t domain.NotificationType, relatedID string) (*domain.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, n := range m.unread(userID) {
		if n.Type == t && n.RelatedID == relatedID {
			cp := n
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *mockNotificationStore) MarkRelatedNotificationsRead(_ context.Context, userID string, t domain.NotificationType, relatedID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, n := range m.notifications {
		if n.UserID == userID && !n.IsRead && n.Type == t && n.RelatedID == relatedID {
			n.IsRead = true
			count++
		}
	}
	return count, nil
}

func (m *mockNotificationStore) DeleteReadNotificationsBefore(_ context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.purged = cutoff
	count := 0
	for id, n := range m.notifications {
		if n.IsRead && n.CreatedAt.Before(cutoff) {
			delete(m.notifications, id)
			count++
		}
	}
	return count, nil
}

func (m *mockNotificationStore) GetNotificationCountsRPC(_ context.Context, userID string) (*domain.BadgeCounts, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rpcCalls++
	if m.rpcErr != nil {
		return nil, m.rpcErr
	}
	counts := domain.CountBadges(m.unread(userID))
	return &counts, nil
}

func (m *mockNotificationStore) markTypes(userID string, types []domain.NotificationType) int {
	count := 0
	for _, n := range m.notifications {
		if n.UserID != userID || n.IsRead {
			continue
		}
		match := types == nil
		for _, t := range types {
			if n.Type == t {
				match = true
			}
		}
		if match {
			n.IsRead = true
			count++
		}
	}
	return count
}

func (m *mockNotificationStore) MarkAllNotificationsReadRPC(_ context.Context, userID string, types []domain.NotificationType) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.markAllRPCErr != nil {
		return 0, m.markAllRPCErr
	}
	return m.markTypes(userID, types), nil
}

func (m *mockNotificationStore) ListUnreadNotificationTypes(_ context.Context, userID string, limit int) ([]domain.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scanCalls++
	rows := m.unread(userID)
	if len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, nil
}

func (m *mockNotificationStore) MarkNotificationsReadByType(_ context.Context, userID string, types []domain.NotificationType) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.markByTypeErr != nil {
		return 0, m.markByTypeErr
	}
	return m.markTypes(userID, types), nil
}

// mockNotifier records what domain services send. NotifyOnce collapses
// while an earlier notification with the same related id is unread.
type mockNotifier struct {
	mu       sync.Mutex
	sent     []domain.NewNotification
	related  []string
	unread   map[string]string
	collapse bool
	err      error
}

func (m *mockNotifier) Notify(_ context.Context, n *domain.NewNotification) (*domain.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	m.sent = append(m.sent, *n)
	return &domain.Notification{ID: fmt.Sprintf("n-%d", len(m.sent)), UserID: n.UserID, Type: n.Type}, nil
}

func (m *mockNotifier) NotifyOnce(ctx context.Context, n *domain.NewNotification) (*domain.Notification, bool, error) {
	key := n.UserID + "|" + string(n.Type) + "|" + n.RelatedID
	m.mu.Lock()
	if m.collapse {
		m.mu.Unlock()
		return &domain.Notification{ID: "existing", UserID: n.UserID, Type: n.Type}, false, nil
	}
	if id, ok := m.unread[key]; ok {
		m.mu.Unlock()
		return &domain.Notification{ID: id, UserID: n.UserID, Type: n.Type}, false, nil
	}
	m.mu.Unlock()

	notif, err := m.Notify(ctx, n)
	if err != nil {
		return nil, false, err
	}
	m.mu.Lock()
	if m.unread == nil {
		m.unread = make(map[string]string)
	}
	m.unread[key] = notif.ID
	m.mu.Unlock()
	return notif, true, nil
}

func (m *mockNotifier) MarkRelatedRead(_ context.Context, userID string, t domain.NotificationType, relatedID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := userID + "|" + string(t) + "|" + relatedID
	m.related = append(m.related, key)
	if _, ok := m.unread[key]; !ok {
		return 0, nil
	}
	delete(m.unread, key)
	return 1, nil
}

func (m *mockNotifier) types() []domain.NotificationType {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.NotificationType, len(m.sent))
	for i, n := range m.sent {
		out[i] = n.Type
	}
	return out
}

// mockListingStore keeps listings and offers in memory.
type mockListingStore struct {
	mu             sync.Mutex
	listings       map[string]*domain.Listing
	offers         map[string]*domain.Offer
	nextID         int
	offerStatusErr error
}

func newMockListingStore(listings ...domain.Listing) *mockListingStore {
	m := &mockListingStore{
		listings: make(map[string]*domain.Listing),
		offers:   make(map[string]*domain.Offer),
	}
	for i := range listings {
		l := listings[i]
		m.listings[l.ID] = &l
	}
	return m
}

func (m *mockListingStore) ListListings(_ context.Context, f domain.ListingFilter) ([]domain.Listing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Listing
	for _, l := range m.listings {
		if f.Status != "" && l.Status != f.Status {
			continue
		}
		out = append(out, *l)
	}
	return out, nil
}

func (m *mockListingStore) GetListing(_ context.Context, id string) (*domain.Listing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.listings[id]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "listing", ID: id}
	}
	cp := *l
	return &cp, nil
}

func (m *mockListingStore) CreateListing(_ context.Context, sellerID string, req *domain.CreateListingRequest) (*domain.Listing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	l := &domain.Listing{
		ID:       fmt.Sprintf("listing-%d", m.nextID),
		SellerID: sellerID,
		Title:    req.Title,
		Price:    req.Price,
		Category: req.Category,
		Status:   domain.ListingActive,
	}
	m.listings[l.ID] = l
	cp := *l
	return &cp, nil
}

func (m *mockListingStore) UpdateListing(_ context.Context, id string, changes map[string]any) (*domain.Listing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.listings[id]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "listing", ID: id}
	}
	if t, ok := changes["title"].(string); ok {
		l.Title = t
	}
	if p, ok := changes["price"].(float64); ok {
		l.Price = p
	}
	cp := *l
	return &cp, nil
}

func (m *mockListingStore) SetListingStatus(_ context.Context, id string, status domain.ListingStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.listings[id]; ok {
		l.Status = status
	}
	return nil
}

func (m *mockListingStore) CreateOffer(_ context.Context, o *domain.Offer) (*domain.Offer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	cp := *o
	cp.ID = fmt.Sprintf("offer-%d", m.nextID)
	if cp.Status == "" {
		cp.Status = domain.OfferPending
	}
	m.offers[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (m *mockListingStore) GetOffer(_ context.Context, id string) (*domain.Offer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.offers[id]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "offer", ID: id}
	}
	cp := *o
	return &cp, nil
}

func (m *mockListingStore) ListOffersByListing(_ context.Context, listingID string, status domain.OfferStatus) ([]domain.Offer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Offer
	for _, o := range m.offers {
		if o.ListingID == listingID && (status == "" || o.Status == status) {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (m *mockListingStore) ListOffersByBuyer(_ context.Context, buyerID string) ([]domain.Offer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Offer
	for _, o := range m.offers {
		if o.BuyerID == buyerID {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (m *mockListingStore) FindPendingOffer(_ context.Context, listingID, buyerID string) (*domain.Offer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.offers {
		if o.ListingID == listingID && o.BuyerID == buyerID && o.Status == domain.OfferPending {
			cp := *o
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *mockListingStore) SetOfferStatus(_ context.Context, id string, status domain.OfferStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.offerStatusErr != nil {
		return m.offerStatusErr
	}
	if o, ok := m.offers[id]; ok {
		o.Status = status
	}
	return nil
}

func (m *mockListingStore) status(id string) domain.ListingStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listings[id].Status
}

func (m *mockListingStore) offerStatus(id string) domain.OfferStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.offers[id].Status
}

// mockMessagingStore keeps conversations and messages in memory.
type mockMessagingStore struct {
	mu            sync.Mutex
	conversations map[string]*domain.Conversation
	messages      []domain.Message
	touched       map[string]string
	nextID        int
}

func newMockMessagingStore(convs ...domain.Conversation) *mockMessagingStore {
	m := &mockMessagingStore{
		conversations: make(map[string]*domain.Conversation),
		touched:       make(map[string]string),
	}
	for i := range convs {
		c := convs[i]
		m.conversations[c.ID] = &c
	}
	return m
}

func (m *mockMessagingStore) ListConversations(_ context.Context, userID string) ([]domain.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Conversation
	for _, c := range m.conversations {
		if c.HasParticipant(userID) {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (m *mockMessagingStore) GetConversation(_ context.Context, id string) (*domain.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conversations[id]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "conversation", ID: id}
	}
	cp := *c
	return &cp, nil
}

func (m *mockMessagingStore) FindConversation(_ context.Context, listingID, buyerID string) (*domain.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.conversations {
		if c.ListingID == listingID && c.BuyerID == buyerID {
			cp := *c
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *mockMessagingStore) CreateConversation(_ context.Context, c *domain.Conversation) (*domain.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	cp := *c
	cp.ID = fmt.Sprintf("conv-%d", m.nextID)
	m.conversations[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (m *mockMessagingStore) TouchConversation(_ context.Context, id, preview string, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.touched[id] = preview
	return nil
}

func (m *mockMessagingStore) ListMessages(_ context.Context, convID string, _, _ int) ([]domain.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Message
	for _, msg := range m.messages {
		if msg.ConversationID == convID {
			out = append(out, msg)
		}
	}
	return out, nil
}

func (m *mockMessagingStore) CreateMessage(_ context.Context, msg *domain.Message) (*domain.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *msg
	cp.CreatedAt = time.Now()
	m.messages = append(m.messages, cp)
	out := cp
	return &out, nil
}

func (m *mockMessagingStore) MarkMessagesRead(_ context.Context, convID, recipientID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for i := range m.messages {
		if m.messages[i].ConversationID == convID && m.messages[i].RecipientID == recipientID && !m.messages[i].IsRead {
			m.messages[i].IsRead = true
			count++
		}
	}
	return count, nil
}

// mockEdge records edge function invocations.
type mockEdge struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (m *mockEdge) Invoke(_ context.Context, name string, _ any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, name)
	return m.err
}

// mockAdminStore serves profiles, reports and counts from memory.
type mockAdminStore struct {
	mu           sync.Mutex
	profiles     map[string]domain.Profile
	profileIDs   []string
	reports      map[string]*domain.Report
	counts       map[string]int
	countErr     error
	profileCalls int
}

func newMockAdminStore() *mockAdminStore {
	return &mockAdminStore{
		profiles: make(map[string]domain.Profile),
		reports:  make(map[string]*domain.Report),
		counts:   make(map[string]int),
	}
}

func (m *mockAdminStore) GetProfile(_ context.Context, id string) (*domain.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profileCalls++
	p, ok := m.profiles[id]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "profile", ID: id}
	}
	return &p, nil
}

func (m *mockAdminStore) ListProfileIDs(_ context.Context, page, pageSize int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	start := (page - 1) * pageSize
	if start >= len(m.profileIDs) {
		return nil, nil
	}
	end := start + pageSize
	if end > len(m.profileIDs) {
		end = len(m.profileIDs)
	}
	return append([]string(nil), m.profileIDs[start:end]...), nil
}

func (m *mockAdminStore) CreateReport(_ context.Context, r *domain.Report) (*domain.Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *r
	cp.ID = fmt.Sprintf("report-%d", len(m.reports)+1)
	cp.Status = domain.ReportOpen
	m.reports[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (m *mockAdminStore) GetReport(_ context.Context, id string) (*domain.Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reports[id]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "report", ID: id}
	}
	cp := *r
	return &cp, nil
}

func (m *mockAdminStore) ListReports(_ context.Context, status domain.ReportStatus) ([]domain.Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Report
	for _, r := range m.reports {
		if status == "" || r.Status == status {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (m *mockAdminStore) ResolveReport(_ context.Context, id string, status domain.ReportStatus, resolution, adminID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reports[id]
	if !ok {
		return &domain.ErrNotFound{Resource: "report", ID: id}
	}
	r.Status = status
	r.Resolution = resolution
	r.ResolvedBy = adminID
	return nil
}

func (m *mockAdminStore) Count(_ context.Context, table, filter string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.countErr != nil {
		return 0, m.countErr
	}
	return m.counts[table+"?"+filter], nil
}
