package service_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/boddenberg/campus-market-api/internal/domain"
	"github.com/boddenberg/campus-market-api/internal/infra/observability"
	"github.com/boddenberg/campus-market-api/internal/infra/resilience"
	"github.com/boddenberg/campus-market-api/internal/port"
	"github.com/boddenberg/campus-market-api/internal/service"

	"go.uber.org/zap"
)

func testConversation() domain.Conversation {
	return domain.Conversation{ID: "conv-1", ListingID: "l1", BuyerID: "buyer", SellerID: "seller"}
}

func newMessagingService(notifier *mockNotifier, edge port.EdgeFunctionInvoker, burst int) (*service.MessagingService, *mockMessagingStore) {
	store := newMockMessagingStore(testConversation())
	listings := newMockListingStore(activeListing())
	svc := service.NewMessagingService(store, listings, notifier, edge,
		resilience.NewKeyedLimiter(0.0001, burst), observability.NewMetrics(), zap.NewNop())
	return svc, store
}

func TestStartConversation(t *testing.T) {
	svc, _ := newMessagingService(&mockNotifier{}, nil, 5)
	ctx := context.Background()

	if _, err := svc.StartConversation(ctx, "seller", "l1"); err == nil {
		t.Error("expected seller messaging own listing to fail")
	}

	existing, err := svc.StartConversation(ctx, "buyer", "l1")
	if err != nil {
		t.Fatal(err)
	}
	if existing.ID != "conv-1" {
		t.Errorf("expected existing conversation, got %s", existing.ID)
	}

	created, err := svc.StartConversation(ctx, "buyer-2", "l1")
	if err != nil {
		t.Fatal(err)
	}
	if created.ID == "conv-1" || created.SellerID != "seller" {
		t.Errorf("unexpected new conversation %+v", created)
	}
}

func TestSendMessage_NotifiesRecipient(t *testing.T) {
	notifier := &mockNotifier{}
	edge := &mockEdge{}
	svc, store := newMessagingService(notifier, edge, 5)

	msg, err := svc.SendMessage(context.Background(), "buyer", "conv-1", "  Is this still available?  ")
	if err != nil {
		t.Fatal(err)
	}
	if msg.RecipientID != "seller" || msg.Body != "Is this still available?" || msg.ID == "" {
		t.Errorf("unexpected message %+v", msg)
	}
	if store.touched["conv-1"] != "Is this still available?" {
		t.Errorf("expected conversation preview, got %q", store.touched["conv-1"])
	}
	if len(notifier.sent) != 1 || notifier.sent[0].UserID != "seller" || notifier.sent[0].RelatedID != "conv-1" {
		t.Errorf("expected message notification to seller, got %+v", notifier.sent)
	}
	if len(edge.calls) != 1 || edge.calls[0] != "messaging-notify" {
		t.Errorf("expected messaging-notify edge call, got %v", edge.calls)
	}
}

func TestSendMessage_Validation(t *testing.T) {
	svc, _ := newMessagingService(&mockNotifier{}, nil, 5)
	ctx := context.Background()

	if _, err := svc.SendMessage(ctx, "buyer", "conv-1", "   "); err == nil {
		t.Error("expected empty body to fail")
	}
	if _, err := svc.SendMessage(ctx, "buyer", "conv-1", strings.Repeat("x", domain.MaxMessageLength+1)); err == nil {
		t.Error("expected oversized body to fail")
	}
	_, err := svc.SendMessage(ctx, "stranger", "conv-1", "hello")
	var fe *domain.ErrForbidden
	if !errors.As(err, &fe) {
		t.Errorf("expected forbidden for non-participant, got %v", err)
	}
}

func TestSendMessage_RateLimitedPushes(t *testing.T) {
	notifier := &mockNotifier{}
	edge := &mockEdge{}
	svc, store := newMessagingService(notifier, edge, 1)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := svc.SendMessage(ctx, "buyer", "conv-1", "ping"); err != nil {
			t.Fatal(err)
		}
		if _, err := svc.MarkConversationRead(ctx, "seller", "conv-1"); err != nil {
			t.Fatal(err)
		}
	}
	if len(store.messages) != 3 {
		t.Errorf("expected every message stored, got %d", len(store.messages))
	}
	if len(notifier.sent) != 3 {
		t.Errorf("expected a notification after every read, got %d", len(notifier.sent))
	}
	if len(edge.calls) != 1 {
		t.Errorf("expected a single push within the burst, got %v", edge.calls)
	}
}

func TestSendMessage_NotifiesAgainAfterRead(t *testing.T) {
	notifier := &mockNotifier{}
	svc, _ := newMessagingService(notifier, nil, 1)
	ctx := context.Background()

	svc.SendMessage(ctx, "buyer", "conv-1", "one")
	svc.SendMessage(ctx, "buyer", "conv-1", "two")
	if len(notifier.sent) != 1 {
		t.Fatalf("expected the second message to collapse, got %d notifications", len(notifier.sent))
	}

	if _, err := svc.MarkConversationRead(ctx, "seller", "conv-1"); err != nil {
		t.Fatal(err)
	}
	svc.SendMessage(ctx, "buyer", "conv-1", "three")
	if len(notifier.sent) != 2 || notifier.sent[1].Body != "three" {
		t.Errorf("expected a fresh notification after the read, got %+v", notifier.sent)
	}
}

func TestSendMessage_CollapsedSkipsEdgeFunction(t *testing.T) {
	notifier := &mockNotifier{collapse: true}
	edge := &mockEdge{}
	svc, _ := newMessagingService(notifier, edge, 5)

	if _, err := svc.SendMessage(context.Background(), "buyer", "conv-1", "hello again"); err != nil {
		t.Fatal(err)
	}
	if len(edge.calls) != 0 {
		t.Errorf("expected no edge call for a collapsed notification, got %v", edge.calls)
	}
}

func TestSendMessage_EdgeFailureDoesNotFailSend(t *testing.T) {
	edge := &mockEdge{err: errors.New("edge function 500")}
	svc, _ := newMessagingService(&mockNotifier{}, edge, 5)

	if _, err := svc.SendMessage(context.Background(), "buyer", "conv-1", "hello"); err != nil {
		t.Errorf("expected send to succeed, got %v", err)
	}
}

func TestSendMessage_LongPreviewTruncated(t *testing.T) {
	svc, store := newMessagingService(&mockNotifier{}, nil, 5)

	svc.SendMessage(context.Background(), "buyer", "conv-1", strings.Repeat("é", 200))
	preview := store.touched["conv-1"]
	if n := len([]rune(preview)); n != 80 || !strings.HasSuffix(preview, "…") {
		t.Errorf("expected 80-rune preview ending in an ellipsis, got %d runes", n)
	}
}

func TestMarkConversationRead(t *testing.T) {
	notifier := &mockNotifier{}
	svc, _ := newMessagingService(notifier, nil, 5)
	ctx := context.Background()

	svc.SendMessage(ctx, "buyer", "conv-1", "one")
	svc.SendMessage(ctx, "buyer", "conv-1", "two")

	n, err := svc.MarkConversationRead(ctx, "seller", "conv-1")
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("expected 2 messages read, got %d", n)
	}
	if len(notifier.related) != 1 || notifier.related[0] != "seller|message|conv-1" {
		t.Errorf("expected message notification cleared, got %v", notifier.related)
	}
}
